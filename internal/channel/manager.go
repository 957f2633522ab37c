// Package channel binds a mounted conversation view to a live store
// subscription and implements optimistic sending into it.
package channel

import (
	"sync"

	"github.com/rs/zerolog"

	"prism/internal/store"
	"prism/pkg"
)

// NoticeKind classifies a user-visible notification.
type NoticeKind string

const (
	// NoticeTransport reports that the live conversation could not be loaded.
	NoticeTransport NoticeKind = "transport"
	// NoticeSend reports that a message could not be sent.
	NoticeSend NoticeKind = "send"
)

const (
	transportMessage = "Could not load messages."
	sendMessage      = "Could not send message."
)

// Notice is a non-fatal notification shown to the user.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

// NewNotice returns the notice of kind for err.
func NewNotice(kind NoticeKind, err error) Notice {
	msg := transportMessage
	if kind == NoticeSend {
		msg = sendMessage
	}
	return Notice{Kind: kind, Message: msg, Err: err}
}

// View receives everything a mounted conversation displays.  Calls are
// serialised by the Manager and must not call back into it.
type View interface {
	// Render shows the confirmed conversation followed by pending entries.
	Render(pkg.Snapshot)
	// Notify shows a notification.
	Notify(Notice)
}

// binding is one activation of a Manager.  Callbacks of a subscription
// capture the binding they were opened for.
type binding struct {
	patientID string
	sub       store.Subscription
}

// pendingEntry is a message shown before the store confirmed it.
type pendingEntry struct {
	msg         pkg.Message
	confirmedID string
}

// Manager keeps at most one live subscription for the conversation a view
// shows.
type Manager struct {
	st   store.Store
	view View
	log  zerolog.Logger

	mu        sync.Mutex
	current   *binding
	confirmed pkg.Snapshot
	pending   []pendingEntry
}

// NewManager returns an inactive manager rendering into view.
func NewManager(st store.Store, view View, log zerolog.Logger) *Manager {
	return &Manager{
		st:   st,
		view: view,
		log:  log.With().Str("component", "channel").Logger(),
	}
}

// Activate binds the manager to the conversation of patientID.  The
// previous subscription, if any, is cancelled before the new one is opened
// and its pending entries are discarded.  Activating the current
// conversation again does nothing.
func (m *Manager) Activate(patientID string) {
	m.mu.Lock()
	if m.current != nil && m.current.patientID == patientID {
		m.mu.Unlock()
		return
	}
	b := &binding{patientID: patientID}
	old := m.swap(b)
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	sub := m.st.Subscribe(patientID,
		func(snap pkg.Snapshot) { m.deliver(b, snap) },
		func(err error) { m.failed(b, err) },
	)

	m.mu.Lock()
	stale := m.current != b
	if !stale {
		b.sub = sub
	}
	m.mu.Unlock()

	// Replaced by a concurrent Activate or Deactivate before the handle
	// was recorded.
	if stale {
		sub.Cancel()
		return
	}
	m.log.Debug().Str("patient_id", patientID).Msg("conversation activated")
}

// Deactivate cancels the current subscription.  Once it returns the view
// receives nothing from the previous conversation.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	old := m.swap(nil)
	m.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
}

// PatientID returns the conversation the manager is bound to.
func (m *Manager) PatientID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return "", false
	}
	return m.current.patientID, true
}

// swap installs b and returns the subscription of the previous binding.
// m.mu must be held.
func (m *Manager) swap(b *binding) store.Subscription {
	var old store.Subscription
	if m.current != nil {
		old = m.current.sub
	}
	m.current = b
	m.pending = nil
	m.confirmed = pkg.Snapshot{}
	if b != nil {
		m.confirmed.PatientID = b.patientID
	}
	return old
}

func (m *Manager) deliver(b *binding, snap pkg.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != b {
		return
	}
	m.confirmed = snap
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.confirmedID != "" && snap.Contains(p.confirmedID) {
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
	m.render()
}

func (m *Manager) failed(b *binding, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != b {
		return
	}
	m.log.Warn().Err(err).Str("patient_id", b.patientID).Msg("conversation subscription failed")
	m.view.Notify(NewNotice(NoticeTransport, err))
}

// render shows the confirmed snapshot followed by pending entries.  m.mu
// must be held.
func (m *Manager) render() {
	msgs := make([]pkg.Message, 0, len(m.confirmed.Messages)+len(m.pending))
	msgs = append(msgs, m.confirmed.Messages...)
	for _, p := range m.pending {
		msgs = append(msgs, p.msg)
	}
	m.view.Render(pkg.Snapshot{
		PatientID: m.confirmed.PatientID,
		Messages:  msgs,
		Version:   m.confirmed.Version,
	})
}

// addPending records an optimistic entry in the current conversation and
// returns the binding it belongs to.
func (m *Manager) addPending(msg pkg.Message) (*binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, false
	}
	msg.PatientID = m.current.patientID
	m.pending = append(m.pending, pendingEntry{msg: msg})
	m.render()
	return m.current, true
}

// confirmPending ties a pending entry to the id the store assigned.  The
// entry disappears as soon as a snapshot holds that id.
func (m *Manager) confirmPending(b *binding, localID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != b {
		return
	}
	for i := range m.pending {
		if m.pending[i].msg.LocalID != localID {
			continue
		}
		if m.confirmed.Contains(id) {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.render()
			return
		}
		m.pending[i].confirmedID = id
		return
	}
}

// dropPending removes a pending entry whose append failed and tells the
// user.
func (m *Manager) dropPending(b *binding, localID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != b {
		return
	}
	for i := range m.pending {
		if m.pending[i].msg.LocalID == localID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	m.render()
	m.view.Notify(NewNotice(NoticeSend, err))
}
