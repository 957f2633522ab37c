package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/pkg"
)

const loadTimeout = 10 * time.Second

// loader reads the full ordered conversation of one patient.
type loader func(ctx context.Context, patientID string) ([]pkg.Message, error)

// hub tracks live subscriptions per patient and fans snapshots out to them.
// Every backend shares it; backends differ only in how they learn that a
// conversation changed.
type hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{} // patient id -> subscriptions
	load   loader
	log    zerolog.Logger
}

func newHub(load loader, log zerolog.Logger) *hub {
	return &hub{
		topics: make(map[string]map[*subscription]struct{}),
		load:   load,
		log:    log,
	}
}

// subscribe registers a subscription and primes it with the current
// conversation.  The first snapshot is delivered asynchronously.
func (h *hub) subscribe(patientID string, onSnapshot func(pkg.Snapshot), onError func(error)) *subscription {
	s := newSubscription(patientID, onSnapshot, onError, h.remove)

	h.mu.Lock()
	if h.topics[patientID] == nil {
		h.topics[patientID] = make(map[*subscription]struct{})
	}
	h.topics[patientID][s] = struct{}{}
	h.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	go s.run()
	go h.prime(s)
	return s
}

func (h *hub) prime(s *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	msgs, err := h.load(ctx, s.patientID)
	if err != nil {
		h.log.Warn().Err(err).Str("patient_id", s.patientID).Msg("initial snapshot failed")
		s.fail(err)
		return
	}
	s.offer(pkg.NewSnapshot(s.patientID, msgs))
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[s.patientID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, s.patientID)
	}
	metrics.ActiveSubscriptions.Dec()
}

func (h *hub) subscribers(patientID string) []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := make([]*subscription, 0, len(h.topics[patientID]))
	for s := range h.topics[patientID] {
		subs = append(subs, s)
	}
	return subs
}

func (h *hub) patients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.topics))
	for id := range h.topics {
		ids = append(ids, id)
	}
	return ids
}

// publish hands an already loaded snapshot to the patient's subscribers.
func (h *hub) publish(snap pkg.Snapshot) {
	for _, s := range h.subscribers(snap.PatientID) {
		s.offer(snap)
	}
}

// refresh reloads a conversation and publishes it.  Nothing is read when
// nobody is subscribed.
func (h *hub) refresh(ctx context.Context, patientID string) {
	subs := h.subscribers(patientID)
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	msgs, err := h.load(ctx, patientID)
	if err != nil {
		h.log.Warn().Err(err).Str("patient_id", patientID).Msg("snapshot refresh failed")
		for _, s := range subs {
			s.fail(err)
		}
		return
	}
	snap := pkg.NewSnapshot(patientID, msgs)
	for _, s := range subs {
		s.offer(snap)
	}
}

// refreshAll reloads every subscribed conversation, used after a change
// feed reconnects and may have missed notifications.
func (h *hub) refreshAll(ctx context.Context) {
	for _, id := range h.patients() {
		h.refresh(ctx, id)
	}
}

// failAll reports a transport failure to every subscriber.
func (h *hub) failAll(err error) {
	for _, id := range h.patients() {
		for _, s := range h.subscribers(id) {
			s.fail(err)
		}
	}
}

type event struct {
	snap *pkg.Snapshot
	err  error
}

// subscription delivers events of one live query in order on its own
// goroutine.  Undelivered snapshots are coalesced since each one carries
// the whole conversation.
type subscription struct {
	patientID  string
	onSnapshot func(pkg.Snapshot)
	onError    func(error)
	release    func(*subscription)

	mu        sync.Mutex // held while a callback runs
	cancelled bool

	qmu     sync.Mutex
	queue   []event
	offered int64

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

func newSubscription(patientID string, onSnapshot func(pkg.Snapshot), onError func(error), release func(*subscription)) *subscription {
	return &subscription{
		patientID:  patientID,
		onSnapshot: onSnapshot,
		onError:    onError,
		release:    release,
		offered:    -1,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// offer queues a snapshot unless a snapshot at least as new was already
// queued.
func (s *subscription) offer(snap pkg.Snapshot) bool {
	s.qmu.Lock()
	if snap.Version <= s.offered {
		s.qmu.Unlock()
		return false
	}
	s.offered = snap.Version
	if n := len(s.queue); n > 0 && s.queue[n-1].snap != nil {
		s.queue[n-1] = event{snap: &snap}
	} else {
		s.queue = append(s.queue, event{snap: &snap})
	}
	s.qmu.Unlock()

	s.signal()
	return true
}

func (s *subscription) fail(err error) {
	s.qmu.Lock()
	if n := len(s.queue); n > 0 && s.queue[n-1].err != nil {
		s.queue[n-1] = event{err: err}
	} else {
		s.queue = append(s.queue, event{err: err})
	}
	s.qmu.Unlock()

	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (event, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()

	if len(s.queue) == 0 {
		return event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscription) run() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			s.dispatch(ev)
		}
	}
}

func (s *subscription) dispatch(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return
	}
	if ev.err != nil {
		if s.onError != nil {
			s.onError(ev.err)
		}
		return
	}
	s.onSnapshot(*ev.snap)
	metrics.SnapshotsDelivered.Inc()
}

// Cancel implements Subscription.
func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()

		close(s.stop)
		s.release(s)
	})
}
