package channel

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"prism/pkg"
)

// ErrNoConversation is returned when sending while no conversation is
// active.
var ErrNoConversation = errors.New("no active conversation")

// Composer holds the input buffer of one participant and sends its
// contents into the manager's current conversation.
type Composer struct {
	m      *Manager
	sender pkg.Sender

	mu    sync.Mutex
	input string
}

// NewComposer returns a composer writing as sender.
func NewComposer(m *Manager, sender pkg.Sender) *Composer {
	return &Composer{m: m, sender: sender}
}

// SetInput replaces the input buffer.
func (c *Composer) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the input buffer.
func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit sends the input buffer.
func (c *Composer) Submit(ctx context.Context) error {
	return c.Send(ctx, c.Input())
}

// Send appends text to the active conversation.  Blank text is ignored.
// Otherwise a pending entry is shown until the store confirms the write;
// on failure the entry is removed, the view is notified and the store error
// is returned.
func (c *Composer) Send(ctx context.Context, text string) error {
	out, err := c.Prepare(text)
	if err != nil || out == nil {
		return err
	}
	return out.Deliver(ctx)
}

// Outgoing is a message shown as pending and bound to the conversation that
// was active when it was prepared.
type Outgoing struct {
	c       *Composer
	b       *binding
	localID string
	text    string
}

// Prepare shows text as a pending entry of the active conversation without
// contacting the store.  It returns nil for blank text.  The input buffer
// is cleared when it holds text, so an unrelated draft survives.
func (c *Composer) Prepare(text string) (*Outgoing, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	localID := uuid.NewString()
	b, ok := c.m.addPending(pkg.NewPending(localID, "", c.sender, text))
	if !ok {
		return nil, ErrNoConversation
	}

	c.mu.Lock()
	if c.input == text {
		c.input = ""
	}
	c.mu.Unlock()

	return &Outgoing{c: c, b: b, localID: localID, text: text}, nil
}

// Deliver appends the message to the conversation it was prepared for,
// even if the manager has switched since.
func (o *Outgoing) Deliver(ctx context.Context) error {
	m := o.c.m
	msg, err := m.st.Append(ctx, o.b.patientID, o.c.sender, o.text)
	if err != nil {
		m.log.Warn().Err(err).Str("patient_id", o.b.patientID).Msg("send failed")
		m.dropPending(o.b, o.localID, err)
		return err
	}
	m.confirmPending(o.b, o.localID, msg.ID)
	return nil
}
