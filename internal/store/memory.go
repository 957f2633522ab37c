package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"prism/internal/metrics"
	"prism/pkg"
)

const backendMemory = "memory"

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the timestamp source of a MemoryStore.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// MemoryStore keeps conversations in process memory.  It is used in
// development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	logs   map[string][]pkg.Message
	seq    int64
	closed bool

	node *snowflake.Node
	now  func() time.Time
	hub  *hub
	log  zerolog.Logger
}

// NewMemoryStore returns an empty store whose message ids come from the
// snowflake node nodeID.
func NewMemoryStore(nodeID int64, log zerolog.Logger, opts ...MemoryOption) (*MemoryStore, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	s := &MemoryStore{
		logs: make(map[string][]pkg.Message),
		node: node,
		now:  time.Now,
		log:  log.With().Str("component", "memory_store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.load, s.log)
	return s, nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, patientID string, sender pkg.Sender, text string) (*pkg.Message, error) {
	if err := validateAppend(patientID, sender, text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.AppendErrors.WithLabelValues(backendMemory, "unavailable").Inc()
		return nil, ErrUnavailable
	}
	s.seq++
	m := pkg.NewConfirmed(s.node.Generate().String(), patientID, sender, strings.TrimSpace(text), s.now(), s.seq)
	s.logs[patientID] = append(s.logs[patientID], m)
	snap := pkg.NewSnapshot(patientID, s.logs[patientID])
	s.mu.Unlock()

	metrics.MessagesAppended.WithLabelValues(backendMemory, string(sender)).Inc()
	s.hub.publish(snap)
	return &m, nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(ctx context.Context, patientID string) (pkg.Snapshot, error) {
	msgs, err := s.load(ctx, patientID)
	if err != nil {
		return pkg.Snapshot{}, err
	}
	return pkg.NewSnapshot(patientID, msgs), nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(patientID string, onSnapshot func(pkg.Snapshot), onError func(error)) Subscription {
	return s.hub.subscribe(patientID, onSnapshot, onError)
}

func (s *MemoryStore) load(_ context.Context, patientID string) ([]pkg.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrUnavailable
	}
	out := make([]pkg.Message, len(s.logs[patientID]))
	copy(out, s.logs[patientID])
	return out, nil
}

// Ping reports whether the store accepts operations.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrUnavailable
	}
	return nil
}

// Close makes the store unavailable.  Subscribers receive ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.failAll(ErrUnavailable)
	return nil
}
