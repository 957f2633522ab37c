package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"prism/internal/db"
	"prism/internal/metrics"
	"prism/pkg"
)

const backendPostgres = "postgres"

// PostgresStore keeps conversations in the patient_messages table and
// learns about writes from other instances through LISTEN/NOTIFY.
type PostgresStore struct {
	repo     *db.Repository
	notifier *db.Notifier
	hub      *hub
	log      zerolog.Logger
}

// NewPostgresStore returns a store over repo.  Live subscriptions only see
// writes of other instances while Run is running.
func NewPostgresStore(repo *db.Repository, notifier *db.Notifier, log zerolog.Logger) *PostgresStore {
	s := &PostgresStore{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "postgres_store").Logger(),
	}
	s.hub = newHub(s.load, s.log)
	return s
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, patientID string, sender pkg.Sender, text string) (*pkg.Message, error) {
	if err := validateAppend(patientID, sender, text); err != nil {
		return nil, err
	}
	m, err := s.repo.CreateMessage(ctx, patientID, sender, strings.TrimSpace(text))
	if err != nil {
		err = classifyPQ(err)
		metrics.AppendErrors.WithLabelValues(backendPostgres, reason(err)).Inc()
		return nil, err
	}
	metrics.MessagesAppended.WithLabelValues(backendPostgres, string(sender)).Inc()
	// Local subscribers do not wait for the notification round trip.
	go s.hub.refresh(context.Background(), patientID)
	return m, nil
}

// Snapshot implements Store.
func (s *PostgresStore) Snapshot(ctx context.Context, patientID string) (pkg.Snapshot, error) {
	msgs, err := s.load(ctx, patientID)
	if err != nil {
		return pkg.Snapshot{}, err
	}
	return pkg.NewSnapshot(patientID, msgs), nil
}

// Subscribe implements Store.
func (s *PostgresStore) Subscribe(patientID string, onSnapshot func(pkg.Snapshot), onError func(error)) Subscription {
	return s.hub.subscribe(patientID, onSnapshot, onError)
}

// Run consumes change notifications until ctx is cancelled.
func (s *PostgresStore) Run(ctx context.Context) error {
	if s.notifier == nil {
		<-ctx.Done()
		return nil
	}
	events, err := s.notifier.Listen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return classifyPQ(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Kind {
			case db.EventNotify:
				s.hub.refresh(ctx, ev.PatientID)
			case db.EventReconnected:
				s.hub.refreshAll(ctx)
			case db.EventDisconnected:
				s.hub.failAll(unavailable(ev.Err))
			}
		}
	}
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return classifyPQ(err)
	}
	return nil
}

func (s *PostgresStore) load(ctx context.Context, patientID string) ([]pkg.Message, error) {
	msgs, err := s.repo.GetTranscript(ctx, patientID)
	if err != nil {
		return nil, classifyPQ(err)
	}
	return msgs, nil
}

// classifyPQ maps driver errors onto ErrUnavailable and ErrPermissionDenied.
// Other errors are returned unchanged.
func classifyPQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch class := pqErr.Code.Class(); {
		case pqErr.Code == "42501", class == "28":
			return permissionDenied(err)
		case class == "08", class == "53", class == "57":
			return unavailable(err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return unavailable(err)
	}
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
