package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	minReconnectInterval = 500 * time.Millisecond
	maxReconnectInterval = 30 * time.Second
	listenerPingInterval = 60 * time.Second
)

// EventKind tells what a listener Event reports.
type EventKind int

const (
	// EventNotify carries the patient id of a changed conversation.
	EventNotify EventKind = iota
	// EventReconnected means the listener connection came back; notifications
	// sent while it was down are lost.
	EventReconnected
	// EventDisconnected means the listener connection was lost.
	EventDisconnected
)

// Event is one item of the notification stream.
type Event struct {
	Kind      EventKind
	PatientID string
	Err       error
}

// sqlExecer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Writers
// announce changed conversations and every service instance listens for
// them to refresh its live subscriptions.
type Notifier struct {
	DSN     string
	Channel string
	log     zerolog.Logger
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(dsn, channel string, log zerolog.Logger) *Notifier {
	return &Notifier{
		DSN:     dsn,
		Channel: channel,
		log:     log.With().Str("component", "pg_notifier").Logger(),
	}
}

// Notify sends the patient id on the notification channel.  Inside a
// transaction the notification is delivered when it commits.
func (n *Notifier) Notify(ctx context.Context, ex sqlExecer, patientID string) error {
	_, err := ex.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, patientID)
	return err
}

// Listen opens a dedicated listener connection and streams events until ctx
// is cancelled, which also closes the connection.  The connection is re-established automatically; the
// returned channel is never closed, consumers stop on ctx.
func (n *Notifier) Listen(ctx context.Context) (<-chan Event, error) {
	events := make(chan Event, 16)
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	l := pq.NewListener(n.DSN, minReconnectInterval, maxReconnectInterval, func(kind pq.ListenerEventType, err error) {
		switch kind {
		case pq.ListenerEventDisconnected:
			n.log.Warn().Err(err).Msg("listener disconnected")
			go emit(Event{Kind: EventDisconnected, Err: err})
		case pq.ListenerEventConnectionAttemptFailed:
			n.log.Debug().Err(err).Msg("listener reconnect attempt failed")
		case pq.ListenerEventReconnected:
			n.log.Info().Msg("listener reconnected")
		}
	})
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	// Listen blocks until the first connection is established.
	if err := l.Listen(n.Channel); err != nil {
		return nil, err
	}
	n.log.Info().Str("channel", n.Channel).Msg("listening for conversation changes")

	go func() {
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case note, ok := <-l.Notify:
				if !ok {
					return
				}
				// pq sends nil after re-establishing the connection.
				if note == nil {
					emit(Event{Kind: EventReconnected})
					continue
				}
				emit(Event{Kind: EventNotify, PatientID: note.Extra})
			case <-ticker.C:
				go func() {
					if err := l.Ping(); err != nil {
						n.log.Warn().Err(err).Msg("listener ping failed")
					}
				}()
			}
		}
	}()
	return events, nil
}
