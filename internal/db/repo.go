package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"prism/pkg"
)

// Repository wraps database operations for patient conversations.
type Repository struct {
	DB       *sql.DB
	Notifier *Notifier
}

// NewRepository constructs a new Repository from an existing sql.DB.  When
// notifier is not nil every created message is announced on its channel.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB, notifier *Notifier) *Repository {
	return &Repository{DB: db, Notifier: notifier}
}

// CreateMessage stores a new message in the conversation of patientID.  The
// insert and its notification commit together, so listeners never see a
// notification for a row they cannot read yet.
func (r *Repository) CreateMessage(ctx context.Context, patientID string, sender pkg.Sender, text string) (*pkg.Message, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New()
	var seq int64
	var createdAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`INSERT INTO patient_messages (id, patient_id, sender, text)
         VALUES ($1, $2, $3, $4)
         RETURNING seq, created_at`,
		id, patientID, string(sender), text,
	).Scan(&seq, &createdAt)
	if err != nil {
		return nil, err
	}
	if r.Notifier != nil {
		if err := r.Notifier.Notify(ctx, tx, patientID); err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	m := pkg.NewConfirmed(id.String(), patientID, sender, text, createdAt.Time, seq)
	return &m, nil
}

// GetTranscript returns every message of a patient ordered by creation time,
// with the insertion sequence breaking ties.
func (r *Repository) GetTranscript(ctx context.Context, patientID string) ([]pkg.Message, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, sender, text, created_at, seq
         FROM patient_messages
         WHERE patient_id = $1
         ORDER BY created_at ASC, seq ASC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcript []pkg.Message
	for rows.Next() {
		var (
			id        uuid.UUID
			sender    string
			text      string
			createdAt sql.NullTime
			seq       int64
		)
		if err := rows.Scan(&id, &sender, &text, &createdAt, &seq); err != nil {
			return nil, err
		}
		transcript = append(transcript, pkg.NewConfirmed(id.String(), patientID, pkg.Sender(sender), text, createdAt.Time, seq))
	}
	return transcript, rows.Err()
}

// Ping verifies the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}
