// Package store keeps the ordered, append-only message log of every patient
// conversation and pushes full snapshots of it to live subscribers.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"prism/pkg"
)

var (
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("message store unavailable")
	// ErrPermissionDenied is returned when the store rejects the credentials
	// or the operation.
	ErrPermissionDenied = errors.New("message store permission denied")
	// ErrEmptyText is returned for messages that are blank after trimming.
	ErrEmptyText = errors.New("message text is empty")
	// ErrInvalidSender is returned for senders other than Clinician or Patient.
	ErrInvalidSender = errors.New("invalid message sender")
	// ErrInvalidPatient is returned when no conversation scope is given.
	ErrInvalidPatient = errors.New("patient id is required")
)

// Store is the message log shared by the clinician and patient views.
type Store interface {
	// Append persists a message; the store assigns its id, timestamp and
	// sequence.  Errors are never retried internally.
	Append(ctx context.Context, patientID string, sender pkg.Sender, text string) (*pkg.Message, error)
	// Snapshot reads the current ordered conversation once.
	Snapshot(ctx context.Context, patientID string) (pkg.Snapshot, error)
	// Subscribe registers a live ordered query.  onSnapshot receives the
	// whole conversation on registration and after every change; onError
	// receives transport failures.  Callbacks of one subscription never run
	// concurrently, must treat the snapshot as read-only, and must not
	// cancel their own subscription.
	Subscribe(patientID string, onSnapshot func(pkg.Snapshot), onError func(error)) Subscription
}

// Subscription is the handle of a live query.
type Subscription interface {
	// Cancel stops delivery.  Once it returns, no callback of the
	// subscription is running or will run.  Cancel is idempotent.
	Cancel()
}

func validateAppend(patientID string, sender pkg.Sender, text string) error {
	if strings.TrimSpace(patientID) == "" {
		return ErrInvalidPatient
	}
	if !sender.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func permissionDenied(err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
}

// Watch exposes a subscription as channels.  The snapshot channel keeps
// only the latest undelivered snapshot.  Both channels are closed after ctx
// is cancelled and the subscription has been released.
func Watch(ctx context.Context, st Store, patientID string) (<-chan pkg.Snapshot, <-chan error) {
	snaps := make(chan pkg.Snapshot, 1)
	errs := make(chan error, 1)

	sub := st.Subscribe(patientID, func(s pkg.Snapshot) {
		for {
			select {
			case snaps <- s:
				return
			default:
			}
			select {
			case <-snaps:
			default:
			}
		}
	}, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	go func() {
		<-ctx.Done()
		sub.Cancel()
		close(snaps)
		close(errs)
	}()
	return snaps, errs
}
