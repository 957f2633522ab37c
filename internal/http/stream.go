package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"prism/internal/channel"
	"prism/internal/metrics"
	"prism/internal/store"
)

// handleStreamMessages streams the conversation using SSE.  A snapshot
// event carries the whole conversation on connect and after every change;
// a notice event reports that the live query failed.  The stream ends when
// the client disconnects; the server's write timeout is replaced by a
// deadline per event.
func (s *Server) handleStreamMessages(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	patientID := chi.URLParam(r, "id")
	ctx := r.Context()

	rc := http.NewResponseController(w)
	extend := func() {
		if err := rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.log.Debug().Err(err).Msg("could not extend stream write deadline")
		}
	}
	extend()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.ViewSessions.Inc()
	defer metrics.ViewSessions.Dec()

	log := s.log.With().Str("patient_id", patientID).Logger()
	log.Debug().Msg("conversation stream opened")
	defer log.Debug().Msg("conversation stream closed")

	snaps, errs := store.Watch(ctx, s.store, patientID)
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			extend()
			err = writeEvent(w, "snapshot", snap)
		case serr, ok := <-errs:
			if !ok {
				return
			}
			extend()
			err = writeEvent(w, "notice", channel.NewNotice(channel.NoticeTransport, serr))
		case <-ticker.C:
			extend()
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err != nil {
			log.Debug().Err(err).Msg("conversation stream write failed")
			return
		}
		flusher.Flush()
	}
}

// writeEvent writes one SSE event with a JSON payload.
func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
