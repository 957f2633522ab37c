package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"prism/internal/channel"
	"prism/internal/metrics"
	"prism/pkg"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
	maxNotices     = 32
	maxQueuedSends = 64
)

// Client actions of a view session.
const (
	actionOpen  = "open"
	actionClose = "close"
	actionInput = "input"
	actionSend  = "send"
)

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action    string  `json:"action"`
	PatientID string  `json:"patientId,omitempty"`
	Text      *string `json:"text,omitempty"`
}

// Frame is an outbound message to a WebSocket client.
type Frame struct {
	Type     string          `json:"type"`
	Snapshot *pkg.Snapshot   `json:"snapshot,omitempty"`
	Notice   *channel.Notice `json:"notice,omitempty"`
}

// outbox buffers frames for the write pump.  It implements channel.View:
// consecutive snapshots collapse into the latest, so a slow client never
// blocks the conversation it watches.
type outbox struct {
	mu      sync.Mutex
	frames  []Frame
	notices int
	wake    chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

// Render implements channel.View.
func (o *outbox) Render(snap pkg.Snapshot) {
	o.mu.Lock()
	if n := len(o.frames); n > 0 && o.frames[n-1].Type == "snapshot" {
		o.frames[n-1].Snapshot = &snap
	} else {
		o.frames = append(o.frames, Frame{Type: "snapshot", Snapshot: &snap})
	}
	o.mu.Unlock()
	o.signal()
}

// Notify implements channel.View.  Notices beyond maxNotices are dropped
// until the client catches up.
func (o *outbox) Notify(n channel.Notice) {
	o.mu.Lock()
	if o.notices >= maxNotices {
		o.mu.Unlock()
		return
	}
	o.notices++
	o.frames = append(o.frames, Frame{Type: "notice", Notice: &n})
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// drain removes and returns the buffered frames.
func (o *outbox) drain() []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	frames := o.frames
	o.frames = nil
	o.notices = 0
	return frames
}

// session is one WebSocket connection acting as a conversation view for a
// single participant.
type session struct {
	id       string
	conn     *websocket.Conn
	out      *outbox
	manager  *channel.Manager
	composer *channel.Composer
	sends    chan *channel.Outgoing
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	log      zerolog.Logger
}

// handleWebSocket upgrades the connection and runs a view session for the
// participant named by the role query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := pkg.Sender(r.URL.Query().Get("role"))
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "role must be Clinician or Patient.")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the response.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	out := newOutbox()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:     uuid.NewString(),
		conn:   ws,
		out:    out,
		sends:  make(chan *channel.Outgoing, maxQueuedSends),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sess.log = s.log.With().Str("session", sess.id).Str("role", string(role)).Logger()
	sess.manager = channel.NewManager(s.store, out, sess.log)
	sess.composer = channel.NewComposer(sess.manager, role)

	metrics.ViewSessions.Inc()
	sess.log.Debug().Msg("view session opened")

	go s.writePump(sess)
	go s.sendLoop(sess)
	go s.readPump(sess)
}

// readPump reads client actions until the connection fails, then releases
// the session's subscription.
func (s *Server) readPump(sess *session) {
	defer func() {
		sess.cancel()
		sess.manager.Deactivate()
		close(sess.done)
		sess.conn.Close()
		metrics.ViewSessions.Dec()
		sess.log.Debug().Msg("view session closed")
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(2 * s.keepAlive))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(2 * s.keepAlive))
	})

	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}
		s.process(sess, msg)
	}
}

// process applies one client action.  A send shows its pending entry in
// the open conversation right away; the append itself is queued so a slow
// store never holds up later actions.
func (s *Server) process(sess *session, msg ClientMessage) {
	switch msg.Action {
	case actionOpen:
		if msg.PatientID == "" {
			return
		}
		sess.manager.Activate(msg.PatientID)
	case actionClose:
		sess.manager.Deactivate()
	case actionInput:
		if msg.Text != nil {
			sess.composer.SetInput(*msg.Text)
		}
	case actionSend:
		text := sess.composer.Input()
		if msg.Text != nil {
			text = *msg.Text
		}
		out, err := sess.composer.Prepare(text)
		if errors.Is(err, channel.ErrNoConversation) {
			sess.out.Notify(channel.NewNotice(channel.NoticeSend, err))
			return
		}
		if out == nil {
			return
		}
		select {
		case sess.sends <- out:
		case <-sess.ctx.Done():
		}
	}
}

// sendLoop delivers queued messages one at a time, in the order the client
// sent them.
func (s *Server) sendLoop(sess *session) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case out := <-sess.sends:
			ctx, cancel := context.WithTimeout(sess.ctx, s.sendTimeout)
			_ = out.Deliver(ctx)
			cancel()
		}
	}
}

// writePump writes buffered frames and keep-alive pings to the connection.
func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(s.keepAlive)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case <-sess.done:
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-sess.out.wake:
			for _, f := range sess.out.drain() {
				_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := sess.conn.WriteJSON(f); err != nil {
					sess.log.Debug().Err(err).Msg("websocket write failed")
					return
				}
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
