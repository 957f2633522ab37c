package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"prism/internal/channel"
	"prism/internal/core"
	"prism/internal/store"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// decodeBody decodes an optional JSON body into v.  An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// storeError maps a message store failure to a response.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidSender), errors.Is(err, store.ErrEmptyText), errors.Is(err, store.ErrInvalidPatient):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", "Permission denied.")
	case errors.Is(err, store.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", channel.NewNotice(channel.NoticeTransport, err).Message)
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("message store request failed")
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
	}
}

// gatewayError maps a generative flow failure to a response.
func (s *Server) gatewayError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *core.GatewayError
	if !errors.As(err, &gerr) {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("generative flow failed")
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error.")
		return
	}
	status := http.StatusBadGateway
	switch gerr.Kind {
	case core.KindInvalidInput:
		status = http.StatusBadRequest
	case core.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, string(gerr.Kind), gerr.UserMessage())
}
