package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"prism/internal/directory"
	"prism/pkg"
)

// postMessageRequest is the body of POST /api/patients/{id}/messages.
type postMessageRequest struct {
	Sender pkg.Sender `json:"sender"`
	Text   string     `json:"text"`
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.directory.List())
}

// handleDashboard returns the clinician overview counts.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, directory.Summarize(s.directory))
}

// handleGetPatient returns everything the dashboard shows for one patient.
func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// patientData looks up the patient of the request path and writes a 404
// when it is unknown.
func (s *Server) patientData(w http.ResponseWriter, r *http.Request) (*pkg.PatientData, bool) {
	data, ok := s.directory.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Patient not found.")
		return nil, false
	}
	return data, true
}

// handleListMessages returns the current conversation once.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handlePostMessage appends a message.  Blank text is accepted and ignored
// so that an empty submit is not an error.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON.")
		return
	}
	if !req.Sender.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "sender must be Clinician or Patient.")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msg, err := s.store.Append(r.Context(), chi.URLParam(r, "id"), req.Sender, req.Text)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
