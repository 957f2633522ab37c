package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"prism/internal/core"
	"prism/pkg"
)

func (s *Server) handleRiskScore(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	out, err := s.gateway.GenerateRiskScore(r.Context(), pkg.RiskScoreInput{
		PatientData: core.RiskPatientData(data.Patient, data.HealthData),
	})
	s.respondFlow(w, r, out, err)
}

func (s *Server) handleInterventions(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	out, err := s.gateway.SuggestInterventions(r.Context(), pkg.SuggestInterventionsInput{
		PatientData: core.InterventionPatientData(data.Patient),
	})
	s.respondFlow(w, r, out, err)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	out, err := s.gateway.SummarizeProgress(r.Context(), pkg.ProgressSummaryInput{
		PatientName: data.Patient.Name,
		HealthData:  core.HealthDataSummary(data.HealthData),
		Tasks:       core.TaskSummary(data.Tasks),
	})
	s.respondFlow(w, r, out, err)
}

// handleTasks extracts tasks from the transcript in the body, or from the
// live conversation when no transcript is given.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	var req pkg.ExtractTasksInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON.")
		return
	}
	if strings.TrimSpace(req.ConversationTranscript) != "" {
		out, err := s.gateway.ExtractTasks(r.Context(), req)
		s.respondFlow(w, r, out, err)
		return
	}

	snap, err := s.store.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out, err := s.gateway.ExtractConversationTasks(r.Context(), snap)
	s.respondFlow(w, r, out, err)
}

func (s *Server) handleVideoDescription(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	out, err := s.gateway.DescribeVideo(r.Context(), videoInput(data.Patient))
	s.respondFlow(w, r, out, err)
}

// handleVideo blocks until the video is generated or the gateway gives up.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	data, ok := s.patientData(w, r)
	if !ok {
		return
	}
	out, err := s.gateway.GenerateVideo(r.Context(), videoInput(data.Patient))
	s.respondFlow(w, r, out, err)
}

func videoInput(p pkg.Patient) pkg.VideoInput {
	return pkg.VideoInput{PatientName: p.Name, PatientStatus: p.Status, RiskScore: float64(p.RiskScore)}
}

func (s *Server) respondFlow(w http.ResponseWriter, r *http.Request, out any, err error) {
	if err != nil {
		s.gatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
