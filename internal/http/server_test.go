package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/core"
	"prism/internal/directory"
	"prism/internal/store"
	"prism/pkg"
)

// fakeGateway records the inputs it receives and returns err when set.
type fakeGateway struct {
	mu       sync.Mutex
	inputs   []any
	snapshot *pkg.Snapshot
	err      error
}

func (f *fakeGateway) record(in any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.err
}

func (f *fakeGateway) lastInput() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return nil
	}
	return f.inputs[len(f.inputs)-1]
}

func (f *fakeGateway) GenerateRiskScore(_ context.Context, in pkg.RiskScoreInput) (*pkg.RiskScoreOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	score := 72.0
	return &pkg.RiskScoreOutput{RiskScore: &score, RiskFactors: "Low activity"}, nil
}

func (f *fakeGateway) ExtractTasks(_ context.Context, in pkg.ExtractTasksInput) (*pkg.ExtractTasksOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	return &pkg.ExtractTasksOutput{Tasks: []string{"Walk daily"}}, nil
}

func (f *fakeGateway) ExtractConversationTasks(_ context.Context, snap pkg.Snapshot) (*pkg.ExtractTasksOutput, error) {
	f.mu.Lock()
	f.snapshot = &snap
	f.mu.Unlock()
	if err := f.record(snap); err != nil {
		return nil, err
	}
	return &pkg.ExtractTasksOutput{Tasks: []string{"Take medication"}}, nil
}

func (f *fakeGateway) SuggestInterventions(_ context.Context, in pkg.SuggestInterventionsInput) (*pkg.SuggestInterventionsOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	return &pkg.SuggestInterventionsOutput{Interventions: []pkg.Intervention{
		{Title: "Daily walk", Description: "Walk 15 minutes.", Category: "Lifestyle"},
	}}, nil
}

func (f *fakeGateway) SummarizeProgress(_ context.Context, in pkg.ProgressSummaryInput) (*pkg.ProgressSummaryOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	return &pkg.ProgressSummaryOutput{Summary: "Improving."}, nil
}

func (f *fakeGateway) DescribeVideo(_ context.Context, in pkg.VideoInput) (*pkg.VideoDescriptionOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	return &pkg.VideoDescriptionOutput{Description: "A stormy sea."}, nil
}

func (f *fakeGateway) GenerateVideo(_ context.Context, in pkg.VideoInput) (*pkg.VideoSummaryOutput, error) {
	if err := f.record(in); err != nil {
		return nil, err
	}
	return &pkg.VideoSummaryOutput{VideoURL: "data:video/mp4;base64,AAAA"}, nil
}

// deniedStore rejects every append as the backend would for missing
// privileges.
type deniedStore struct {
	*store.MemoryStore
}

func (deniedStore) Append(context.Context, string, pkg.Sender, string) (*pkg.Message, error) {
	return nil, store.ErrPermissionDenied
}

type testEnv struct {
	store   *store.MemoryStore
	gateway *fakeGateway
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewMemoryStore(1, zerolog.Nop())
	require.NoError(t, err)
	dir, err := directory.NewFixtureRepository()
	require.NoError(t, err)
	gw := &fakeGateway{}
	return &testEnv{
		store:   st,
		gateway: gw,
		server:  NewServer(st, dir, gw, Options{}, zerolog.Nop()),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPatients(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/patients", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]pkg.Patient](t, rec), 5)

	rec = env.do(t, http.MethodGet, "/api/patients/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode[pkg.PatientData](t, rec)
	assert.Equal(t, "John Doe", data.Patient.Name)
	assert.Len(t, data.Tasks, 3)

	rec = env.do(t, http.MethodGet, "/api/patients/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Error)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[pkg.Dashboard](t, rec)
	assert.Equal(t, 4, d.TotalPatients)
	assert.Equal(t, 2, d.AtRisk)
	assert.Equal(t, 2, d.OnTrack)
	assert.Equal(t, 5, d.OpenTasks)
	assert.Equal(t, 2, d.CompletedTasks)
	require.Len(t, d.RecentTasks, 5)
	assert.Equal(t, "t1", d.RecentTasks[0].ID)
	assert.Equal(t, "John Doe", d.RecentTasks[0].PatientName)
}

func TestMessagesRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/patients/1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[pkg.Snapshot](t, rec).Messages)

	rec = env.do(t, http.MethodPost, "/api/patients/1/messages", `{"sender":"Patient","text":"hi doc"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[pkg.Message](t, rec)
	assert.NotEmpty(t, msg.ID)
	assert.NotNil(t, msg.Timestamp)
	assert.Equal(t, pkg.StatusConfirmed, msg.Status)

	rec = env.do(t, http.MethodGet, "/api/patients/1/messages", "")
	snap := decode[pkg.Snapshot](t, rec)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi doc", snap.Messages[0].Text)
	assert.Equal(t, pkg.SenderPatient, snap.Messages[0].Sender)
	assert.Equal(t, int64(1), snap.Version)
}

func TestPostMessageErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients/1/messages", `{"sender":"Patient","text":"   "}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/patients/1/messages", `{"sender":"Bot","text":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/patients/1/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	snap, err := env.store.Snapshot(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)

	require.NoError(t, env.store.Close())
	rec = env.do(t, http.MethodPost, "/api/patients/1/messages", `{"sender":"Patient","text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Could not load messages.", decode[errorResponse](t, rec).Message)
}

func TestPostMessagePermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	dir, err := directory.NewFixtureRepository()
	require.NoError(t, err)
	srv := NewServer(deniedStore{env.store}, dir, env.gateway, Options{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/patients/1/messages", strings.NewReader(`{"sender":"Clinician","text":"hello"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestFlowsUseDirectoryData(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients/1/ai/risk-score", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[pkg.RiskScoreOutput](t, rec)
	require.NotNil(t, out.RiskScore)
	assert.Equal(t, 72.0, *out.RiskScore)
	in := env.gateway.lastInput().(pkg.RiskScoreInput)
	assert.Contains(t, in.PatientData, "- Name: John Doe")
	assert.Contains(t, in.PatientData, "Recent Health Data")

	rec = env.do(t, http.MethodPost, "/api/patients/1/ai/interventions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, env.gateway.lastInput().(pkg.SuggestInterventionsInput).PatientData, "Current Risk Score: 78%")

	rec = env.do(t, http.MethodPost, "/api/patients/1/ai/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := env.gateway.lastInput().(pkg.ProgressSummaryInput)
	assert.Equal(t, "John Doe", summary.PatientName)
	assert.Contains(t, summary.Tasks, "(Completed: ")

	rec = env.do(t, http.MethodPost, "/api/patients/2/ai/video-description", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pkg.VideoInput{PatientName: "Jane Smith", PatientStatus: pkg.PatientOnTrack, RiskScore: 45},
		env.gateway.lastInput())

	rec = env.do(t, http.MethodPost, "/api/patients/3/ai/video", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(decode[pkg.VideoSummaryOutput](t, rec).VideoURL, "data:"))

	rec = env.do(t, http.MethodPost, "/api/patients/99/ai/risk-score", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasksFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/patients/1/ai/tasks", `{"conversationTranscript":"Doctor: walk daily"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pkg.ExtractTasksInput{ConversationTranscript: "Doctor: walk daily"}, env.gateway.lastInput())

	_, err := env.store.Append(context.Background(), "1", pkg.SenderClinician, "Take your medication")
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/patients/1/ai/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Take medication"}, decode[pkg.ExtractTasksOutput](t, rec).Tasks)
	require.NotNil(t, env.gateway.snapshot)
	require.Len(t, env.gateway.snapshot.Messages, 1)
	assert.Equal(t, "Take your medication", env.gateway.snapshot.Messages[0].Text)
}

func TestFlowErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{
			name:    "invalid input",
			err:     &core.GatewayError{Flow: core.FlowRiskScore, Kind: core.KindInvalidInput, Message: "Field PatientData failed the \"required\" check."},
			status:  http.StatusBadRequest,
			code:    "invalid_input",
			message: "Field PatientData failed the \"required\" check.",
		},
		{
			name:    "timeout",
			err:     &core.GatewayError{Flow: core.FlowVideoSummary, Kind: core.KindTimeout, Message: "Video generation timed out. Please try again."},
			status:  http.StatusGatewayTimeout,
			code:    "timeout",
			message: "Video generation timed out. Please try again.",
		},
		{
			name:    "billing",
			err:     &core.GatewayError{Flow: core.FlowVideoSummary, Kind: core.KindBilling, Err: errors.New("billing enabled")},
			status:  http.StatusBadGateway,
			code:    "billing",
			message: core.BillingMessage,
		},
		{
			name:    "failed",
			err:     &core.GatewayError{Flow: core.FlowRiskScore, Kind: core.KindFailed, Err: errors.New("boom")},
			status:  http.StatusBadGateway,
			code:    "failed",
			message: "Could not analyze the patient's risk. Please try again.",
		},
		{
			name:    "untyped",
			err:     errors.New("boom"),
			status:  http.StatusInternalServerError,
			code:    "internal",
			message: "Internal server error.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gateway.err = tt.err

			rec := env.do(t, http.MethodPost, "/api/patients/1/ai/risk-score", "")
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, originChecker([]string{"*"})(req))
	assert.False(t, originChecker([]string{"https://app.example"})(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, originChecker([]string{"https://app.example"})(req))
}
