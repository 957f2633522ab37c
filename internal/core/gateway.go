// Package core implements the generative content flows: each validates its
// input, renders a prompt, makes one model request and validates the typed
// result.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"prism/internal/llm"
	"prism/internal/metrics"
	"prism/pkg"
)

// Config tunes a Gateway.
type Config struct {
	// SummaryModel overrides the model of the progress summary flow.
	SummaryModel string
	Poll         PollPolicy
}

// Gateway runs the generative flows against the hosted models.
type Gateway struct {
	llm          llm.Client
	video        llm.VideoClient
	validate     *validator.Validate
	summaryModel string
	poll         PollPolicy
	log          zerolog.Logger
}

// NewGateway constructs a gateway.  video may be nil when video generation
// is not configured.
func NewGateway(client llm.Client, video llm.VideoClient, cfg Config, log zerolog.Logger) *Gateway {
	return &Gateway{
		llm:          client,
		video:        video,
		validate:     validator.New(),
		summaryModel: cfg.SummaryModel,
		poll:         cfg.Poll,
		log:          log.With().Str("component", "gateway").Logger(),
	}
}

// flow describes one structured generation.
type flow struct {
	name   string
	system string
	prompt *template.Template
	model  string
}

// runFlow validates in, renders the prompt, asks the model for an Out and
// validates it.
func runFlow[Out any](ctx context.Context, g *Gateway, f flow, in any) (out *Out, err error) {
	defer g.observe(f.name, time.Now(), &err)

	if err := g.validateInput(f.name, in); err != nil {
		return nil, err
	}
	prompt, err := render(f.prompt, in)
	if err != nil {
		return nil, gatewayError(f.name, KindFailed, err)
	}

	out = new(Out)
	raw, err := g.llm.Generate(ctx, llm.Request{System: f.system, Prompt: prompt, Schema: out, Model: f.model})
	if err != nil {
		return nil, gatewayError(f.name, KindFailed, err)
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), out); err != nil {
		return nil, gatewayError(f.name, KindInvalidResponse, fmt.Errorf("decode response: %w", err))
	}
	if err := g.validate.Struct(out); err != nil {
		return nil, gatewayError(f.name, KindInvalidResponse, err)
	}
	return out, nil
}

func (g *Gateway) validateInput(flow string, in any) error {
	err := g.validate.Struct(in)
	if err == nil {
		return nil
	}
	msg := "The request is invalid."
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg = fmt.Sprintf("Field %s failed the %q check.", fe.Field(), fe.Tag())
	}
	return &GatewayError{Flow: flow, Kind: KindInvalidInput, Message: msg, Err: err}
}

func (g *Gateway) observe(flow string, start time.Time, errp *error) {
	outcome := "ok"
	if err := *errp; err != nil {
		outcome = string(KindFailed)
		var gerr *GatewayError
		if errors.As(err, &gerr) {
			outcome = string(gerr.Kind)
		}
		g.log.Warn().Err(err).Str("flow", flow).Str("outcome", outcome).Msg("flow failed")
	}
	metrics.GatewayRequests.WithLabelValues(flow, outcome).Inc()
	metrics.GatewayDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// GenerateRiskScore scores a patient's readmission risk.
func (g *Gateway) GenerateRiskScore(ctx context.Context, in pkg.RiskScoreInput) (*pkg.RiskScoreOutput, error) {
	return runFlow[pkg.RiskScoreOutput](ctx, g, flow{name: FlowRiskScore, system: riskSystem, prompt: riskPrompt}, in)
}

// ExtractTasks lists the actionable tasks of a conversation transcript.
func (g *Gateway) ExtractTasks(ctx context.Context, in pkg.ExtractTasksInput) (*pkg.ExtractTasksOutput, error) {
	return runFlow[pkg.ExtractTasksOutput](ctx, g, flow{name: FlowExtractTasks, system: tasksSystem, prompt: tasksPrompt}, in)
}

// ExtractConversationTasks extracts tasks from the confirmed messages of a
// live conversation.
func (g *Gateway) ExtractConversationTasks(ctx context.Context, snap pkg.Snapshot) (*pkg.ExtractTasksOutput, error) {
	transcript := ConversationTranscript(snap.Messages)
	if transcript == "" {
		return nil, &GatewayError{Flow: FlowExtractTasks, Kind: KindInvalidInput, Message: "Transcript is empty."}
	}
	return g.ExtractTasks(ctx, pkg.ExtractTasksInput{ConversationTranscript: transcript})
}

// SuggestInterventions recommends clinical interventions.
func (g *Gateway) SuggestInterventions(ctx context.Context, in pkg.SuggestInterventionsInput) (*pkg.SuggestInterventionsOutput, error) {
	return runFlow[pkg.SuggestInterventionsOutput](ctx, g, flow{name: FlowInterventions, system: interventionsSystem, prompt: interventionsPrompt}, in)
}

// SummarizeProgress writes a short progress summary for a clinician.
func (g *Gateway) SummarizeProgress(ctx context.Context, in pkg.ProgressSummaryInput) (*pkg.ProgressSummaryOutput, error) {
	return runFlow[pkg.ProgressSummaryOutput](ctx, g, flow{name: FlowProgressSummary, system: summarySystem, prompt: summaryPrompt, model: g.summaryModel}, in)
}

// DescribeVideo writes a one-sentence description of a symbolic video of
// the patient's status.
func (g *Gateway) DescribeVideo(ctx context.Context, in pkg.VideoInput) (*pkg.VideoDescriptionOutput, error) {
	return runFlow[pkg.VideoDescriptionOutput](ctx, g, flow{name: FlowVideoDescription, system: videoSystem, prompt: videoDescriptionPrompt},
		videoPromptData{VideoInput: in, Lead: "The video should be"})
}
