package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"prism/internal/llm"
	"prism/pkg"
)

// PollPolicy bounds how a long-running video operation is followed.
type PollPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	MaxWait    time.Duration
}

// DefaultPollPolicy checks after 5s, backs off by half each time up to 30s
// and gives up after 5 minutes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Initial:    5 * time.Second,
		Multiplier: 1.5,
		Max:        30 * time.Second,
		MaxWait:    5 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.MaxWait <= 0 {
		p.MaxWait = d.MaxWait
	}
	return p
}

// next returns the interval following cur.
func (p PollPolicy) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * p.Multiplier)
	if n > p.Max {
		return p.Max
	}
	return n
}

var errVideoTimeout = errors.New("video generation did not finish in time")

// GenerateVideo renders a short symbolic video of the patient's status and
// returns it as a data URI.  The operation is polled according to the
// gateway's PollPolicy.
func (g *Gateway) GenerateVideo(ctx context.Context, in pkg.VideoInput) (out *pkg.VideoSummaryOutput, err error) {
	const flow = FlowVideoSummary
	defer g.observe(flow, time.Now(), &err)

	if g.video == nil {
		return nil, &GatewayError{Flow: flow, Kind: KindFailed, Message: "Video generation is not configured.", Err: errors.New("no video client")}
	}
	if err := g.validateInput(flow, in); err != nil {
		return nil, err
	}
	prompt, err := render(videoPrompt, videoPromptData{VideoInput: in, Lead: "Create"})
	if err != nil {
		return nil, gatewayError(flow, KindFailed, err)
	}

	log := g.log.With().Str("flow", flow).Str("patient", in.PatientName).Logger()
	op, err := g.video.StartVideo(ctx, llm.VideoParams{Prompt: prompt, DurationSeconds: 5, AspectRatio: "16:9"})
	if err != nil {
		return nil, gatewayError(flow, KindFailed, err)
	}
	log.Info().Str("operation", op.Name).Msg("video generation submitted")

	op, err = g.await(ctx, op)
	if err != nil {
		if errors.Is(err, errVideoTimeout) {
			return nil, &GatewayError{Flow: flow, Kind: KindTimeout, Message: "Video generation timed out. Please try again.", Err: err}
		}
		return nil, gatewayError(flow, KindFailed, err)
	}
	if op.Err != nil {
		return nil, gatewayError(flow, KindFailed, fmt.Errorf("failed to generate video: %w", op.Err))
	}

	data, contentType, err := g.video.Download(ctx, op)
	if err != nil {
		return nil, gatewayError(flow, KindFailed, err)
	}
	log.Info().Int("bytes", len(data)).Msg("video generation finished")

	out = &pkg.VideoSummaryOutput{
		VideoURL: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	if err := g.validate.Struct(out); err != nil {
		return nil, gatewayError(flow, KindInvalidResponse, err)
	}
	return out, nil
}

// await polls op until it is done, ctx ends or the policy's wait limit is
// reached.
func (g *Gateway) await(ctx context.Context, op *llm.Operation) (*llm.Operation, error) {
	policy := g.poll.withDefaults()
	deadline := time.Now().Add(policy.MaxWait)
	interval := policy.Initial

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for !op.Done {
		if time.Now().Add(interval).After(deadline) {
			return nil, errVideoTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, err := g.video.CheckOperation(ctx, op)
		if err != nil {
			return nil, err
		}
		op = next
		interval = policy.next(interval)
		timer.Reset(interval)
	}
	return op, nil
}
