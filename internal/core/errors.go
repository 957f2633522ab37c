package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed generative flow.
type ErrorKind string

const (
	KindFailed          ErrorKind = "failed"
	KindInvalidInput    ErrorKind = "invalid_input"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindTimeout         ErrorKind = "timeout"
	KindBilling         ErrorKind = "billing"
)

// BillingMessage is shown when the video model refuses to run for an account
// without billing.
const BillingMessage = "Video generation requires a Google Cloud project with billing enabled. Please enable billing in your GCP console to use this feature."

// Flow names used in errors, logs and metrics.
const (
	FlowRiskScore        = "risk-score"
	FlowExtractTasks     = "extract-tasks"
	FlowInterventions    = "suggest-interventions"
	FlowProgressSummary  = "progress-summary"
	FlowVideoDescription = "video-description"
	FlowVideoSummary     = "video-summary"
)

var failureMessages = map[string]string{
	FlowRiskScore:        "Could not analyze the patient's risk. Please try again.",
	FlowExtractTasks:     "Could not extract tasks from the transcript. Please try again.",
	FlowInterventions:    "Could not generate intervention suggestions. Please try again.",
	FlowProgressSummary:  "Could not generate patient summary. Please try again.",
	FlowVideoDescription: "Could not generate the video description. Please try again.",
	FlowVideoSummary:     "Could not generate the video summary. This is an experimental feature and may fail. Please try again.",
}

// GatewayError is returned by every flow of the Gateway.
type GatewayError struct {
	Flow    string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Flow, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Flow, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// UserMessage returns the text shown to the user for this failure.
func (e *GatewayError) UserMessage() string {
	if e.Kind == KindBilling {
		return BillingMessage
	}
	if e.Message != "" {
		return e.Message
	}
	if msg, ok := failureMessages[e.Flow]; ok {
		return msg
	}
	return "The request failed. Please try again."
}

// IsBilling reports whether err is the billing configuration failure of the
// video model.
func IsBilling(err error) bool {
	if err == nil {
		return false
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) && gerr.Kind == KindBilling {
		return true
	}
	return mentionsBilling(err)
}

func mentionsBilling(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "billing enabled")
}

// gatewayError wraps err for flow, deriving its kind.
func gatewayError(flow string, kind ErrorKind, err error) *GatewayError {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	switch {
	case mentionsBilling(err):
		kind = KindBilling
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &GatewayError{Flow: flow, Kind: kind, Message: failureMessages[flow], Err: err}
}
