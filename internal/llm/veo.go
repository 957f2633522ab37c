package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultVideoBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultVideoModel   = "veo-2.0-generate-001"
	maxVideoBytes       = 64 << 20
)

// VideoParams are the generation settings of one video.
type VideoParams struct {
	Prompt          string
	DurationSeconds int
	AspectRatio     string
}

// Operation is the state of a long-running video generation.
type Operation struct {
	Name     string
	Done     bool
	Err      *OperationError
	VideoURI string
	MimeType string
}

// OperationError is the failure reported by a finished operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed (%d): %s", e.Code, e.Message)
}

// APIError is a non-2xx answer of the video API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("video api: %s", e.Status)
	}
	return fmt.Sprintf("video api: %s: %s", e.Status, e.Message)
}

// VideoClient starts and follows long-running video generations.
type VideoClient interface {
	StartVideo(ctx context.Context, p VideoParams) (*Operation, error)
	CheckOperation(ctx context.Context, op *Operation) (*Operation, error)
	Download(ctx context.Context, op *Operation) (data []byte, contentType string, err error)
}

// VideoConfig configures a VeoClient.
type VideoConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// VeoClient calls the Gemini API video models over REST.
type VeoClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
	model   string
}

// NewVeoClient constructs a video client.
func NewVeoClient(cfg VideoConfig, hc *http.Client) *VeoClient {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultVideoBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultVideoModel
	}
	return &VeoClient{http: hc, apiKey: cfg.APIKey, baseURL: base, model: model}
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type operationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MimeType string `json:"mimeType"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (r *operationResponse) operation() *Operation {
	op := &Operation{Name: r.Name, Done: r.Done, Err: r.Error}
	for _, s := range r.Response.GenerateVideoResponse.GeneratedSamples {
		if s.Video.URI != "" {
			op.VideoURI = s.Video.URI
			op.MimeType = s.Video.MimeType
			break
		}
	}
	return op
}

// StartVideo submits a generation and returns the pending operation.
func (c *VeoClient) StartVideo(ctx context.Context, p VideoParams) (*Operation, error) {
	body, err := json.Marshal(predictRequest{
		Instances:  []predictInstance{{Prompt: p.Prompt}},
		Parameters: predictParameters{AspectRatio: p.AspectRatio, DurationSeconds: p.DurationSeconds},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, url.PathEscape(c.model))
	var resp operationResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" {
		return nil, fmt.Errorf("video api returned no operation")
	}
	return resp.operation(), nil
}

// CheckOperation fetches the current state of op.
func (c *VeoClient) CheckOperation(ctx context.Context, op *Operation) (*Operation, error) {
	var resp operationResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/"+op.Name, nil, &resp); err != nil {
		return nil, err
	}
	return resp.operation(), nil
}

// Download fetches the video of a finished operation.  Generated file
// links are short lived and require the API key.
func (c *VeoClient) Download(ctx context.Context, op *Operation) ([]byte, string, error) {
	if op.VideoURI == "" {
		return nil, "", fmt.Errorf("operation %s has no video", op.Name)
	}
	sep := "?"
	if strings.Contains(op.VideoURI, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, op.VideoURI+sep+"key="+url.QueryEscape(c.apiKey), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, "", &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Message: "failed to download video"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes))
	if err != nil {
		return nil, "", err
	}

	contentType := op.MimeType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "video/mp4"
	}
	return data, contentType, nil
}

func (c *VeoClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var env struct {
			Error OperationError `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	return json.Unmarshal(raw, out)
}
