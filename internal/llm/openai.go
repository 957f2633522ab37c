// Package llm talks to the hosted generative models: an OpenAI compatible
// chat completion API for text flows and a long-running video API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model answers without content.
var ErrEmptyResponse = errors.New("model returned no content")

// Request is one structured generation.  System and Prompt become the
// system and user messages; when Schema is set the model is asked for a
// JSON object matching it.
type Request struct {
	System string
	Prompt string
	Schema any
	// Model overrides the client's default model.
	Model string
}

// Client defines the methods required by the content flows.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config holds the OpenAI credentials and the default model.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient calls the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs an OpenAI-backed LLM client.  The model falls
// back to a small general model.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		// default to a modern small model; can be overridden via env
		model = "gpt-4o-mini"
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
}

// Generate sends one system and one user message and returns the
// assistant's content.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	system := req.System
	var format *openai.ChatCompletionResponseFormat
	if req.Schema != nil {
		schema, err := json.Marshal(GenerateSchemaFrom(req.Schema))
		if err != nil {
			return "", fmt.Errorf("encode schema: %w", err)
		}
		system = strings.TrimSpace(system + "\n\nRespond only with a JSON object that matches this JSON schema:\n" + string(schema))
		format = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          model,
		Messages:       msgs,
		Temperature:    0.2,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateSchemaFrom reflects the JSON schema of v.  Additional properties
// are rejected and definitions are inlined.
func GenerateSchemaFrom(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}
