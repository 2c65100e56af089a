// Package google implements agent.Agent over the Gemini API.
package google

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/flowgraph/flowgraph/flow/agent"
)

// Agent calls the Gemini generative API. Safe for concurrent use.
type Agent struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed agent for the given model, for example
// "gemini-1.5-pro". The client holds a connection; call Close when
// done.
func New(ctx context.Context, apiKey, model string) (*Agent, error) {
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, agent.WrapProviderError("google", err)
	}
	return &Agent{client: client, model: model}, nil
}

// Name returns "google".
func (a *Agent) Name() string { return "google" }

// Invoke generates content for the prompt and concatenates the text
// parts of the first candidate.
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (string, error) {
	model := a.client.GenerativeModel(a.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", agent.WrapProviderError(a.Name(), err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &agent.InvocationError{
			Provider: a.Name(), Code: "empty_response", Retryable: true,
			Cause: errors.New("response contained no candidates"),
		}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", &agent.InvocationError{
			Provider: a.Name(), Code: "empty_response", Retryable: true,
			Cause: errors.New("candidate contained no text parts"),
		}
	}
	return sb.String(), nil
}

// Close releases the underlying client connection.
func (a *Agent) Close() error {
	return a.client.Close()
}
