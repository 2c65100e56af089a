// Package anthropic implements agent.Agent over Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowgraph/flowgraph/flow/agent"
)

const defaultMaxTokens = 4096

// Agent calls the Anthropic Messages API. Safe for concurrent use.
type Agent struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates an Anthropic-backed agent for the given model, for
// example "claude-sonnet-4-20250514".
func New(apiKey, model string) (*Agent, error) {
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Agent{
		client:    &client,
		model:     model,
		maxTokens: defaultMaxTokens,
	}, nil
}

// Name returns "anthropic".
func (a *Agent) Name() string { return "anthropic" }

// Invoke sends the prompt as a user message and concatenates the text
// blocks of the response.
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", agent.WrapProviderError(a.Name(), err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &agent.InvocationError{
			Provider: a.Name(), Code: "empty_response", Retryable: true,
			Cause: errors.New("response contained no text blocks"),
		}
	}
	return sb.String(), nil
}
