// Package openai implements agent.Agent over the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/flowgraph/flowgraph/flow/agent"
)

// Agent calls the OpenAI Chat Completions API. Safe for concurrent use.
type Agent struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed agent for the given model, for example
// "gpt-4o".
func New(apiKey, model string) (*Agent, error) {
	if apiKey == "" {
		return nil, errors.New("api key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &Agent{client: &client, model: model}, nil
}

// Name returns "openai".
func (a *Agent) Name() string { return "openai" }

// Invoke sends the request as a chat completion and returns the first
// choice's content.
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.System),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(req.Prompt),
			},
		},
	})

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(a.model),
		Messages: messages,
	})
	if err != nil {
		return "", agent.WrapProviderError(a.Name(), err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", &agent.InvocationError{
			Provider: a.Name(), Code: "empty_response", Retryable: true,
			Cause: errors.New("completion contained no choices"),
		}
	}
	return completion.Choices[0].Message.Content, nil
}
