package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/tomehq/tome/common/clients"
	"github.com/tomehq/tome/common/faults"
)

const xaiBaseURL = "https://api.x.ai/v1"

// OpenAICompatProvider generates text via any OpenAI-compatible chat
// completion endpoint. OpenAI itself and xAI share this implementation;
// only the base URL and the provider name differ.
type OpenAICompatProvider struct {
	name   string
	client *openai.Client
	model  string
	logger clients.Logger
}

// NewOpenAIProvider creates a provider against api.openai.com
func NewOpenAIProvider(apiKey, model string, logger clients.Logger) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:   "openai",
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// NewXAIProvider creates a provider against the xAI endpoint, which is
// OpenAI-compatible
func NewXAIProvider(apiKey, model string, logger clients.Logger) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = xaiBaseURL
	return &OpenAICompatProvider{
		name:   "xai",
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Name identifies the provider in selection logging
func (p *OpenAICompatProvider) Name() string { return p.name }

// Generate sends the prompt as a single user message, requesting native
// JSON mode when structured output is asked for
func (p *OpenAICompatProvider) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	op := "backend." + p.name

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if structured {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(op, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", faults.Wrap(faults.KindMalformedResponse, op, fmt.Errorf("no choices in response"))
	}

	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return faults.FromStatusCode(op, apiErr.HTTPStatusCode, err)
	}
	return faults.Wrap(faults.KindOf(err), op, err)
}
