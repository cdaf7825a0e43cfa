package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tomehq/tome/common/clients"
	"github.com/tomehq/tome/common/faults"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// AnthropicProvider generates text via the Anthropic Messages API
type AnthropicProvider struct {
	apiKey  string
	model   string
	baseURL string
	http    *clients.HTTPClient
}

// NewAnthropicProvider creates an Anthropic provider
func NewAnthropicProvider(apiKey, model string, logger clients.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicAPI,
		http:    clients.NewHTTPClient(&http.Client{Timeout: 120 * time.Second}, logger),
	}
}

// Name identifies the provider in selection logging
func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate sends the prompt as a single user message. Anthropic has no
// native JSON mode, so structured requests get a system nudge instead;
// the caller validates the shape either way.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	const op = "backend.anthropic"

	payload := map[string]interface{}{
		"model":      p.model,
		"max_tokens": 4096,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if structured {
		payload["system"] = "Respond with valid JSON only. No prose, no code fences."
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", faults.Wrap(faults.KindInternal, op, err)
	}

	resp, err := p.http.DoRequest(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body), map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	})
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", faults.FromStatusCode(op, resp.StatusCode,
			fmt.Errorf("anthropic responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var data anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", faults.Wrap(faults.KindMalformedResponse, op, err)
	}

	var blocks []string
	for _, block := range data.Content {
		if block.Type == "text" {
			blocks = append(blocks, block.Text)
		}
	}
	if len(blocks) == 0 {
		return "", faults.Wrap(faults.KindMalformedResponse, op, fmt.Errorf("no text content in response"))
	}

	return strings.Join(blocks, "\n"), nil
}
