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

// OllamaProvider generates text via a local Ollama instance. It is the
// no-credential fallback at the bottom of the selection order.
type OllamaProvider struct {
	baseURL string
	model   string
	http    *clients.HTTPClient
}

// NewOllamaProvider creates an Ollama provider
func NewOllamaProvider(baseURL, model string, logger clients.Logger) *OllamaProvider {
	return &OllamaProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    clients.NewHTTPClient(&http.Client{Timeout: 120 * time.Second}, logger),
	}
}

// Name identifies the provider in selection logging
func (p *OllamaProvider) Name() string { return "ollama" }

// Generate calls the non-streaming generate endpoint, requesting JSON
// format when structured output is asked for
func (p *OllamaProvider) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	const op = "backend.ollama"

	payload := map[string]interface{}{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
	}
	if structured {
		payload["format"] = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", faults.Wrap(faults.KindInternal, op, err)
	}

	resp, err := p.http.DoRequest(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body), map[string]string{
		"content-type": "application/json",
	})
	if err != nil {
		return "", faults.Wrap(faults.KindOf(err), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", faults.FromStatusCode(op, resp.StatusCode,
			fmt.Errorf("ollama responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var data struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", faults.Wrap(faults.KindMalformedResponse, op, err)
	}
	if data.Response == "" {
		return "", faults.Wrap(faults.KindMalformedResponse, op, fmt.Errorf("empty response"))
	}

	return data.Response, nil
}
