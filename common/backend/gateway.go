package backend

import (
	"context"
	"fmt"

	"github.com/tomehq/tome/common/config"
	"github.com/tomehq/tome/common/faults"
	"github.com/tomehq/tome/common/logger"
)

// Provider is one interchangeable text-generation backend. Implementations
// return plain text and classify their failures into fault kinds; they
// never interpret the text they return.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, structured bool) (string, error)
}

// Gateway exposes the selected provider as a uniform generation
// capability. Selection happens once at construction: the priority order
// is evaluated against present credentials, with the no-credential local
// provider as the final fallback. Callers interpret and validate the
// returned text themselves.
type Gateway struct {
	provider Provider
	log      *logger.Logger
}

// New builds a gateway from configuration. Priority: explicit override,
// then Anthropic, xAI, OpenAI by credential presence, then Ollama.
func New(cfg config.BackendConfig, log *logger.Logger) (*Gateway, error) {
	provider, err := selectProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	log.Info("backend selected", "provider", provider.Name())

	return &Gateway{provider: provider, log: log}, nil
}

// NewWithProvider wires an explicit provider. Used by tests and by the
// selection logic itself.
func NewWithProvider(p Provider, log *logger.Logger) *Gateway {
	return &Gateway{provider: p, log: log}
}

func selectProvider(cfg config.BackendConfig, log *logger.Logger) (Provider, error) {
	// candidate is one entry in the startup priority list: the first
	// whose credential check passes wins.
	type candidate struct {
		name    string
		present func() bool
		build   func() Provider
	}

	candidates := []candidate{
		{
			name:    "anthropic",
			present: func() bool { return cfg.AnthropicKey != "" },
			build:   func() Provider { return NewAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel, log) },
		},
		{
			name:    "xai",
			present: func() bool { return cfg.XAIKey != "" },
			build:   func() Provider { return NewXAIProvider(cfg.XAIKey, cfg.XAIModel, log) },
		},
		{
			name:    "openai",
			present: func() bool { return cfg.OpenAIKey != "" },
			build:   func() Provider { return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel, log) },
		},
		{
			name:    "ollama",
			present: func() bool { return true }, // no credential needed
			build:   func() Provider { return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, log) },
		},
	}

	if cfg.Override != "" {
		for _, c := range candidates {
			if c.name == cfg.Override {
				if !c.present() {
					return nil, fmt.Errorf("backend %q selected but its credential is missing", cfg.Override)
				}
				return c.build(), nil
			}
		}
		return nil, fmt.Errorf("unknown backend override: %s", cfg.Override)
	}

	for _, c := range candidates {
		if c.present() {
			return c.build(), nil
		}
	}

	// Unreachable: ollama is always present
	return nil, fmt.Errorf("no backend available")
}

// ProviderName reports which provider was selected at startup
func (g *Gateway) ProviderName() string {
	return g.provider.Name()
}

// Generate produces text for the prompt. The structured flag asks the
// provider for machine-parseable output where it supports that natively;
// the gateway itself does not validate the shape.
func (g *Gateway) Generate(ctx context.Context, prompt string, structured bool) (string, error) {
	text, err := g.provider.Generate(ctx, prompt, structured)
	if err != nil {
		g.log.Warn("generation failed",
			"provider", g.provider.Name(),
			"kind", faults.KindOf(err),
			"error", err)
		return "", err
	}

	return text, nil
}
