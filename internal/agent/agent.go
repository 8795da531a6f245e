// Package agent wraps the external language-model capability behind a small
// interface. The orchestration engine treats the agent as opaque: it accepts
// a prompt plus system prompt and returns text, optionally incrementally.
// Two providers are implemented, both as plain HTTP clients.
package agent

import (
	"context"
	"fmt"
	"strings"

	"personaut/internal/config"
)

// Agent is the language-model capability the engine suspends on. Calls may
// take arbitrarily long and may fail or hang; callers always pass a ctx
// with a ceiling.
type Agent interface {
	// Complete sends a prompt and returns the full reply.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system message.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Stream sends a prompt and invokes onDelta with each text fragment as
	// it arrives, returning the assembled reply at the end.
	Stream(ctx context.Context, systemPrompt, userPrompt string, onDelta func(delta string)) (string, error)
}

// New builds an Agent from config.
func New(cfg config.Config) (Agent, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.RequestTimeout(),
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.RequestTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
