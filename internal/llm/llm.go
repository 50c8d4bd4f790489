// Package llm wraps the text-generation backends used to write advice and
// SOAP notes.
package llm

import (
	"fmt"

	"github.com/rs/zerolog"

	"patient-summary-agent/internal/config"
)

// New builds the backend selected by cfg.LLMBackend and wraps it in
// retries.
func New(cfg *config.Config, logger zerolog.Logger) (Client, error) {
	opts := Options{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.LLMTemperature,
	}

	var base Client
	switch cfg.LLMBackend {
	case config.BackendOpenAI:
		base = NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMTimeout, opts)
	case config.BackendTGI:
		base = NewTGIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, opts)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.LLMBackend)
	}

	logger.Info().
		Str("backend", cfg.LLMBackend).
		Str("model", opts.Model).
		Int("max_tokens", opts.MaxTokens).
		Msg("llm client ready")

	return NewRetrying(base, cfg.LLMRetryAttempts, 0, logger.With().Str("component", "llm").Logger()), nil
}
