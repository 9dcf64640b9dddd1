// Package llm turns a finished interview into a structured Report using an
// external reasoning provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is a reasoning backend that answers with a JSON document.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}

// ProviderError is returned by providers for failures they can classify.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Provider + " error: " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Provider + " error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Error codes shared by providers.
const (
	ErrCodeAPIKey       = "invalid_api_key"
	ErrCodeRateLimit    = "rate_limit_exceeded"
	ErrCodeServiceDown  = "service_unavailable"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeTimeout      = "timeout"
	ErrCodeEmpty        = "empty_response"
)

// Config selects and configures a provider.
type Config struct {
	Provider string // "openai" (any OpenAI-compatible endpoint) or "gemini"
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Default models per provider.
const (
	DefaultOpenAIBaseURL = "https://api.groq.com/openai/v1"
	DefaultOpenAIModel   = "llama-3.3-70b-versatile"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

// ErrNotConfigured is returned by NewProvider when no credential is set.
var ErrNotConfigured = errors.New("evaluation provider is not configured")

// NewProvider builds the provider named in cfg. A missing API key yields
// ErrNotConfigured so callers can fall back to an unconfigured Evaluator.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, nil)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
