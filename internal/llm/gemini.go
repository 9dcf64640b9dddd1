package llm

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genai"
)

// Gemini talks to the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a client. httpClient may be nil.
func NewGemini(ctx context.Context, apiKey, modelName string, httpClient *http.Client) (*Gemini, error) {
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Code: ErrCodeAPIKey, Message: "failed to create client", Err: err}
	}
	return &Gemini{client: client, model: modelName}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Complete sends the combined prompt in JSON mode.
func (g *Gemini) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	result, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(systemPrompt+"\n\n"+userPrompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		code := ErrCodeServiceDown
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			code = ErrCodeTimeout
		}
		return "", &ProviderError{Provider: g.Name(), Code: code, Message: "generate content failed", Err: err}
	}
	if result == nil {
		return "", &ProviderError{Provider: g.Name(), Code: ErrCodeEmpty, Message: "no response generated"}
	}
	text, err := result.Text()
	if err != nil {
		return "", &ProviderError{Provider: g.Name(), Code: ErrCodeInvalidInput, Message: "failed to extract response text", Err: err}
	}
	if text == "" {
		return "", &ProviderError{Provider: g.Name(), Code: ErrCodeEmpty, Message: "received empty response"}
	}
	return text, nil
}
