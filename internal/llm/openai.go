package llm

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a client. Empty baseURL and model use the Groq defaults.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	config.BaseURL = baseURL
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

func (c *OpenAI) Name() string { return "openai" }

// Complete sends one system and one user message and returns the raw JSON answer.
func (c *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
		MaxTokens:   4096,
	})
	if err != nil {
		return "", &ProviderError{Provider: c.Name(), Code: classifyOpenAI(ctx, err), Message: "chat completion failed", Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: c.Name(), Code: ErrCodeEmpty, Message: "received empty response"}
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAI(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return ErrCodeTimeout
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrCodeAPIKey
		case http.StatusTooManyRequests:
			return ErrCodeRateLimit
		case http.StatusBadRequest:
			return ErrCodeInvalidInput
		}
	}
	return ErrCodeServiceDown
}
