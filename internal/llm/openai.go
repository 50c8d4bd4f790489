package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model answers without any choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Client generates a completion for a single prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options are the sampling settings shared by every backend.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// OpenAIClient talks to any OpenAI-compatible chat completion API: OpenAI
// itself, vLLM, Groq, or text-generation-inference's /v1 route.
type OpenAIClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIClient constructs an OpenAI-backed client.  An empty baseURL keeps
// the library default.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration, opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

// Generate sends the prompt as a single user message and returns the first
// choice.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
