package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TGIClient calls the native /generate endpoint of a Hugging Face
// text-generation-inference server, which is how the gemma models are
// usually served.
type TGIClient struct {
	http *resty.Client
	opts Options
}

type tgiParameters struct {
	MaxNewTokens   int      `json:"max_new_tokens"`
	Temperature    *float32 `json:"temperature,omitempty"`
	ReturnFullText bool     `json:"return_full_text"`
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
}

type tgiResponse struct {
	GeneratedText string `json:"generated_text"`
}

type tgiError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// NewTGIClient builds a client for the server at baseURL.
func NewTGIClient(baseURL, apiKey string, timeout time.Duration, opts Options) *TGIClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c = c.SetAuthToken(apiKey)
	}
	if timeout > 0 {
		c = c.SetTimeout(timeout)
	}
	return &TGIClient{http: c, opts: opts}
}

// Generate returns only the newly generated text, never the echoed prompt.
func (c *TGIClient) Generate(ctx context.Context, prompt string) (string, error) {
	params := tgiParameters{MaxNewTokens: c.opts.MaxTokens}
	// TGI rejects a temperature of exactly zero; leave it unset for greedy decoding
	if c.opts.Temperature > 0 {
		t := c.opts.Temperature
		params.Temperature = &t
	}

	var out tgiResponse
	var apiErr tgiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(tgiRequest{Inputs: prompt, Parameters: params}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/generate")
	if err != nil {
		return "", fmt.Errorf("tgi generate: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("tgi generate: status %d: %s", resp.StatusCode(), msg)
	}
	return out.GeneratedText, nil
}
