package rewrite

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wordgate/apiserver/config"
)

const (
	systemPrompt  = "You are a helpful assistant that rewrites text so it reads as natural human writing."
	rewritePrompt = "Rewrite the following text with varied sentence length and structure, keeping its meaning. Reply with the rewritten text only."
)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewClient constructs a rewrite client from config. The per-call deadline
// comes from the caller's context; the HTTP timeout is a backstop.
func NewClient(cfg config.RewriteConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("rewrite base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	apiConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiConfig.HTTPClient = &http.Client{Timeout: timeout + 5*time.Second}

	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &Client{
		api:         openai.NewClientWithConfig(apiConfig),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Rewrite returns text rewritten by the model. style, if set, is appended to
// the instruction.
func (c *Client) Rewrite(ctx context.Context, text, style string) (string, error) {
	instruction := rewritePrompt
	if style = strings.TrimSpace(style); style != "" {
		instruction += " Style: " + style + "."
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: instruction + "\n\n" + text},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("rewrite service returned status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("rewrite request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("rewrite service returned no choices")
	}

	result := strings.TrimSpace(resp.Choices[0].Message.Content)
	if result == "" {
		return "", errors.New("rewrite service returned empty text")
	}
	return result, nil
}
