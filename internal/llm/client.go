// ABOUTME: Inference backend client speaking the OpenAI chat-completions API
// ABOUTME: Works against any compatible server (Ollama included) via a configurable base URL

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxrelay/voxrelay/internal/backend"
	"github.com/voxrelay/voxrelay/internal/store"
)

// Config holds the inference backend settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Client implements backend.Inferencer on an OpenAI-compatible endpoint.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Client. BaseURL may point at a local Ollama or any other
// server exposing the chat-completions API.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: slog.Default().With("component", "llm"),
	}
}

// Infer sends the assembled context and returns the generated reply.
// Timeouts and 5xx/429 responses surface as transient errors; 4xx responses
// are permanent rejections.
func (c *Client) Infer(ctx context.Context, systemPrompt string, history []*store.Message, userText string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", backend.Transient(errors.New("empty completion response"))
	}

	c.logger.Debug("completion finished",
		"model", c.cfg.Model,
		"history_len", len(history),
		"duration", time.Since(started))
	return resp.Choices[0].Message.Content, nil
}

// classify maps API failures onto the retry taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= http.StatusInternalServerError:
			return backend.Transient(err)
		case apiErr.HTTPStatusCode >= http.StatusBadRequest:
			return backend.Permanent(err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return backend.Transient(err)
	}
	// Network failures and timeouts
	return backend.Transient(fmt.Errorf("inference request: %w", err))
}

func chatRole(role string) string {
	switch role {
	case store.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case store.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
