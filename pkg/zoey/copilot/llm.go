// Package copilot – llm.go implements the completion collaborator used for
// free-form replies and relay rewrites. It speaks the OpenAI chat completions
// API, which also works with compatible proxies.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoResponder is returned when no completion provider is configured.
var ErrNoResponder = errors.New("no completion provider configured")

// Responder generates natural-language replies.
type Responder interface {
	GenerateReply(ctx context.Context, userName, text string, hints []string) (string, error)
}

// LLMClient is a Responder backed by a chat completions endpoint.
type LLMClient struct {
	client       openai.Client
	model        string
	instructions string
	name         string
	logger       *slog.Logger
}

// NewLLMClient creates a client from config. It returns ErrNoResponder when
// no API key is available.
func NewLLMClient(cfg *Config, logger *slog.Logger) (*LLMClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		return nil, ErrNoResponder
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.API.APIKey),
		option.WithRequestTimeout(60 * time.Second),
		option.WithMaxRetries(2),
	}
	if cfg.API.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.API.BaseURL, "/")+"/"))
	}

	model := cfg.API.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMClient{
		client:       openai.NewClient(opts...),
		model:        model,
		instructions: cfg.Instructions,
		name:         cfg.Name,
		logger:       logger.With("component", "llm"),
	}, nil
}

// GenerateReply answers text from userName. Hints are appended to the system
// prompt as behavioural instructions.
func (c *LLMClient) GenerateReply(ctx context.Context, userName, text string, hints []string) (string, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt(userName, hints)),
			openai.UserMessage(text),
		},
		Model: openai.ChatModel(c.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty response")
	}

	c.logger.Debug("completion received",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *LLMClient) systemPrompt(userName string, hints []string) string {
	var b strings.Builder
	if c.name != "" {
		fmt.Fprintf(&b, "Your name is %s. ", c.name)
	}
	b.WriteString(c.instructions)
	if userName != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s.", userName)
	}
	for _, h := range hints {
		b.WriteString("\n")
		b.WriteString(h)
	}
	return b.String()
}

// relayPrompt asks the responder to deliver message from sender to its
// recipient in second person.
func relayPrompt(from, message string) string {
	return fmt.Sprintf("Rephrase the following message so it is addressed directly to its recipient "+
		"in second person, and say it is from %s. Reply with the rephrased message only.\n\nMessage: %s",
		from, message)
}
