// Package anthropic implements a completer backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/dago-wrap/pkg/controls"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

// Config holds the client settings. Empty fields fall back to defaults.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// Client completes prompts with the Messages API
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewClient creates a client. Extra request options are appended after the
// API key, e.g. option.WithBaseURL.
func NewClient(cfg Config, logger *zap.Logger, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	requestOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)

	return &Client{
		client:    anthropic.NewClient(requestOpts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Complete sends the prompt as a single user message and returns the text
// blocks of the reply
func (c *Client) Complete(ctx context.Context, req controls.CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	c.logger.Debug("completion received",
		zap.String("model", model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	return b.String(), nil
}
