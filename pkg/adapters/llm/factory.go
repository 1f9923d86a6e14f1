package llm

import (
	"fmt"

	"github.com/aescanero/dago-wrap/pkg/adapters/llm/anthropic"
	"github.com/aescanero/dago-wrap/pkg/controls"
	"go.uber.org/zap"
)

// Config holds LLM client configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
	Logger    *zap.Logger
}

// NewCompleter creates a completer based on provider
func NewCompleter(cfg *Config) (controls.Completer, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
