package controls

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/aescanero/dago-wrap/pkg/wrap"
)

// Completer turns a prompt into text
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a single prompt sent to a Completer
type CompletionRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
}

// Completion renders a prompt template against the accumulator and loads
// the completion of that prompt
type Completion struct {
	Base
	completer Completer
	prompt    *template.Template
	model     string
	maxTokens int
}

// NewCompletion parses prompt as a text/template. Model and maxTokens may be
// left empty to use the completer defaults.
func NewCompletion(completer Completer, prompt, model string, maxTokens int) (*Completion, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt: %w", err)
	}
	return &Completion{
		completer: completer,
		prompt:    tmpl,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Load renders the prompt from the accumulator and returns the completion text
func (c *Completion) Load(ctx context.Context, content *wrap.Content) (interface{}, error) {
	data := map[string]interface{}{}
	if content != nil {
		data = content.Snapshot()
	}

	var buf bytes.Buffer
	if err := c.prompt.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	text, err := c.completer.Complete(ctx, CompletionRequest{
		Prompt:    buf.String(),
		Model:     c.model,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	return text, nil
}
