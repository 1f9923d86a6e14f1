package orchestrator

import (
	"fmt"

	"github.com/aescanero/dago-wrap/pkg/flow"
	"github.com/aescanero/dago-wrap/pkg/manifest"
)

// Validator validates wrap manifests before they are built
type Validator struct{}

// NewValidator creates a new manifest validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a manifest and every nested wrap
func (v *Validator) Validate(m *manifest.Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}

	if m.Name == "" {
		return fmt.Errorf("manifest name is required")
	}

	if err := v.validateControls(m.Controls); err != nil {
		return fmt.Errorf("wrap %s: %w", m.Name, err)
	}

	return nil
}

// validateControls validates the controls of one node
func (v *Validator) validateControls(controls []manifest.Control) error {
	keys := make(map[string]bool)
	for i, c := range controls {
		if err := v.validateControl(c); err != nil {
			return fmt.Errorf("invalid control %d (%s): %w", i, c.Key, err)
		}

		// keyless controls merge into the accumulator and may repeat
		if c.Key == "" {
			continue
		}
		if keys[c.Key] {
			return fmt.Errorf("duplicate control key: %s", c.Key)
		}
		keys[c.Key] = true
	}

	return nil
}

// validateControl validates a single control
func (v *Validator) validateControl(c manifest.Control) error {
	if _, err := flow.ParseGroup(c.Group); err != nil {
		return err
	}

	switch c.Type {
	case manifest.TypeStatic:
		if c.Key == "" {
			if _, ok := c.Value.(map[string]interface{}); !ok && c.Value != nil {
				return fmt.Errorf("keyless static control must hold a mapping")
			}
		}
	case manifest.TypeContainer:
	case manifest.TypeScript:
		if c.Script == "" {
			return fmt.Errorf("script is required")
		}
	case manifest.TypeRedis:
		if c.RedisKey == "" {
			return fmt.Errorf("redis_key is required")
		}
	case manifest.TypeLLM:
		if c.Prompt == "" {
			return fmt.Errorf("prompt is required")
		}
		if c.Key == "" {
			return fmt.Errorf("llm control needs a key")
		}
	case manifest.TypeWrap:
		if err := v.validateControls(c.Controls); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("control type is required")
	default:
		return fmt.Errorf("unknown control type: %s", c.Type)
	}

	return nil
}
