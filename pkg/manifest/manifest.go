// Package manifest describes composite nodes declaratively and builds them.
//
// A manifest is a YAML (or JSON) document:
//
//	name: profile
//	defaults:
//	  locale: en
//	controls:
//	  - key: user
//	    type: redis
//	    redis_key: user:42
//	  - key: greeting
//	    group: series
//	    type: script
//	    script: '"hello " + content.user.name'
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aescanero/dago-wrap/pkg/flow"
	"github.com/aescanero/dago-wrap/pkg/wrap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest cannot be decoded
var ErrInvalidManifest = errors.New("invalid manifest")

// Control types
const (
	TypeStatic    = "static"
	TypeContainer = "container"
	TypeScript    = "script"
	TypeRedis     = "redis"
	TypeLLM       = "llm"
	TypeWrap      = "wrap"
)

// Manifest is the declarative form of a composite node
type Manifest struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	ID          string                 `yaml:"id,omitempty" json:"id,omitempty"`
	Selector    string                 `yaml:"selector,omitempty" json:"selector,omitempty"`
	Place       string                 `yaml:"place,omitempty" json:"place,omitempty"`
	Editable    bool                   `yaml:"editable,omitempty" json:"editable,omitempty"`
	Defaults    map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Controls    []Control              `yaml:"controls" json:"controls"`
}

// Control declares one child of a composite node
type Control struct {
	Key      string `yaml:"key,omitempty" json:"key,omitempty"`
	Group    string `yaml:"group,omitempty" json:"group,omitempty"`
	Type     string `yaml:"type" json:"type"`
	ID       string `yaml:"id,omitempty" json:"id,omitempty"`
	Place    string `yaml:"place,omitempty" json:"place,omitempty"`
	Editable bool   `yaml:"editable,omitempty" json:"editable,omitempty"`

	// static
	Value interface{} `yaml:"value,omitempty" json:"value,omitempty"`

	// script
	Script string `yaml:"script,omitempty" json:"script,omitempty"`

	// redis
	RedisKey string `yaml:"redis_key,omitempty" json:"redis_key,omitempty"`
	Hash     bool   `yaml:"hash,omitempty" json:"hash,omitempty"`

	// llm
	Prompt    string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// wrap
	Defaults map[string]interface{} `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Controls []Control              `yaml:"controls,omitempty" json:"controls,omitempty"`
}

// ControlFactory creates the control declared by c. Nested wraps are built by
// Build itself and never reach the factory.
type ControlFactory interface {
	New(c Control) (wrap.Loadable, error)
}

// Parse decodes a YAML or JSON manifest
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

// LoadFile reads and decodes a manifest file
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// LoadDir loads every *.yaml, *.yml and *.json manifest of dir, sorted by
// file name
func LoadDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	manifests := make([]*Manifest, 0, len(names))
	for _, name := range names {
		m, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Build creates the composite node described by m. Every nested wrap is
// built with the same factory and options.
func Build(m *Manifest, factory ControlFactory, opts ...wrap.Option) (*wrap.Node, error) {
	node := wrap.New(opts...)
	if m.ID != "" {
		node.SetID(m.ID)
	}
	if m.Selector != "" {
		node.SetSelector(m.Selector)
	}
	node.Defaults(m.Defaults)

	if err := addControls(node, m.Controls, factory, opts); err != nil {
		return nil, fmt.Errorf("failed to build %q: %w", m.Name, err)
	}

	if m.Editable {
		node.SetEditable(true)
	}
	if m.Place != "" {
		node.SetPlace(m.Place)
	}
	return node, nil
}

func addControls(node *wrap.Node, controls []Control, factory ControlFactory, opts []wrap.Option) error {
	for i, c := range controls {
		group, err := flow.ParseGroup(c.Group)
		if err != nil {
			return fmt.Errorf("control %d (%s): %w", i, c.Key, err)
		}

		unit, err := buildControl(c, factory, opts)
		if err != nil {
			return fmt.Errorf("control %d (%s): %w", i, c.Key, err)
		}

		if err := node.Add(c.Key, unit, group); err != nil {
			return fmt.Errorf("control %d (%s): %w", i, c.Key, err)
		}
	}
	return nil
}

func buildControl(c Control, factory ControlFactory, opts []wrap.Option) (wrap.Loadable, error) {
	if c.Type != TypeWrap {
		return factory.New(c)
	}

	nested := wrap.New(opts...)
	if c.ID != "" {
		nested.SetID(c.ID)
	}
	nested.Defaults(c.Defaults)
	if err := addControls(nested, c.Controls, factory, opts); err != nil {
		return nil, err
	}
	if c.Editable {
		nested.SetEditable(true)
	}
	if c.Place != "" {
		nested.SetPlace(c.Place)
	}
	return nested, nil
}
