package action

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Actions []catalogEntry `yaml:"actions"`
}

type catalogEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Kind        Kind        `yaml:"kind"`
	Keywords    []string    `yaml:"keywords"`
	Explain     *bool       `yaml:"explain"`
	Parameters  []Parameter `yaml:"parameters"`
	Config      yaml.Node   `yaml:"config"`
}

// ParseCatalog decodes a YAML catalog into Actions. Each entry's config block
// is decoded into the variant matching its kind.
func ParseCatalog(data []byte) ([]*Action, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	actions := make([]*Action, 0, len(f.Actions))
	for _, e := range f.Actions {
		cfg, err := decodeConfig(e.Kind, &e.Config)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", e.ID, err)
		}
		a := &Action{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Kind:        e.Kind,
			Keywords:    e.Keywords,
			Parameters:  e.Parameters,
			Config:      cfg,
			Explain:     e.Kind == KindLLMTask,
		}
		if e.Explain != nil {
			a.Explain = *e.Explain
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func decodeConfig(kind Kind, node *yaml.Node) (KindConfig, error) {
	empty := node.Kind == 0
	decode := func(v any) error {
		if empty {
			return nil
		}
		return node.Decode(v)
	}

	switch kind {
	case KindCodeExecution:
		var c CodeConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case KindAPICall:
		var c APIConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case KindLLMTask:
		var c LLMConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case KindImageGeneration:
		var c ImageConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case KindClarify:
		var c ClarifyConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case KindWorkflow:
		var c WorkflowConfig
		if err := decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// DefaultCatalog returns the built-in Actions.
func DefaultCatalog() ([]*Action, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the built-in catalog when path is empty.
func LoadCatalog(path string) ([]*Action, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}
