// Package action holds the catalog of invocable Actions and dispatches them.
package action

import (
	"errors"
	"fmt"
)

// Kind is the execution family of an Action.
type Kind string

const (
	KindCodeExecution   Kind = "code_execution"
	KindAPICall         Kind = "api_call"
	KindLLMTask         Kind = "llm_task"
	KindImageGeneration Kind = "image_generation"
	KindClarify         Kind = "clarify"
	KindWorkflow        Kind = "workflow"
)

func (k Kind) valid() bool {
	switch k {
	case KindCodeExecution, KindAPICall, KindLLMTask, KindImageGeneration, KindClarify, KindWorkflow:
		return true
	}
	return false
}

// ParamType is the declared type of an Action parameter.
type ParamType string

const (
	ParamString   ParamType = "string"
	ParamNumber   ParamType = "number"
	ParamBoolean  ParamType = "boolean"
	ParamSelect   ParamType = "select"
	ParamTextarea ParamType = "textarea"
)

func (t ParamType) valid() bool {
	switch t {
	case ParamString, ParamNumber, ParamBoolean, ParamSelect, ParamTextarea:
		return true
	}
	return false
}

// Parameter is one entry of an Action's ordered parameter schema.
type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default"`
	Options     []string  `json:"options,omitempty" yaml:"options"`
	Description string    `json:"description,omitempty" yaml:"description"`
}

// KindConfig is the variant-specific configuration of an Action. Each
// variant reports the Kind it belongs to.
type KindConfig interface {
	Kind() Kind
}

// CodeConfig configures a locally executed Action.
type CodeConfig struct {
	Handler string `json:"handler" yaml:"handler"`
}

// APIConfig configures an Action executed by the remote Action backend.
type APIConfig struct {
	Service    string `json:"service,omitempty" yaml:"service"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec"`
}

// LLMConfig configures an Action answered by the LLM.
type LLMConfig struct {
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// ImageConfig configures an image generation Action.
type ImageConfig struct {
	Model      string `json:"model,omitempty" yaml:"model"`
	Size       string `json:"size,omitempty" yaml:"size"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec"`
}

// ClarifyConfig configures an Action that asks the user a question.
type ClarifyConfig struct {
	Question string   `json:"question" yaml:"question"`
	Fields   []string `json:"fields,omitempty" yaml:"fields"`
}

// WorkflowConfig configures a multi-step workflow Action. Steps seed the
// plan generator as a template.
type WorkflowConfig struct {
	Steps      []string `json:"steps" yaml:"steps"`
	TimeoutSec int      `json:"timeout_sec,omitempty" yaml:"timeout_sec"`
}

func (CodeConfig) Kind() Kind     { return KindCodeExecution }
func (APIConfig) Kind() Kind      { return KindAPICall }
func (LLMConfig) Kind() Kind      { return KindLLMTask }
func (ImageConfig) Kind() Kind    { return KindImageGeneration }
func (ClarifyConfig) Kind() Kind  { return KindClarify }
func (WorkflowConfig) Kind() Kind { return KindWorkflow }

// Action is an invocable tool in the registry.
type Action struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Kind        Kind        `json:"kind"`
	Keywords    []string    `json:"keywords,omitempty"`
	Parameters  []Parameter `json:"parameters"`
	Config      KindConfig  `json:"config"`
	// Explain marks results that need a natural-language explanation from
	// the LLM before being shown to the user.
	Explain bool `json:"explain"`
}

// Param returns the named parameter declaration.
func (a *Action) Param(name string) (Parameter, bool) {
	for _, p := range a.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

func (a *Action) validate() error {
	if a.ID == "" {
		return errors.New("action id is required")
	}
	if !a.Kind.valid() {
		return fmt.Errorf("action %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.Config == nil {
		return fmt.Errorf("action %s: missing %s config", a.ID, a.Kind)
	}
	if a.Config.Kind() != a.Kind {
		return fmt.Errorf("action %s: config for %s does not match kind %s", a.ID, a.Config.Kind(), a.Kind)
	}
	seen := make(map[string]bool, len(a.Parameters))
	for _, p := range a.Parameters {
		if p.Name == "" {
			return fmt.Errorf("action %s: parameter without name", a.ID)
		}
		if seen[p.Name] {
			return fmt.Errorf("action %s: duplicate parameter %s", a.ID, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.valid() {
			return fmt.Errorf("action %s: parameter %s has unknown type %q", a.ID, p.Name, p.Type)
		}
		if p.Type == ParamSelect && len(p.Options) == 0 {
			return fmt.Errorf("action %s: select parameter %s has no options", a.ID, p.Name)
		}
	}
	return nil
}

// Result is the outcome of dispatching an Action. It mirrors the Action
// execution endpoint's response shape.
type Result struct {
	Success       bool           `json:"success"`
	Data          any            `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	RequiresInput bool           `json:"requiresInput,omitempty"`
	Question      string         `json:"question,omitempty"`
	FormConfig    map[string]any `json:"formConfig,omitempty"`
}

// Failure builds an unsuccessful Result.
func Failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Sentinel errors.
var (
	ErrUnknownAction    = errors.New("unknown action")
	ErrMissingParameter = errors.New("missing required parameter")
)

// MissingError lists required parameters absent from a call.
type MissingError struct {
	ActionID string
	Fields   []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("action %s: missing required parameter(s) %v", e.ActionID, e.Fields)
}

func (e *MissingError) Unwrap() error { return ErrMissingParameter }
