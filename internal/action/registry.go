package action

import (
	"fmt"
	"strings"
)

// Registry is the read-only catalog of Actions. It is built once at startup
// and shared by every conversation.
type Registry struct {
	actions []*Action
	byID    map[string]*Action
}

// NewRegistry validates the actions and builds a registry.
func NewRegistry(actions []*Action) (*Registry, error) {
	r := &Registry{
		actions: make([]*Action, 0, len(actions)),
		byID:    make(map[string]*Action, len(actions)),
	}
	for _, a := range actions {
		if err := a.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate action id %s", a.ID)
		}
		r.actions = append(r.actions, a)
		r.byID[a.ID] = a
	}
	return r, nil
}

// Get returns an Action by id.
func (r *Registry) Get(id string) (*Action, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// List returns all Actions in catalog order.
func (r *Registry) List() []*Action {
	out := make([]*Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// ByKind returns the Actions of one kind.
func (r *Registry) ByKind(kind Kind) []*Action {
	var out []*Action
	for _, a := range r.actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// IDs returns every action id in catalog order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.actions))
	for i, a := range r.actions {
		ids[i] = a.ID
	}
	return ids
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Explain reports whether results of id need a natural-language explanation.
func (r *Registry) Explain(id string) bool {
	a, ok := r.byID[id]
	return ok && a.Explain
}

// Prepare returns a copy of params with declared defaults applied and
// reports the required parameters that are still missing.
func (r *Registry) Prepare(id string, params map[string]any) (map[string]any, []string, error) {
	a, ok := r.byID[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	out := make(map[string]any, len(params)+len(a.Parameters))
	for k, v := range params {
		out[k] = v
	}
	var missing []string
	for _, p := range a.Parameters {
		if isBlank(out[p.Name]) {
			if p.Default != nil {
				out[p.Name] = p.Default
				continue
			}
			if p.Required {
				missing = append(missing, p.Name)
			}
		}
	}
	return out, missing, nil
}

// Validate is Prepare that turns missing required parameters into a *MissingError.
func (r *Registry) Validate(id string, params map[string]any) (map[string]any, error) {
	out, missing, err := r.Prepare(id, params)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return out, &MissingError{ActionID: id, Fields: missing}
	}
	return out, nil
}

// Describe renders the catalog for LLM prompts: one line per action.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, a := range r.actions {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Name, a.Description)
	}
	return b.String()
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}
