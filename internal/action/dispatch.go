package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// Handler executes one Action locally.
type Handler func(ctx context.Context, a *Action, params map[string]any) (*Result, error)

// Completer is the slice of the provider router the dispatcher needs.
type Completer interface {
	Route(ctx context.Context, purpose provider.Purpose, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Executor runs an Action somewhere other than this process.
type Executor interface {
	Execute(ctx context.Context, a *Action, params map[string]any) (*Result, error)
}

// UserResponseParam carries the user's reply when a waiting step is resumed.
const UserResponseParam = "user_response"

// Dispatcher routes Action invocations to local handlers, the LLM, or the
// remote Action backend.
type Dispatcher struct {
	registry *Registry
	handlers map[string]Handler
	llm      Completer
	remote   Executor
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with the builtin code handlers registered.
// llm and remote may be nil; Actions needing them then fail at dispatch.
func NewDispatcher(registry *Registry, llm Completer, remote Executor, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		handlers: make(map[string]Handler),
		llm:      llm,
		remote:   remote,
		logger:   logger,
	}
	RegisterBuiltins(d)
	return d
}

// Register binds a local handler to an action id, overriding kind routing.
func (d *Dispatcher) Register(id string, h Handler) {
	d.handlers[id] = h
}

// Registry returns the catalog the dispatcher serves.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch validates params and runs the Action. A returned error means the
// Action could not be invoked; a Result with Success=false means it ran and
// reported failure.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, params map[string]any) (*Result, error) {
	a, ok := d.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	prepared, err := d.registry.Validate(id, params)
	if err != nil {
		return nil, err
	}

	if t := timeoutOf(a); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := time.Now()
	res, err := d.route(ctx, a, prepared)
	d.logger.Debug("action dispatched",
		zap.String("action", id),
		zap.String("kind", string(a.Kind)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil && res != nil && res.Success))
	if err != nil {
		return nil, fmt.Errorf("dispatch %s: %w", id, err)
	}
	return res, nil
}

func (d *Dispatcher) route(ctx context.Context, a *Action, params map[string]any) (*Result, error) {
	if h, ok := d.handlers[a.ID]; ok {
		return h(ctx, a, params)
	}
	switch a.Kind {
	case KindCodeExecution:
		cfg := a.Config.(CodeConfig)
		if h, ok := d.handlers[cfg.Handler]; ok {
			return h(ctx, a, params)
		}
		return nil, fmt.Errorf("no local handler %q", cfg.Handler)
	case KindLLMTask:
		return d.runLLMTask(ctx, a, params)
	case KindClarify:
		return clarify(a, params), nil
	case KindAPICall, KindImageGeneration, KindWorkflow:
		if d.remote == nil {
			return nil, fmt.Errorf("no action backend configured for %s", a.Kind)
		}
		return d.remote.Execute(ctx, a, params)
	}
	return nil, fmt.Errorf("unroutable kind %s", a.Kind)
}

func (d *Dispatcher) runLLMTask(ctx context.Context, a *Action, params map[string]any) (*Result, error) {
	if d.llm == nil {
		return nil, fmt.Errorf("no llm configured")
	}
	cfg := a.Config.(LLMConfig)

	var input strings.Builder
	for _, p := range a.Parameters {
		if v, ok := params[p.Name]; ok && !isBlank(v) {
			fmt.Fprintf(&input, "%s: %v\n", p.Name, v)
		}
	}
	if v, ok := params[UserResponseParam]; ok && !isBlank(v) {
		fmt.Fprintf(&input, "补充说明: %v\n", v)
	}

	resp, err := d.llm.Route(ctx, provider.PurposeAction, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: cfg.SystemPrompt},
			{Role: provider.RoleUser, Content: input.String()},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Success: true, Data: map[string]any{"text": strings.TrimSpace(resp.Content)}}, nil
}

// clarify asks the catalog question until the user has answered it.
func clarify(a *Action, params map[string]any) *Result {
	cfg := a.Config.(ClarifyConfig)
	if v, ok := params[UserResponseParam]; ok && !isBlank(v) {
		return &Result{Success: true, Data: map[string]any{"answer": v}}
	}
	fields := make([]any, len(cfg.Fields))
	for i, f := range cfg.Fields {
		fields[i] = f
	}
	return &Result{
		Success:       true,
		RequiresInput: true,
		Question:      cfg.Question,
		FormConfig:    map[string]any{"fields": fields},
	}
}

func timeoutOf(a *Action) time.Duration {
	var sec int
	switch c := a.Config.(type) {
	case APIConfig:
		sec = c.TimeoutSec
	case ImageConfig:
		sec = c.TimeoutSec
	case WorkflowConfig:
		sec = c.TimeoutSec
	}
	return time.Duration(sec) * time.Second
}

// FormatData renders a Result's Data for prompts and summaries.
func FormatData(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
