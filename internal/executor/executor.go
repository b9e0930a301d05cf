// Package executor runs a TodoList one step at a time against Actions and
// the LLM, with pause, resume, forced continue and user-input suspension.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/stream"
	"go.uber.org/zap"
)

// Dispatcher runs Actions by id.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, params map[string]any) (*action.Result, error)
	Registry() *action.Registry
}

// ParamExtractor fills Action parameters from step text.
type ParamExtractor interface {
	Extract(ctx context.Context, toolID, utterance string) map[string]any
}

// Config bounds the suspending calls of a step.
type Config struct {
	ReasonTimeout   time.Duration
	ReasonRetries   uint64
	DispatchTimeout time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		ReasonTimeout:   20 * time.Second,
		ReasonRetries:   2,
		DispatchTimeout: 2 * time.Minute,
	}
}

// Deps are the collaborators a step needs.
type Deps struct {
	Dispatcher Dispatcher
	Extractor  ParamExtractor
	LLM        action.Completer
	// Reasoner is optional; without one every step proceeds.
	Reasoner Reasoner
	// Rules match step text to an Action. Defaults to intent.DefaultRules.
	Rules []intent.Rule
}

// Executor owns the execution of one TodoList. Steps run strictly in order
// and never concurrently. Callbacks must be registered before Start.
type Executor struct {
	mu             sync.Mutex
	list           *plan.TodoList
	state          State
	looping        bool
	pauseRequested bool
	forced         map[string]bool
	inputs         map[string][]string
	results        []*StepResult
	startedAt      time.Time

	deps     Deps
	reasoner Reasoner
	rules    []intent.Rule
	cfg      Config
	logger   *zap.Logger

	onProgress func(*StepResult)
	onComplete func(*Summary)
	onUpdate   func(*plan.TodoList)
}

// New binds an executor to list.
func New(list *plan.TodoList, deps Deps, cfg Config, logger *zap.Logger) *Executor {
	e := &Executor{
		list:   list,
		state:  StateIdle,
		forced: make(map[string]bool),
		inputs: make(map[string][]string),
		deps:   deps,
		rules:  deps.Rules,
		cfg:    cfg,
		logger: logger.With(zap.String("plan", list.ID)),
	}
	if e.rules == nil {
		e.rules = intent.DefaultRules
	}
	// A paused list restored from storage is adopted as paused.
	if list.Status == plan.ListPaused {
		e.state = StatePaused
		e.startedAt = time.Now()
	}
	if deps.Reasoner != nil {
		e.reasoner = &retryingReasoner{
			inner:   deps.Reasoner,
			timeout: cfg.ReasonTimeout,
			retries: cfg.ReasonRetries,
			logger:  e.logger,
		}
	}
	return e
}

// OnProgress registers the per-step callback.
func (e *Executor) OnProgress(fn func(*StepResult)) { e.onProgress = fn }

// OnComplete registers the plan completion callback.
func (e *Executor) OnComplete(fn func(*Summary)) { e.onComplete = fn }

// OnUpdate registers a callback receiving a TodoList snapshot after every
// status change.
func (e *Executor) OnUpdate(fn func(*plan.TodoList)) { e.onUpdate = fn }

// State returns the executor state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// List returns a snapshot of the TodoList.
func (e *Executor) List() *plan.TodoList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list.Clone()
}

// Results returns every StepResult emitted so far.
func (e *Executor) Results() []*StepResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*StepResult(nil), e.results...)
}

// Start runs the plan from its first step. It may be called once, on a
// draft list, and returns when the loop halts.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle || e.list.Status != plan.ListDraft {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	if err := e.list.SetStatus(plan.ListRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	e.setStateLocked(StateRunning)
	e.list.UserConfirmed = true
	e.list.HasStarted = true
	e.startedAt = time.Now()
	e.looping = true
	total := e.list.TotalSteps
	e.mu.Unlock()

	e.logger.Info("plan started", zap.Int("steps", total))
	return e.run(ctx)
}

// Resume continues a paused plan from its first unresolved step.
func (e *Executor) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	e.resumeLocked()
	e.looping = true
	e.mu.Unlock()

	e.logger.Info("plan resumed")
	return e.run(ctx)
}

// Pause stops the plan after the in-flight step. If no step is in flight
// the plan pauses immediately.
func (e *Executor) Pause() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	if e.looping {
		e.pauseRequested = true
		e.mu.Unlock()
		return nil
	}
	e.pauseLocked()
	snap := e.list.Clone()
	e.mu.Unlock()

	e.emitUpdate(snap)
	return nil
}

// ForceNextStep overrides a step blocked on missing context and dispatches it.
func (e *Executor) ForceNextStep(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotRunning
	}
	i := e.list.NextIndex()
	if e.looping || i < 0 || e.list.Items[i].Status != plan.ItemRunning {
		e.mu.Unlock()
		return ErrNotBlocked
	}
	if e.state == StatePaused {
		e.resumeLocked()
	}
	id := e.list.Items[i].ID
	e.forced[id] = true
	e.looping = true
	e.mu.Unlock()

	e.logger.Info("step forced", zap.String("step", id))
	return e.run(ctx)
}

// HandleUserInput resolves a step waiting for the user with response and
// dispatches it again.
func (e *Executor) HandleUserInput(ctx context.Context, stepID, response string) error {
	e.mu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotRunning
	}
	i := e.list.Index(stepID)
	if e.looping || i < 0 || e.list.Items[i].Status != plan.ItemWaitingUser {
		e.mu.Unlock()
		return ErrNotWaiting
	}
	if err := e.list.SetItemStatus(i, plan.ItemRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.state == StatePaused {
		e.resumeLocked()
	}
	e.inputs[stepID] = append(e.inputs[stepID], response)
	e.looping = true
	e.mu.Unlock()

	return e.run(ctx)
}

func (e *Executor) setStateLocked(to State) {
	if err := Transition(e.state, to); err != nil {
		e.logger.Error("executor state", zap.Error(err))
		return
	}
	e.state = to
}

func (e *Executor) resumeLocked() {
	e.setStateLocked(StateRunning)
	if err := e.list.SetStatus(plan.ListRunning); err != nil {
		e.logger.Warn("resume list", zap.Error(err))
	}
}

func (e *Executor) pauseLocked() {
	e.pauseRequested = false
	e.setStateLocked(StatePaused)
	if err := e.list.SetStatus(plan.ListPaused); err != nil {
		e.logger.Warn("pause list", zap.Error(err))
	}
}

// run is the step loop. The caller has set looping.
func (e *Executor) run(ctx context.Context) error {
	for {
		e.mu.Lock()
		if err := ctx.Err(); err != nil {
			e.setStateLocked(StateFailed)
			e.list.Status = plan.ListFailed
			e.looping = false
			snap := e.list.Clone()
			e.mu.Unlock()
			e.logger.Warn("plan aborted", zap.Error(err))
			e.emitUpdate(snap)
			return err
		}
		i := e.list.NextIndex()
		if i < 0 {
			e.pauseRequested = false
			e.finishLocked()
			return nil
		}
		if e.pauseRequested {
			e.pauseLocked()
			e.looping = false
			snap := e.list.Clone()
			e.mu.Unlock()
			e.logger.Info("plan paused", zap.Int("current_step", snap.CurrentStep))
			e.emitUpdate(snap)
			return nil
		}
		item := e.list.Items[i]
		if item.Status == plan.ItemWaitingUser {
			e.looping = false
			e.mu.Unlock()
			return nil
		}
		if item.Status == plan.ItemPending {
			if err := e.list.SetItemStatus(i, plan.ItemRunning); err != nil {
				e.logger.Error("start step", zap.Error(err))
			}
		}
		sc := StepContext{
			Goal:     e.list.Goal,
			Step:     *item,
			Index:    i,
			Total:    e.list.TotalSteps,
			Previous: append([]*StepResult(nil), e.results...),
		}
		forced := e.forced[item.ID]
		inputs := append([]string(nil), e.inputs[item.ID]...)
		snap := e.list.Clone()
		e.mu.Unlock()
		e.emitUpdate(snap)

		res := e.runStep(ctx, sc, forced, inputs)

		e.mu.Lock()
		e.applyLocked(i, res)
		halt := res.Outcome.Waiting()
		if halt {
			if e.pauseRequested {
				e.pauseLocked()
			}
			e.looping = false
		}
		snap = e.list.Clone()
		e.mu.Unlock()

		e.logger.Info("step finished",
			zap.String("step", res.StepID),
			zap.String("outcome", string(res.Outcome)),
			zap.Int64("ms", res.ExecutionMS))
		// The list goes out first so a client answering the step's question
		// finds the item already waiting.
		e.emitUpdate(snap)
		e.emitProgress(res)
		if halt {
			return nil
		}
	}
}

func (e *Executor) applyLocked(i int, res *StepResult) {
	id := e.list.Items[i].ID
	var to plan.ItemStatus
	switch res.Outcome {
	case OutcomeSuccess:
		to = plan.ItemCompleted
	case OutcomeFailed:
		to = plan.ItemFailed
	case OutcomeWaitingForUser:
		to = plan.ItemWaitingUser
	}
	if to != "" {
		if err := e.list.SetItemStatus(i, to); err != nil {
			e.logger.Error("apply step result", zap.Error(err))
		}
	}
	if to.Terminal() {
		delete(e.forced, id)
		delete(e.inputs, id)
	}
	e.results = append(e.results, res)
}

// finishLocked completes the plan and releases the lock.
func (e *Executor) finishLocked() {
	e.list.Complete()
	e.setStateLocked(StateCompleted)
	e.looping = false
	completed, failed := e.list.Counts()
	sum := &Summary{
		ListID:    e.list.ID,
		Goal:      e.list.Goal,
		Results:   append([]*StepResult(nil), e.results...),
		Total:     e.list.TotalSteps,
		Completed: completed,
		Failed:    failed,
		Elapsed:   time.Since(e.startedAt),
	}
	snap := e.list.Clone()
	e.mu.Unlock()

	e.logger.Info("plan completed", zap.Int("completed", completed), zap.Int("failed", failed))
	e.emitUpdate(snap)
	if e.onComplete != nil {
		e.onComplete(sum)
	}
}

func (e *Executor) runStep(ctx context.Context, sc StepContext, forced bool, inputs []string) *StepResult {
	start := time.Now()
	res := &StepResult{StepID: sc.Step.ID, StepText: sc.Step.Text, CreatedAt: start}
	defer func() { res.ExecutionMS = time.Since(start).Milliseconds() }()

	if id, ok := intent.ResolveStep(e.rules, sc.Step.Text); ok {
		if a, ok := e.deps.Dispatcher.Registry().Get(id); ok {
			sc.Action = a
			res.ActionUsed = &ActionRef{ID: a.ID, Name: a.Name, Kind: a.Kind}
		}
	}

	switch {
	case forced:
		res.Reasoning = &Reasoning{ShouldProceed: true, Reasoning: "continued by user"}
	case len(inputs) > 0 || e.reasoner == nil:
	default:
		d, err := e.reasoner.Assess(ctx, sc)
		if err != nil {
			failStep(res, err.Error())
			return res
		}
		res.Reasoning = &Reasoning{ShouldProceed: d.ShouldProceed, Reasoning: d.Reasoning, WaitingForData: d.WaitingForData}
		if !d.ShouldProceed && d.WaitingForData {
			res.Outcome = OutcomeWaitingForContext
			res.Error = CodeWaitingForContext
			return res
		}
	}

	dctx := ctx
	if e.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.cfg.DispatchTimeout)
		defer cancel()
	}
	if sc.Action == nil {
		e.runLLMStep(dctx, sc, inputs, res)
	} else {
		e.runActionStep(dctx, sc, inputs, res)
	}
	if res.Outcome == OutcomeFailed && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		res.Error = fmt.Sprintf("step timed out after %s", e.cfg.DispatchTimeout)
	}
	return res
}

func (e *Executor) runActionStep(ctx context.Context, sc StepContext, inputs []string, res *StepResult) {
	a := sc.Action
	utterance := sc.Step.Text
	for _, in := range inputs {
		utterance += "\n用户补充：" + in
	}

	params := map[string]any{}
	if e.deps.Extractor != nil {
		params = e.deps.Extractor.Extract(ctx, a.ID, utterance)
	}
	if len(inputs) > 0 {
		params[action.UserResponseParam] = strings.Join(inputs, "\n")
	}

	_, missing, err := e.deps.Dispatcher.Registry().Prepare(a.ID, params)
	if err != nil {
		failStep(res, err.Error())
		return
	}
	if len(missing) > 0 {
		askUser(res, fmt.Sprintf("执行「%s」还需要以下信息：%s", a.Name, strings.Join(missing, "、")),
			map[string]any{"action": a.ID, "fields": missing})
		return
	}

	r, err := e.deps.Dispatcher.Dispatch(ctx, a.ID, params)
	switch {
	case err != nil:
		failStep(res, err.Error())
	case r.RequiresInput:
		askUser(res, r.Question, r.FormConfig)
	case !r.Success:
		msg := r.Error
		if msg == "" {
			msg = "action reported failure"
		}
		failStep(res, msg)
	default:
		res.Outcome = OutcomeSuccess
		res.Success = true
		res.Output = r.Data
	}
}

func (e *Executor) runLLMStep(ctx context.Context, sc StepContext, inputs []string, res *StepResult) {
	if e.deps.LLM == nil {
		failStep(res, "no llm configured for step")
		return
	}
	resp, err := e.deps.LLM.Route(ctx, provider.PurposeAction, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "你是游戏运营团队的助手，正在按计划逐步完成任务。只完成当前步骤，输出简洁、可直接使用的结果。"},
			{Role: provider.RoleUser, Content: llmStepPrompt(sc, inputs)},
		},
		Temperature: 0.5,
		MaxTokens:   1500,
	})
	if err != nil {
		failStep(res, err.Error())
		return
	}
	visible, _ := stream.SplitThink(resp.Content)
	res.Outcome = OutcomeSuccess
	res.Success = true
	res.IsLLMTask = true
	res.Output = map[string]any{"text": strings.TrimSpace(visible), "isLLMTask": true}
}

func llmStepPrompt(sc StepContext, inputs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "任务目标: %s\n", sc.Goal)
	if len(sc.Previous) > 0 {
		b.WriteString("\n前序步骤结果:\n")
		for _, r := range sc.Previous {
			if !r.Success {
				continue
			}
			out := []rune(action.FormatData(r.Output))
			if len(out) > 800 {
				out = append(out[:800], '…')
			}
			fmt.Fprintf(&b, "## %s\n%s\n", r.StepText, string(out))
		}
	}
	fmt.Fprintf(&b, "\n当前步骤 (%d/%d): %s\n", sc.Index+1, sc.Total, sc.Step.Text)
	for _, in := range inputs {
		fmt.Fprintf(&b, "用户补充：%s\n", in)
	}
	return b.String()
}

func failStep(res *StepResult, msg string) {
	res.Outcome = OutcomeFailed
	res.Success = false
	res.Error = msg
}

func askUser(res *StepResult, question string, form map[string]any) {
	if question == "" {
		question = "请补充执行这一步所需的信息。"
	}
	res.Outcome = OutcomeWaitingForUser
	res.Error = CodeWaitingForUser
	res.Question = question
	res.Form = form
}

func (e *Executor) emitProgress(r *StepResult) {
	if e.onProgress != nil {
		e.onProgress(r)
	}
}

func (e *Executor) emitUpdate(l *plan.TodoList) {
	if e.onUpdate != nil {
		e.onUpdate(l)
	}
}
