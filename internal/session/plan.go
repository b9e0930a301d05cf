package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/launchbox/internal/compose"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// StartPlan runs the conversation's plan in the background. A draft plan
// gets a fresh executor; a paused plan is resumed.
func (m *Manager) StartPlan(ctx context.Context, convID string) error {
	s, err := m.session(ctx, convID, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.todo == nil {
		s.mu.Unlock()
		return ErrNoPlan
	}
	switch s.todo.Status {
	case plan.ListDraft:
		if s.exec != nil {
			s.mu.Unlock()
			return ErrPlanRunning
		}
		exec := m.newExecutor(s, s.todo)
		s.exec = exec
		s.mu.Unlock()
		m.launch(s, "start", exec.Start)
		return nil
	case plan.ListPaused:
		s.mu.Unlock()
		return m.ResumePlan(ctx, convID)
	case plan.ListRunning:
		s.mu.Unlock()
		return ErrPlanRunning
	default:
		s.mu.Unlock()
		return ErrPlanFinished
	}
}

// PausePlan pauses after the in-flight step.
func (m *Manager) PausePlan(convID string) error {
	s, err := m.session(context.Background(), convID, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	exec := s.exec
	s.mu.Unlock()
	if exec == nil {
		return ErrNoPlan
	}
	return exec.Pause()
}

// ResumePlan continues a paused plan, adopting it with a new executor when
// it was restored from storage.
func (m *Manager) ResumePlan(ctx context.Context, convID string) error {
	s, err := m.session(ctx, convID, false)
	if err != nil {
		return err
	}
	exec, err := m.executorFor(s)
	if err != nil {
		return err
	}
	switch exec.State() {
	case executor.StatePaused:
	case executor.StateRunning:
		return ErrPlanRunning
	default:
		return executor.ErrNotPaused
	}
	s.mu.Lock()
	s.blocked = false
	s.mu.Unlock()
	m.launch(s, "resume", exec.Resume)
	return nil
}

// ForceNext runs a step that is waiting for more context.
func (m *Manager) ForceNext(ctx context.Context, convID string) error {
	s, err := m.session(ctx, convID, false)
	if err != nil {
		return err
	}
	exec, err := m.executorFor(s)
	if err != nil {
		return err
	}
	s.mu.Lock()
	blocked := s.blocked
	s.blocked = false
	s.mu.Unlock()
	if !blocked {
		return executor.ErrNotBlocked
	}
	m.launch(s, "force", exec.ForceNextStep)
	return nil
}

// SubmitStepInput answers the step waiting for the user.
func (m *Manager) SubmitStepInput(ctx context.Context, convID, stepID, text string) error {
	s, err := m.session(ctx, convID, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	item, ok := s.waitingItem()
	s.mu.Unlock()
	if !ok || (stepID != "" && item.ID != stepID) {
		return executor.ErrNotWaiting
	}
	exec, err := m.executorFor(s)
	if err != nil {
		return err
	}
	id := item.ID
	m.launch(s, "input", func(ctx context.Context) error {
		return exec.HandleUserInput(ctx, id, text)
	})
	return nil
}

// routeStepInput hands a user message to the step waiting for it.
func (m *Manager) routeStepInput(ctx context.Context, s *Session, stepID, text string) *Turn {
	if err := m.SubmitStepInput(ctx, s.id(), stepID, text); err != nil {
		msg := newMessage(RoleAgent, fmt.Sprintf("无法提交补充信息：%v", err))
		m.append(ctx, s, msg)
		return &Turn{Route: RouteStepInput, Messages: []*Message{msg.clone()}}
	}
	m.logger.Info("user input routed to step", zap.String("conversation", s.id()), zap.String("step", stepID))
	return &Turn{Route: RouteStepInput}
}

// executorFor returns the live executor, adopting a paused plan restored
// from storage.
func (m *Manager) executorFor(s *Session) (*executor.Executor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todo == nil {
		return nil, ErrNoPlan
	}
	if s.exec != nil {
		return s.exec, nil
	}
	switch s.todo.Status {
	case plan.ListPaused:
		s.exec = m.newExecutor(s, s.todo)
		return s.exec, nil
	case plan.ListDraft:
		return nil, executor.ErrNotRunning
	default:
		return nil, ErrPlanFinished
	}
}

// newExecutor binds an executor to a copy of list; the session's own copy
// is refreshed from executor snapshots. Callers hold s.mu.
func (m *Manager) newExecutor(s *Session, list *plan.TodoList) *executor.Executor {
	exec := executor.New(list.Clone(), executor.Deps{
		Dispatcher: m.deps.Dispatcher,
		Extractor:  m.deps.Extractor,
		LLM:        m.deps.LLM,
		Reasoner:   m.deps.Reasoner,
	}, m.config.Executor, m.logger.With(zap.String("conversation", s.conv.ID)))

	exec.OnUpdate(func(l *plan.TodoList) { m.onUpdate(s, exec, l) })
	exec.OnProgress(func(r *executor.StepResult) { m.onProgress(s, r) })
	exec.OnComplete(func(sum *executor.Summary) { m.onComplete(s, exec, sum) })
	return exec
}

// launch runs fn on the session's background context.
func (m *Manager) launch(s *Session, op string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("plan run failed", zap.String("conversation", s.id()), zap.String("op", op), zap.Error(err))
			m.append(s.ctx, s, systemMessage(fmt.Sprintf("计划执行出错：%v", err)))
			m.persist(s.ctx, s)
		}
	}()
}

func (m *Manager) onUpdate(s *Session, exec *executor.Executor, l *plan.TodoList) {
	s.mu.Lock()
	if s.exec != exec {
		s.mu.Unlock()
		return
	}
	s.todo = l
	s.mu.Unlock()

	m.publish(s.ctx, s.id(), events.PlanUpdated, l)
	m.persist(s.ctx, s)
}

// onProgress renders one StepResult into the conversation.
func (m *Manager) onProgress(s *Session, r *executor.StepResult) {
	ctx := s.ctx
	convID := s.id()
	m.publish(ctx, convID, events.StepResult, r)

	var msg *Message
	switch r.Outcome {
	case executor.OutcomeWaitingForContext:
		reason := ""
		if r.Reasoning != nil {
			reason = r.Reasoning.Reasoning
		}
		msg = systemMessage(fmt.Sprintf("步骤「%s」暂缓执行：%s\n如需继续，请点击「强制继续」或发送 /force。", r.StepText, reason))
		msg.Affordance = AffordanceForceContinue
		s.mu.Lock()
		s.blocked = true
		s.mu.Unlock()
	case executor.OutcomeWaitingForUser:
		msg = newMessage(RoleAgent, r.Question)
		msg.AwaitingStepID = r.StepID
	default:
		if r.IsLLMTask && r.Success {
			msg = newMessage(RoleAgent, outputText(r.Output))
		} else {
			msg = newMessage(RoleAgent, m.summarizeStep(ctx, s, r))
		}
	}
	msg.ExecutionResults = []*executor.StepResult{r}
	m.append(ctx, s, msg)
}

// summarizeStep asks the LLM for a short report of a workflow step and
// falls back to a fixed template.
func (m *Manager) summarizeStep(ctx context.Context, s *Session, r *executor.StepResult) string {
	s.mu.Lock()
	goal := ""
	if s.todo != nil {
		goal = s.todo.Goal
	}
	s.mu.Unlock()

	step := compose.Step{
		Goal:    goal,
		Text:    r.StepText,
		Success: r.Success,
		Output:  r.Output,
		Error:   r.Error,
	}
	if r.ActionUsed != nil {
		step.ActionName = r.ActionUsed.Name
	}
	if m.deps.LLM == nil {
		return compose.StepFallback(step)
	}
	resp, err := m.deps.LLM.Route(ctx, provider.PurposeSummarize, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: m.config.SystemPrompt},
			{Role: provider.RoleUser, Content: compose.StepSummary(step)},
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			m.logger.Warn("step summary failed", zap.String("step", r.StepID), zap.Error(err))
		}
		return compose.StepFallback(step)
	}
	prefix := "✅ "
	if !r.Success {
		prefix = "❌ "
	}
	return prefix + strings.TrimSpace(resp.Content)
}

func (m *Manager) onComplete(s *Session, exec *executor.Executor, sum *executor.Summary) {
	ctx := s.ctx
	m.append(ctx, s, systemMessage(compose.PlanSummary(sum.Goal, sum.Total, sum.Completed, sum.Failed, sum.Elapsed)))

	s.mu.Lock()
	if s.exec == exec {
		s.exec = nil
	}
	s.blocked = false
	s.mu.Unlock()

	m.publish(ctx, s.id(), events.PlanCompleted, sum)
	m.persist(ctx, s)
	m.logger.Info("plan finished",
		zap.String("conversation", s.id()),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed))
}

func outputText(v any) string {
	if m, ok := v.(map[string]any); ok {
		if t, ok := m["text"].(string); ok {
			return t
		}
	}
	return compose.StepFallback(compose.Step{Success: true, Output: v})
}
