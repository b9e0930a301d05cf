package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/jsonx"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// StepContext is what the reasoner sees before a step is dispatched.
type StepContext struct {
	Goal     string
	Step     plan.TodoItem
	Index    int
	Total    int
	Action   *action.Action
	Previous []*StepResult
}

// Decision is the reasoner's verdict on a step.
type Decision struct {
	ShouldProceed  bool   `json:"shouldProceed"`
	Reasoning      string `json:"reasoning"`
	WaitingForData bool   `json:"waitingForData"`
}

// Reasoner decides whether a step can run with the context known so far.
type Reasoner interface {
	Assess(ctx context.Context, sc StepContext) (Decision, error)
}

// LLMReasoner asks the LLM for a Decision.
type LLMReasoner struct {
	llm action.Completer
}

// NewLLMReasoner creates a reasoner backed by the reason purpose.
func NewLLMReasoner(llm action.Completer) *LLMReasoner {
	return &LLMReasoner{llm: llm}
}

// Assess implements Reasoner.
func (r *LLMReasoner) Assess(ctx context.Context, sc StepContext) (Decision, error) {
	resp, err := r.llm.Route(ctx, provider.PurposeReason, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: reasonPrompt},
			{Role: provider.RoleUser, Content: describeStep(sc)},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return Decision{}, err
	}
	var d Decision
	if err := jsonx.Decode(resp.Content, &d); err != nil {
		return Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	if d.ShouldProceed {
		d.WaitingForData = false
	}
	return d, nil
}

const reasonPrompt = `你是任务执行前的检查员。判断当前步骤在已有信息下能否执行。
只有当步骤明确依赖尚未获得的数据（例如前序步骤失败、需要用户提供的信息还没有）时才判定为等待。
只输出一个 JSON 对象:
{"shouldProceed":true,"reasoning":"一句话理由","waitingForData":false}`

func describeStep(sc StepContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "任务目标: %s\n", sc.Goal)
	fmt.Fprintf(&b, "当前步骤 (%d/%d): %s\n", sc.Index+1, sc.Total, sc.Step.Text)
	if sc.Action != nil {
		fmt.Fprintf(&b, "将使用工具: %s (%s)\n", sc.Action.Name, sc.Action.ID)
	}
	if len(sc.Previous) > 0 {
		b.WriteString("\n已完成的步骤:\n")
		for _, r := range sc.Previous {
			status := "成功"
			if !r.Success {
				status = "失败: " + r.Error
			}
			fmt.Fprintf(&b, "- %s [%s]\n", r.StepText, status)
		}
	}
	return b.String()
}

// retryingReasoner bounds every assessment with a per-attempt timeout and a
// retry budget. When the budget is spent the step proceeds.
type retryingReasoner struct {
	inner   Reasoner
	timeout time.Duration
	retries uint64
	logger  *zap.Logger
}

func (r *retryingReasoner) Assess(ctx context.Context, sc StepContext) (Decision, error) {
	var d Decision
	op := func() error {
		actx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		var err error
		d, err = r.inner.Assess(actx, sc)
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.retries), ctx)

	if err := backoff.Retry(op, b); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		r.logger.Warn("step reasoning unavailable, proceeding",
			zap.String("step", sc.Step.ID), zap.Error(err))
		return Decision{ShouldProceed: true, Reasoning: "reasoning unavailable: " + err.Error()}, nil
	}
	return d, nil
}
