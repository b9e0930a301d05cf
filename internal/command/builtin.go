package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/plan"
)

// ---------------------------------------------------------------------------
// Interfaces — kept here so builtin commands avoid importing the session
// manager, which itself dispatches commands.
// ---------------------------------------------------------------------------

// PlanController drives the plan of a conversation.
type PlanController interface {
	StartPlan(ctx context.Context, convID string) error
	PausePlan(convID string) error
	ResumePlan(ctx context.Context, convID string) error
	ForceNext(ctx context.Context, convID string) error
	Plan(convID string) (*plan.TodoList, bool)
	ClearConversation(ctx context.Context, convID string) error
}

// ActionLister lists the Action catalog.
type ActionLister interface {
	List() []*action.Action
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []AdapterStatus
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Name      string
	Platform  string
	Connected bool
}

// ---------------------------------------------------------------------------
// RegisterBuiltins wires up the built-in slash commands.
// ---------------------------------------------------------------------------

// RegisterBuiltins registers /help, /actions, /plan, /start, /pause,
// /resume, /force and /clear. /status is registered when status is non-nil.
func RegisterBuiltins(reg *Registry, plans PlanController, actions ActionLister, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(actionsCommand(actions))
	reg.Register(planCommand(plans))
	reg.Register(startCommand(plans))
	reg.Register(pauseCommand(plans))
	reg.Register(resumeCommand(plans))
	reg.Register(forceCommand(plans))
	reg.Register(clearCommand(plans))
	if status != nil {
		reg.Register(statusCommand(status))
	}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "列出所有可用命令",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("可用命令：\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s  %s\n", c.Name, c.Description)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /actions
// ---------------------------------------------------------------------------

func actionsCommand(lister ActionLister) *Command {
	return &Command{
		Name:        "actions",
		Description: "列出可调用的工具",
		Usage:       "/actions",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			actions := lister.List()
			if len(actions) == 0 {
				return &CommandResult{Content: "没有可用的工具。"}, nil
			}
			var b strings.Builder
			b.WriteString("可用工具：\n")
			for _, a := range actions {
				fmt.Fprintf(&b, "  [%s] %s（%s）：%s\n", a.ID, a.Name, a.Kind, a.Description)
			}
			return &CommandResult{Content: b.String(), Data: actions}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// Plan controls
// ---------------------------------------------------------------------------

func planCommand(plans PlanController) *Command {
	return &Command{
		Name:        "plan",
		Description: "查看当前计划",
		Usage:       "/plan",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			l, ok := plans.Plan(cc.ConversationID)
			if !ok {
				return &CommandResult{Content: "当前对话没有计划。"}, nil
			}
			return &CommandResult{Content: l.Render(), Data: l}, nil
		},
	}
}

func startCommand(plans PlanController) *Command {
	return planAction("start", "开始执行当前计划", "计划开始执行。", "无法开始计划",
		func(ctx context.Context, id string) error { return plans.StartPlan(ctx, id) })
}

func pauseCommand(plans PlanController) *Command {
	return planAction("pause", "在当前步骤完成后暂停计划", "计划将在当前步骤完成后暂停。", "无法暂停计划",
		func(_ context.Context, id string) error { return plans.PausePlan(id) })
}

func resumeCommand(plans PlanController) *Command {
	return planAction("resume", "继续已暂停的计划", "计划继续执行。", "无法继续计划",
		func(ctx context.Context, id string) error { return plans.ResumePlan(ctx, id) })
}

func forceCommand(plans PlanController) *Command {
	return planAction("force", "跳过等待，强制执行下一步", "已强制继续执行。", "无法强制继续",
		func(ctx context.Context, id string) error { return plans.ForceNext(ctx, id) })
}

func clearCommand(plans PlanController) *Command {
	return planAction("clear", "清空当前对话", "对话已清空。", "无法清空对话",
		func(ctx context.Context, id string) error { return plans.ClearConversation(ctx, id) })
}

// planAction builds a command whose controller errors are reported as
// content rather than failing the dispatch.
func planAction(name, desc, ok, failed string, fn func(ctx context.Context, convID string) error) *Command {
	return &Command{
		Name:        name,
		Description: desc,
		Usage:       "/" + name,
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			if err := fn(ctx, cc.ConversationID); err != nil {
				return &CommandResult{Content: fmt.Sprintf("%s：%v", failed, err)}, nil
			}
			return &CommandResult{Content: ok}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "查看聊天平台连接状态",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "未配置聊天平台。"}, nil
			}
			var b strings.Builder
			b.WriteString("平台状态：\n")
			for _, a := range adapters {
				state := "未连接"
				if a.Connected {
					state = "已连接"
				}
				fmt.Fprintf(&b, "  %s (%s): %s\n", a.Name, a.Platform, state)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}
