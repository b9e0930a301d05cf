package plan

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/stream"
	"go.uber.org/zap"
)

// MaxSteps caps the length of a generated plan.
const MaxSteps = 12

// Generator asks the LLM to decompose a request into steps.
type Generator struct {
	llm    action.Completer
	logger *zap.Logger
}

// NewGenerator creates a plan generator.
func NewGenerator(llm action.Completer, logger *zap.Logger) *Generator {
	return &Generator{llm: llm, logger: logger}
}

// Generate returns a draft TodoList, or nil when no step could be parsed.
// templateHint is an optional newline-separated step list to seed the plan.
// If the LLM is unreachable the template alone is used.
func (g *Generator) Generate(ctx context.Context, utterance, templateHint string) *TodoList {
	if g.llm == nil {
		return fromSteps(utterance, ParseTemplate(templateHint))
	}

	resp, err := g.llm.Route(ctx, provider.PurposePlan, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: planPrompt(templateHint)},
			{Role: provider.RoleUser, Content: utterance},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		g.logger.Warn("plan generation failed", zap.Error(err))
		return fromSteps(utterance, ParseTemplate(templateHint))
	}

	visible, _ := stream.SplitThink(resp.Content)
	steps := ParseSteps(visible)
	if len(steps) == 0 {
		g.logger.Debug("plan reply had no steps", zap.Int("len", len(resp.Content)))
		return nil
	}
	return New(utterance, steps)
}

func fromSteps(goal string, steps []string) *TodoList {
	if len(steps) == 0 {
		return nil
	}
	return New(goal, steps)
}

func planPrompt(templateHint string) string {
	var b strings.Builder
	b.WriteString(`你是游戏运营团队的任务规划助手。把用户的需求拆解为按顺序执行的步骤。
要求:
- 每行一个步骤，使用 "1. " "2. " 编号
- 每个步骤是一句可以直接执行的动作描述
- 步骤数量 3 到 8 个
- 只输出步骤列表，不要输出其他内容`)
	if t := strings.TrimSpace(templateHint); t != "" {
		fmt.Fprintf(&b, "\n\n参考以下模板步骤，可以根据需求调整:\n%s", t)
	}
	return b.String()
}

var (
	stepLineRe = regexp.MustCompile(`^\s*(?:(?:步骤|第)\s*\d+\s*步?\s*[:：.、]?|\d+\s*[.)、．:：]|[-*•])\s*(.+)$`)
	boldRe     = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// ParseSteps extracts list items from an LLM reply. Lines without a list
// marker are ignored.
func ParseSteps(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		m := stepLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		s := strings.TrimSpace(boldRe.ReplaceAllString(m[1], "$1"))
		s = strings.TrimRight(s, "。")
		if s == "" {
			continue
		}
		steps = append(steps, s)
		if len(steps) == MaxSteps {
			break
		}
	}
	return steps
}

// ParseTemplate splits a template hint into steps. Markers are optional.
func ParseTemplate(hint string) []string {
	var steps []string
	for _, line := range strings.Split(hint, "\n") {
		if m := stepLineRe.FindStringSubmatch(line); m != nil {
			line = m[1]
		}
		if s := strings.TrimSpace(line); s != "" {
			steps = append(steps, s)
		}
		if len(steps) == MaxSteps {
			break
		}
	}
	return steps
}
