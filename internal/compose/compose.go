// Package compose builds the prompts that turn raw tool output into a
// natural-language reply.
package compose

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Input is one tool execution to be explained.
type Input struct {
	ToolID    string
	ToolName  string
	Result    any
	Success   bool
	Error     string
	Utterance string
	At        time.Time
}

// Compose returns the closing-the-loop prompt. It is sent as the user turn
// of an ordinary streaming chat request.
func Compose(in Input) string {
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	name := in.ToolName
	if name == "" {
		name = in.ToolID
	}
	status := "成功"
	if !in.Success {
		status = "失败"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "我刚刚调用了工具「%s」(%s) 来处理用户的问题。\n\n", name, in.ToolID)
	fmt.Fprintf(&b, "执行状态: %s\n", status)
	fmt.Fprintf(&b, "执行时间: %s\n", at.Format("2006-01-02 15:04:05"))
	if in.Error != "" {
		fmt.Fprintf(&b, "错误信息: %s\n", in.Error)
	}
	b.WriteString("\n工具返回的数据:\n```json\n")
	b.WriteString(prettyJSON(in.Result))
	b.WriteString("\n```\n\n")
	fmt.Fprintf(&b, "用户的原始问题: %s\n\n", in.Utterance)
	b.WriteString(`请根据上面的数据回答用户:
1. 直接使用工具返回的数据，不要自己重新计算或编造
2. 用自然、口语化的中文解释结果
3. 不要原样输出 JSON
4. 不要使用 LaTeX 数学公式，运算用 + - × ÷ 等普通符号表示`)
	if !in.Success {
		b.WriteString("\n5. 工具执行失败时，简要说明原因并给出下一步建议")
	}
	return b.String()
}

// Step is a finished workflow step to be summarized.
type Step struct {
	Goal       string
	Text       string
	ActionName string
	Success    bool
	Output     any
	Error      string
}

// StepSummary returns the prompt for a short summary of one workflow step.
func StepSummary(s Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "任务目标: %s\n", s.Goal)
	fmt.Fprintf(&b, "当前步骤: %s\n", s.Text)
	if s.ActionName != "" {
		fmt.Fprintf(&b, "使用的工具: %s\n", s.ActionName)
	}
	if s.Success {
		b.WriteString("执行结果:\n")
		b.WriteString(truncate(prettyJSON(s.Output), 2000))
		b.WriteString("\n\n用一到三句话向用户汇报这一步的结果，只陈述数据中的事实，不要输出 JSON。")
	} else {
		fmt.Fprintf(&b, "执行失败: %s\n\n用一句话告诉用户这一步失败了以及原因，说明计划会继续执行后续步骤。", s.Error)
	}
	return b.String()
}

// StepFallback is the deterministic summary used when the LLM is unavailable.
func StepFallback(s Step) string {
	if !s.Success {
		return fmt.Sprintf("❌ %s：执行失败（%s），继续执行后续步骤。", s.Text, s.Error)
	}
	out := truncate(plainText(s.Output), 500)
	if out == "" {
		return fmt.Sprintf("✅ %s：已完成。", s.Text)
	}
	return fmt.Sprintf("✅ %s：%s", s.Text, out)
}

// Direct renders a tool result that needs no LLM explanation.
func Direct(toolID, toolName string, data any) string {
	m, _ := data.(map[string]any)
	switch toolID {
	case "calculator":
		if m != nil {
			return fmt.Sprintf("计算结果：%v = %v", m["expression"], m["result"])
		}
	case "datetime":
		if m != nil {
			return fmt.Sprintf("当前时间：%v（%v）", m["datetime"], m["timezone"])
		}
	case "json_formatter":
		if m != nil {
			return fmt.Sprintf("格式化结果：\n```json\n%v\n```", m["formatted"])
		}
	}
	out := plainText(data)
	if out == "" {
		return fmt.Sprintf("「%s」已执行完成。", toolName)
	}
	return fmt.Sprintf("「%s」结果：%s", toolName, out)
}

// PlanSummary is the system message posted when a plan finishes.
func PlanSummary(goal string, total, completed, failed int, elapsed time.Duration) string {
	msg := fmt.Sprintf("计划「%s」已执行完毕：共 %d 步，成功 %d 步", goal, total, completed)
	if failed > 0 {
		msg += fmt.Sprintf("，失败 %d 步", failed)
	}
	return msg + fmt.Sprintf("，耗时 %s。", elapsed.Round(time.Second))
}

func prettyJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// plainText renders the common result shapes without JSON punctuation.
func plainText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any:
		for _, k := range []string{"text", "result", "formatted", "answer", "datetime", "url"} {
			if s, ok := x[k]; ok {
				return fmt.Sprint(s)
			}
		}
	}
	return prettyJSON(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
