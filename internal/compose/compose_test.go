package compose

import (
	"strings"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	p := Compose(Input{
		ToolID:    "sentiment_analysis",
		ToolName:  "情感分析",
		Result:    map[string]any{"text": "正面"},
		Success:   true,
		Utterance: "玩家评价怎么样",
		At:        at,
	})

	for _, want := range []string{
		"情感分析", "sentiment_analysis", "成功", "2026-03-01 09:30:00",
		`"text": "正面"`, "玩家评价怎么样", "不要原样输出 JSON", "LaTeX",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestComposeFailure(t *testing.T) {
	p := Compose(Input{ToolID: "web_search", Success: false, Error: "backend 503", Utterance: "q"})
	if !strings.Contains(p, "失败") || !strings.Contains(p, "backend 503") {
		t.Errorf("failure not reported:\n%s", p)
	}
}

func TestStepFallback(t *testing.T) {
	got := StepFallback(Step{Text: "计算预算", Success: true, Output: map[string]any{"result": 14}})
	if got != "✅ 计算预算：14" {
		t.Errorf("got %q", got)
	}
	got = StepFallback(Step{Text: "搜索竞品", Success: false, Error: "timeout"})
	if !strings.Contains(got, "timeout") {
		t.Errorf("got %q", got)
	}
}

func TestPlanSummary(t *testing.T) {
	got := PlanSummary("春节活动", 3, 2, 1, 1500*time.Millisecond)
	if got != "计划「春节活动」已执行完毕：共 3 步，成功 2 步，失败 1 步，耗时 2s。" {
		t.Errorf("got %q", got)
	}
}

func TestDirect(t *testing.T) {
	cases := []struct {
		id, name string
		data     any
		want     string
	}{
		{"calculator", "计算器", map[string]any{"expression": "2+3*4", "result": 14}, "计算结果：2+3*4 = 14"},
		{"datetime", "日期时间", map[string]any{"datetime": "2026-02-01 12:00:00", "timezone": "Asia/Shanghai"}, "2026-02-01 12:00:00"},
		{"text_processor", "文本处理", map[string]any{"result": "HELLO"}, "「文本处理」结果：HELLO"},
		{"web_search", "网页搜索", nil, "「网页搜索」已执行完成。"},
	}
	for _, c := range cases {
		if got := Direct(c.id, c.name, c.data); !strings.Contains(got, c.want) {
			t.Errorf("Direct(%s) = %q, want it to contain %q", c.id, got, c.want)
		}
	}
}
