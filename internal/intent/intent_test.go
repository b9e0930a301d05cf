package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Route(_ context.Context, _ provider.Purpose, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: s.reply}, nil
}

func newClassifier(t *testing.T, llm action.Completer) *Classifier {
	t.Helper()
	actions, err := action.DefaultCatalog()
	require.NoError(t, err)
	reg, err := action.NewRegistry(actions)
	require.NoError(t, err)
	return NewClassifier(reg, llm, zap.NewNop())
}

func TestResolveOrder(t *testing.T) {
	tests := []struct {
		text   string
		intent Intent
		tool   string
	}{
		{"计算 2+3*4", ToolCall, "calculator"},
		{"2+3*4", ToolCall, "calculator"},
		{"please calculate 12 * 7", ToolCall, "calculator"},
		{"生成一张 1024*768 的春节海报", ToolCall, "image_generation"},
		{"把 hello world 转大写", ToolCall, "text_processor"},
		{"帮我格式化这段 JSON", ToolCall, "json_formatter"},
		{"现在几点了", ToolCall, "datetime"},
		{"在知识库里找一下春节活动复盘", ToolCall, "knowledge_search"},
		{"搜索一下最近的二次元手游", ToolCall, "web_search"},
		{"做个情感分析：这次更新太坑了", ToolCall, "sentiment_analysis"},
		{"帮我做一份竞品分析", Workflow, ""},
		{"你好", TextAnswer, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			m, _ := Resolve(DefaultRules, tt.text)
			assert.Equal(t, tt.intent, m.Intent)
			assert.Equal(t, tt.tool, m.ToolID)
		})
	}
}

func TestResolveLongUtterance(t *testing.T) {
	text := strings.Repeat("我们下个月要上线新版本希望提升老玩家回流", 3)
	m, ok := Resolve(DefaultRules, text)
	require.True(t, ok)
	assert.Equal(t, Workflow, m.Intent)
	assert.Equal(t, 0.7, m.Confidence)

	_, ok = Resolve(DefaultRules, strings.Repeat("短", 50))
	assert.False(t, ok)
}

func TestResolveStepIgnoresWorkflowRules(t *testing.T) {
	_, ok := ResolveStep(DefaultRules, "输出完整活动方案")
	assert.False(t, ok)

	id, ok := ResolveStep(DefaultRules, "搜索近期竞品活动")
	require.True(t, ok)
	assert.Equal(t, "web_search", id)
}

func TestClassifyCalculatorIsStable(t *testing.T) {
	llm := &stubLLM{reply: `{"intent":"text_answer","confidence":0.9}`}
	c := newClassifier(t, llm)

	for _, history := range [][]string{nil, {"你好"}, {"帮我做一份竞品分析", "好的"}} {
		res := c.Classify(context.Background(), "calculate 3 + 4", history)
		assert.Equal(t, ToolCall, res.Intent)
		assert.Equal(t, "calculator", res.ToolID)
		assert.GreaterOrEqual(t, res.Confidence, FastPathThreshold)
		assert.False(t, res.ShouldUseLLM)
		assert.Equal(t, "keyword", res.Source)
	}
	assert.Zero(t, llm.calls)
}

func TestClassifyEscalatesLowConfidence(t *testing.T) {
	llm := &stubLLM{reply: "分析如下：\n```json\n{\"intent\":\"tool_call\",\"toolId\":\"sentiment_analysis\",\"confidence\":0.88,\"reasoning\":\"用户想知道评价倾向\"}\n```"}
	c := newClassifier(t, llm)

	res := c.Classify(context.Background(), "玩家对这次更新怎么看", nil)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, ToolCall, res.Intent)
	assert.Equal(t, "sentiment_analysis", res.ToolID)
	assert.Equal(t, "llm", res.Source)
	assert.True(t, res.ShouldUseLLM)
}

func TestClassifyFallsBack(t *testing.T) {
	tests := []struct {
		name string
		llm  *stubLLM
	}{
		{"transport error", &stubLLM{err: errors.New("connection refused")}},
		{"not json", &stubLLM{reply: "我觉得是闲聊"}},
		{"bad intent", &stubLLM{reply: `{"intent":"dance"}`}},
		{"unknown tool", &stubLLM{reply: `{"intent":"tool_call","toolId":"rocket"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClassifier(t, tt.llm)
			res := c.Classify(context.Background(), "帮我把这些反馈归类一下", nil)
			require.NotNil(t, res)
			assert.Equal(t, ToolCall, res.Intent)
			assert.Equal(t, "text_classification", res.ToolID)
			assert.Equal(t, "keyword", res.Source)
		})
	}
}

func TestClassifyWithoutLLM(t *testing.T) {
	c := newClassifier(t, nil)
	res := c.Classify(context.Background(), "今天适合做什么", nil)
	assert.Equal(t, TextAnswer, res.Intent)
	assert.True(t, res.ShouldUseLLM)
}
