// Package intent routes a user utterance to a direct answer, a single tool
// call, a multi-step workflow, or a clarification request.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/jsonx"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// Result is the classification of one utterance.
type Result struct {
	Intent        Intent   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	ToolID        string   `json:"toolId,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
	ShouldUseLLM  bool     `json:"shouldUseLLM"`
	// Source is "keyword" or "llm".
	Source string `json:"source"`
}

// FastPathThreshold is the keyword confidence at which the LLM is skipped.
const FastPathThreshold = 0.8

// historyWindow is how many prior turns are shown to the LLM.
const historyWindow = 4

// Classifier is the two-tier intent classifier.
type Classifier struct {
	rules    []Rule
	registry *action.Registry
	llm      action.Completer
	logger   *zap.Logger
}

// NewClassifier creates a classifier over DefaultRules. llm may be nil, in
// which case only the keyword tier runs.
func NewClassifier(registry *action.Registry, llm action.Completer, logger *zap.Logger) *Classifier {
	return &Classifier{
		rules:    DefaultRules,
		registry: registry,
		llm:      llm,
		logger:   logger,
	}
}

// WithRules replaces the rule table.
func (c *Classifier) WithRules(rules []Rule) *Classifier {
	c.rules = rules
	return c
}

// Classify never fails: any LLM or parse error degrades to the keyword result.
func (c *Classifier) Classify(ctx context.Context, utterance string, history []string) *Result {
	kw := c.keyword(utterance)
	if kw.Confidence >= FastPathThreshold || c.llm == nil {
		return kw
	}

	res, err := c.askLLM(ctx, utterance, history)
	if err != nil {
		c.logger.Debug("llm classification failed, using keyword result",
			zap.String("intent", string(kw.Intent)), zap.Error(err))
		return kw
	}
	return res
}

func (c *Classifier) keyword(utterance string) *Result {
	m, _ := Resolve(c.rules, utterance)
	if m.ToolID != "" && !c.registry.Has(m.ToolID) {
		m = Fallthrough
	}
	return &Result{
		Intent:       m.Intent,
		Confidence:   m.Confidence,
		ToolID:       m.ToolID,
		Reasoning:    "keyword rule " + m.Rule,
		ShouldUseLLM: c.deriveShouldUseLLM(m.Intent, m.ToolID),
		Source:       "keyword",
	}
}

type llmReply struct {
	Intent        Intent   `json:"intent"`
	ToolID        string   `json:"toolId"`
	ToolIDSnake   string   `json:"tool_id"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	MissingFields []string `json:"missingFields"`
}

func (c *Classifier) askLLM(ctx context.Context, utterance string, history []string) (*Result, error) {
	resp, err := c.llm.Route(ctx, provider.PurposeClassify, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: c.systemPrompt()},
			{Role: provider.RoleUser, Content: userPrompt(utterance, history)},
		},
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, err
	}

	var reply llmReply
	if err := jsonx.Decode(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if reply.ToolID == "" {
		reply.ToolID = reply.ToolIDSnake
	}
	if !reply.Intent.Valid() {
		return nil, fmt.Errorf("unknown intent %q", reply.Intent)
	}
	if reply.Intent == ToolCall {
		if !c.registry.Has(reply.ToolID) {
			return nil, fmt.Errorf("unknown tool %q", reply.ToolID)
		}
	} else {
		reply.ToolID = ""
	}

	conf := reply.Confidence
	switch {
	case conf <= 0:
		conf = 0.75
	case conf > 1:
		conf = 1
	}
	return &Result{
		Intent:        reply.Intent,
		Confidence:    conf,
		ToolID:        reply.ToolID,
		MissingFields: reply.MissingFields,
		Reasoning:     reply.Reasoning,
		ShouldUseLLM:  c.deriveShouldUseLLM(reply.Intent, reply.ToolID),
		Source:        "llm",
	}, nil
}

// deriveShouldUseLLM is true for direct answers and workflows, and for tool
// calls whose results need a natural-language explanation.
func (c *Classifier) deriveShouldUseLLM(in Intent, toolID string) bool {
	switch in {
	case TextAnswer, Workflow:
		return true
	case ToolCall:
		return c.registry.Explain(toolID)
	}
	return false
}

func (c *Classifier) systemPrompt() string {
	return fmt.Sprintf(`你是 LaunchBox 的意图分类器。判断用户消息属于以下哪一类：
- text_answer: 直接回答、闲聊或知识问答
- tool_call: 调用一个工具即可完成
- workflow: 需要拆解为多个步骤的复杂任务（如活动策划、竞品分析、市场调研）
- clarify: 信息不足，需要先向用户追问

可用工具:
%s
只输出一个 JSON 对象，不要输出其他内容:
{"intent":"text_answer|tool_call|workflow|clarify","toolId":"工具 id，仅 tool_call 时填写","confidence":0.0,"reasoning":"一句话理由","missingFields":[]}`,
		c.registry.Describe())
}

func userPrompt(utterance string, history []string) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("最近的对话:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "用户消息: %s", utterance)
	return b.String()
}
