// Package params turns a natural-language request into the argument object
// of one Action.
package params

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/jsonx"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

var calcTriggers = strings.NewReplacer(
	"帮我计算", "", "帮我算一下", "", "帮我算", "", "请计算", "", "计算一下", "", "计算", "",
	"算一下", "", "算算", "", "等于多少", "", "等于几", "", "是多少", "", "等于", "", "一下", "",
	"calculate", "", "compute", "", "what is", "",
	"请", "", "=", "", "？", "", "?", "", "：", "", ":", "",
)

var timeTriggers = strings.NewReplacer(
	"请问", "", "告诉我", "", "一下", "", "现在", "", "当前", "", "几点了", "", "几点", "",
	"今天", "", "几号", "", "星期几", "", "日期", "", "时间", "", "是", "", "多少", "",
	"what time is it", "", "what time", "", "what's the date", "", "date", "", "today", "", "now", "",
	"？", "", "?", "", "。", "", "，", "", ",", "", "!", "", "！", "", " ", "",
)

// QuickExtract handles utterances that already are the argument, without an
// LLM call. It returns nil when the full extractor is needed.
func QuickExtract(toolID, utterance string) map[string]any {
	switch toolID {
	case "calculator":
		e := action.NormalizeExpression(calcTriggers.Replace(strings.ToLower(utterance)))
		if action.IsExpression(e) {
			return map[string]any{"expression": e}
		}
	case "datetime":
		// A bare "what time is it" takes the catalog defaults; anything left
		// over names a place or zone for the full extractor.
		if timeTriggers.Replace(strings.ToLower(utterance)) == "" {
			return map[string]any{}
		}
	}
	return nil
}

// Extractor fills Action parameters from an utterance.
type Extractor struct {
	registry *action.Registry
	llm      action.Completer
	logger   *zap.Logger
}

// NewExtractor creates an extractor. llm may be nil; only the quick and
// fallback paths then run.
func NewExtractor(registry *action.Registry, llm action.Completer, logger *zap.Logger) *Extractor {
	return &Extractor{registry: registry, llm: llm, logger: logger}
}

// Extract never fails. A missing required parameter shows up as an absent
// key; the caller validates before dispatch.
func (e *Extractor) Extract(ctx context.Context, toolID, utterance string) map[string]any {
	if p := QuickExtract(toolID, utterance); p != nil {
		return p
	}
	a, ok := e.registry.Get(toolID)
	if !ok || e.llm == nil || len(a.Parameters) == 0 {
		return Fallback(a, toolID, utterance)
	}

	out, err := e.askLLM(ctx, a, utterance)
	if err != nil || len(out) == 0 {
		e.logger.Debug("llm extraction failed, using fallback",
			zap.String("tool", toolID), zap.Error(err))
		return Fallback(a, toolID, utterance)
	}

	// Fill required gaps the model left from the deterministic path.
	fb := Fallback(a, toolID, utterance)
	for _, p := range a.Parameters {
		if _, ok := out[p.Name]; !ok && p.Required {
			if v, ok := fb[p.Name]; ok {
				out[p.Name] = v
			}
		}
	}
	return out
}

func (e *Extractor) askLLM(ctx context.Context, a *action.Action, utterance string) (map[string]any, error) {
	resp, err := e.llm.Route(ctx, provider.PurposeExtract, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: schemaPrompt(a)},
			{Role: provider.RoleUser, Content: utterance},
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := jsonx.Decode(resp.Content, &raw); err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}
	out := make(map[string]any, len(raw))
	for _, p := range a.Parameters {
		if v, ok := raw[p.Name]; ok && v != nil {
			out[p.Name] = v
		}
	}
	return out, nil
}

func schemaPrompt(a *action.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "你是参数提取器。从用户消息中提取工具「%s」(%s) 的调用参数。\n\n参数:\n", a.Name, a.ID)
	for _, p := range a.Parameters {
		req := "可选"
		if p.Required {
			req = "必填"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", p.Name, p.Type, req)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		if len(p.Options) > 0 {
			fmt.Fprintf(&b, "；可选值: %s", strings.Join(p.Options, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n只输出一个 JSON 对象。无法确定的参数不要输出，不要编造。")
	return b.String()
}

var (
	exprRunRe = regexp.MustCompile(`[\d\s+\-*/().%^×÷（）]+`)
	quotedRe  = regexp.MustCompile(`[“"「『‘']([^”"」』’']+)[”"」』’']`)
)

var instructionWords = strings.NewReplacer(
	"帮我", "", "请", "", "把", "", "将", "",
	"转换成大写", "", "转换成小写", "", "转大写", "", "转小写", "", "反转", "",
	"统计字数", "", "统计", "", "字符数", "", "字数", "",
	"做个情感分析", "", "情感分析", "", "分析一下", "", "分析", "",
	"归类一下", "", "归类", "", "分类", "",
	"在知识库里", "", "在知识库中", "", "知识库", "",
	"搜索一下", "", "搜一下", "", "查一下", "", "搜索", "", "查找", "",
	"这段文本", "", "这段话", "", "这句话", "", "的情感", "", "一下", "",
)

// Fallback is the deterministic extraction used when the LLM path is
// unavailable. a may be nil for ids missing from the registry.
func Fallback(a *action.Action, toolID, utterance string) map[string]any {
	switch toolID {
	case "calculator":
		if e := longestExpression(utterance); e != "" {
			return map[string]any{"expression": e}
		}
		return map[string]any{}
	case "text_processor":
		return map[string]any{"text": payloadText(utterance), "operation": textOperation(utterance)}
	case "json_formatter":
		out := map[string]any{}
		if obj, ok := jsonx.FirstObject(utterance); ok {
			out["json"] = obj
		}
		if strings.Contains(utterance, "压缩") || strings.Contains(strings.ToLower(utterance), "minify") {
			out["mode"] = "minify"
		}
		return out
	case "datetime":
		return map[string]any{}
	case "sentiment_analysis", "text_classification":
		return map[string]any{"text": payloadText(utterance)}
	case "web_search", "knowledge_search":
		return map[string]any{"query": payloadText(utterance)}
	}
	if a != nil {
		for _, p := range a.Parameters {
			if p.Required && (p.Type == action.ParamString || p.Type == action.ParamTextarea) {
				return map[string]any{p.Name: strings.TrimSpace(utterance)}
			}
		}
	}
	return map[string]any{"text": strings.TrimSpace(utterance)}
}

func longestExpression(s string) string {
	best := ""
	for _, run := range exprRunRe.FindAllString(s, -1) {
		e := action.NormalizeExpression(run)
		if action.IsExpression(e) && len(e) > len(best) {
			best = e
		}
	}
	return best
}

// payloadText returns quoted text when present, otherwise the utterance
// with instruction words and a leading label removed.
func payloadText(s string) string {
	if m := quotedRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if i := strings.IndexAny(s, ":："); i >= 0 {
		_, size := utf8.DecodeRuneInString(s[i:])
		if rest := strings.TrimSpace(s[i+size:]); rest != "" {
			return rest
		}
	}
	if t := strings.TrimSpace(instructionWords.Replace(s)); t != "" {
		return t
	}
	return strings.TrimSpace(s)
}

func textOperation(s string) string {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "大写") || strings.Contains(l, "uppercase"):
		return "uppercase"
	case strings.Contains(l, "小写") || strings.Contains(l, "lowercase"):
		return "lowercase"
	case strings.Contains(l, "反转") || strings.Contains(l, "reverse"):
		return "reverse"
	case strings.Contains(l, "字符数") || strings.Contains(l, "char"):
		return "char_count"
	case strings.Contains(l, "去空格") || strings.Contains(l, "trim"):
		return "trim"
	}
	return "word_count"
}
