package intent

import (
	"regexp"
	"strings"

	"github.com/nidhogg/launchbox/internal/action"
)

// Intent is the routing class of a user utterance.
type Intent string

const (
	TextAnswer Intent = "text_answer"
	ToolCall   Intent = "tool_call"
	Workflow   Intent = "workflow"
	Clarify    Intent = "clarify"
)

// Valid reports whether i is one of the four intents.
func (i Intent) Valid() bool {
	switch i {
	case TextAnswer, ToolCall, Workflow, Clarify:
		return true
	}
	return false
}

// RuleKind tags how a Rule matches.
type RuleKind int

const (
	// RuleKeywords matches when any keyword occurs in the text.
	RuleKeywords RuleKind = iota
	// RuleRegex matches when Pattern matches the text.
	RuleRegex
	// RuleCompound matches when a keyword and Pattern both match, or when
	// Standalone accepts the text on its own.
	RuleCompound
)

// Rule is one entry of the ordered keyword table.
type Rule struct {
	Name       string
	Kind       RuleKind
	Keywords   []string
	Pattern    *regexp.Regexp
	Standalone func(text string) bool
	Intent     Intent
	ToolID     string
	Confidence float64
}

// Match is the result of resolving text against a rule table.
type Match struct {
	Rule       string
	Intent     Intent
	ToolID     string
	Confidence float64
}

func (r *Rule) matches(text, lower string) bool {
	switch r.Kind {
	case RuleKeywords:
		return containsAny(lower, r.Keywords)
	case RuleRegex:
		return r.Pattern != nil && r.Pattern.MatchString(text)
	case RuleCompound:
		if r.Standalone != nil && r.Standalone(text) {
			return true
		}
		return containsAny(lower, r.Keywords) && r.Pattern != nil && r.Pattern.MatchString(text)
	}
	return false
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

var (
	operatorRe = regexp.MustCompile(`\d+(?:\.\d+)?\s*[+\-*/×÷^%]\s*[\d(（]`)
	longTextRe = regexp.MustCompile(`(?s)^\s*\S.{50,}`)
)

// DefaultRules is the built-in table. Order is priority: image generation
// is checked before arithmetic so size requests like "1024*768 的海报" are
// not taken as expressions.
var DefaultRules = []Rule{
	{
		Name:       "image",
		Kind:       RuleKeywords,
		Keywords:   []string{"生成图片", "生成一张", "画一", "画个", "画张", "配图", "海报", "插画", "draw ", "generate an image", "image of", "picture of"},
		Intent:     ToolCall,
		ToolID:     "image_generation",
		Confidence: 0.9,
	},
	{
		Name:       "arithmetic",
		Kind:       RuleCompound,
		Keywords:   []string{"计算", "算一下", "算算", "等于", "多少", "calculate", "compute", "what is"},
		Pattern:    operatorRe,
		Standalone: action.IsExpression,
		Intent:     ToolCall,
		ToolID:     "calculator",
		Confidence: 0.95,
	},
	{
		Name:       "text",
		Kind:       RuleKeywords,
		Keywords:   []string{"转大写", "转小写", "转换成大写", "转换成小写", "反转", "统计字数", "字数", "字符数", "uppercase", "lowercase", "reverse", "word count"},
		Intent:     ToolCall,
		ToolID:     "text_processor",
		Confidence: 0.85,
	},
	{
		Name:       "json",
		Kind:       RuleKeywords,
		Keywords:   []string{"json"},
		Intent:     ToolCall,
		ToolID:     "json_formatter",
		Confidence: 0.85,
	},
	{
		Name:       "datetime",
		Kind:       RuleKeywords,
		Keywords:   []string{"现在几点", "几点了", "今天几号", "今天星期几", "当前时间", "现在时间", "今天日期", "what time", "current time", "today's date"},
		Intent:     ToolCall,
		ToolID:     "datetime",
		Confidence: 0.9,
	},
	{
		Name:       "knowledge",
		Kind:       RuleKeywords,
		Keywords:   []string{"知识库", "文档库", "knowledge base"},
		Intent:     ToolCall,
		ToolID:     "knowledge_search",
		Confidence: 0.85,
	},
	{
		Name:       "search",
		Kind:       RuleKeywords,
		Keywords:   []string{"搜索", "搜一下", "查一下", "查找", "search for", "look up", "google"},
		Intent:     ToolCall,
		ToolID:     "web_search",
		Confidence: 0.8,
	},
	{
		Name:       "sentiment",
		Kind:       RuleKeywords,
		Keywords:   []string{"情感分析", "情感倾向", "情绪", "sentiment"},
		Intent:     ToolCall,
		ToolID:     "sentiment_analysis",
		Confidence: 0.85,
	},
	{
		Name:       "classification",
		Kind:       RuleKeywords,
		Keywords:   []string{"分类", "归类", "classify", "categorize"},
		Intent:     ToolCall,
		ToolID:     "text_classification",
		Confidence: 0.75,
	},
	{
		Name:       "workflow",
		Kind:       RuleKeywords,
		Keywords:   []string{"竞品分析", "市场调研", "活动策划", "策划一个", "策划一场", "运营方案", "活动方案", "competitive analysis", "market research", "event plan"},
		Intent:     Workflow,
		Confidence: 0.85,
	},
	{
		Name:       "long_request",
		Kind:       RuleRegex,
		Pattern:    longTextRe,
		Intent:     Workflow,
		Confidence: 0.7,
	},
}

// Fallthrough is returned when no rule matches.
var Fallthrough = Match{Rule: "default", Intent: TextAnswer, Confidence: 0.6}

// Resolve returns the first rule in table order that matches text.
func Resolve(rules []Rule, text string) (Match, bool) {
	lower := strings.ToLower(text)
	for i := range rules {
		r := &rules[i]
		if r.matches(text, lower) {
			return Match{Rule: r.Name, Intent: r.Intent, ToolID: r.ToolID, Confidence: r.Confidence}, true
		}
	}
	return Fallthrough, false
}

// ResolveStep returns the Action a plan step should run, if any. Only rules
// that name a tool are considered.
func ResolveStep(rules []Rule, text string) (string, bool) {
	lower := strings.ToLower(text)
	for i := range rules {
		r := &rules[i]
		if r.ToolID == "" {
			continue
		}
		if r.matches(text, lower) {
			return r.ToolID, true
		}
	}
	return "", false
}
