// Package history fits conversation history into a token budget before it
// is sent to the LLM.
package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// Config holds fitter settings.
type Config struct {
	MaxTokens int // budget for history messages
	MaxPerMsg int // single-message cap in bytes, applied before summarizing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxTokens: 6000, MaxPerMsg: 4000}
}

// Fitter compresses history that exceeds the budget.
type Fitter struct {
	config Config
	llm    action.Completer
	logger *zap.Logger
}

// New creates a fitter. llm may be nil; old turns are then dropped instead
// of summarized.
func New(cfg Config, llm action.Completer, logger *zap.Logger) *Fitter {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxPerMsg <= 0 {
		cfg.MaxPerMsg = def.MaxPerMsg
	}
	return &Fitter{config: cfg, llm: llm, logger: logger}
}

// Fit returns msgs unchanged when they fit. Otherwise oversized messages
// are truncated, then the older half is summarized until the history fits
// or only the last turn remains.
func (f *Fitter) Fit(ctx context.Context, msgs []provider.Message) []provider.Message {
	total := EstimateTokens(msgs)
	if total <= f.config.MaxTokens {
		return msgs
	}

	f.logger.Info("history exceeds budget, compressing",
		zap.Int("total", total),
		zap.Int("budget", f.config.MaxTokens))

	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if len(m.Content) > f.config.MaxPerMsg {
			out[i].Content = truncateUTF8(m.Content, f.config.MaxPerMsg) + "\n...[已截断]"
		}
	}

	for EstimateTokens(out) > f.config.MaxTokens && len(out) > 2 {
		out = f.compress(ctx, out)
	}
	return out
}

// compress replaces the older half of msgs with a summary, falling back to
// dropping it when summarization fails.
func (f *Fitter) compress(ctx context.Context, msgs []provider.Message) []provider.Message {
	cut := len(msgs) / 2
	old := msgs[:cut]

	var content strings.Builder
	for _, m := range old {
		fmt.Fprintf(&content, "[%s]: %s\n", m.Role, m.Content)
	}

	summary, err := f.summarize(ctx, content.String())
	if err != nil {
		f.logger.Warn("history summarization failed, truncating", zap.Error(err))
		return msgs[cut:]
	}

	summaryMsg := provider.Message{
		Role:    provider.RoleSystem,
		Content: fmt.Sprintf("[对话历史摘要]\n%s", summary),
	}
	out := append([]provider.Message{summaryMsg}, msgs[cut:]...)
	if EstimateTokens(out) >= EstimateTokens(msgs) {
		return msgs[cut:]
	}
	return out
}

func (f *Fitter) summarize(ctx context.Context, text string) (string, error) {
	if f.llm == nil {
		return "", fmt.Errorf("no llm available for summarization")
	}
	resp, err := f.llm.Route(ctx, provider.PurposeSummarize, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: fmt.Sprintf(
				"请将以下对话历史压缩为简洁摘要，保留关键信息：\n\n%s", text)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// EstimateTokens estimates total tokens for a slice of messages.
func EstimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokensStr(m.Content)
	}
	return total
}

// estimateTokensStr estimates tokens for a single string.
// Rough heuristic: ~4 bytes per token for mixed CJK/English.
func estimateTokensStr(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
