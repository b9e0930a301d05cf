package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/launchbox/internal/rag"
)

// KnowledgeSearcher abstracts knowledge-base queries.
type KnowledgeSearcher interface {
	Query(ctx context.Context, query string, topK int) ([]rag.Result, error)
}

// RegisterSearchCommand registers the /search command.
func RegisterSearchCommand(reg *Registry, searcher KnowledgeSearcher) {
	reg.Register(&Command{
		Name:        "search",
		Description: "检索知识库",
		Usage:       "/search <query>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if strings.TrimSpace(args) == "" {
				return &CommandResult{Content: "用法：/search <关键词>"}, nil
			}
			results, err := searcher.Query(ctx, args, 5)
			if err != nil {
				return nil, fmt.Errorf("knowledge search: %w", err)
			}
			if len(results) == 0 {
				return &CommandResult{Content: "知识库中没有找到：" + args}, nil
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "「%s」的检索结果：\n\n", args)
			for i, r := range results {
				fmt.Fprintf(&sb, "%d. [%.2f] %s\n   %s\n\n", i+1, r.Score, r.Source, r.Content)
			}
			return &CommandResult{Content: sb.String(), Data: results}, nil
		},
	})
}
