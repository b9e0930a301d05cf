package action

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nidhogg/launchbox/internal/rag"
)

// Searcher queries the knowledge base.
type Searcher interface {
	Query(ctx context.Context, query string, topK int) ([]rag.Result, error)
}

// KnowledgeHandler answers knowledge_search from the local knowledge base
// instead of the remote backend.
func KnowledgeHandler(s Searcher) Handler {
	return func(ctx context.Context, _ *Action, params map[string]any) (*Result, error) {
		query := fmt.Sprint(params["query"])
		topK := intParam(params["top_k"], 5)

		hits, err := s.Query(ctx, query, topK)
		if err != nil {
			return nil, fmt.Errorf("knowledge query: %w", err)
		}
		docs := make([]map[string]any, len(hits))
		for i, h := range hits {
			docs[i] = map[string]any{
				"content": h.Content,
				"source":  h.Source,
				"score":   h.Score,
			}
		}
		return &Result{Success: true, Data: map[string]any{
			"query":   query,
			"results": docs,
		}}, nil
	}
}

func intParam(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}
