package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/launchbox/internal/embedding"
	"github.com/nidhogg/launchbox/internal/vectorstore"
	"go.uber.org/zap"
)

// CollKnowledge is the Qdrant collection holding knowledge-base documents.
const CollKnowledge = "launchbox_knowledge"

// Index is the vector store surface the knowledge base needs.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	DeleteWhere(ctx context.Context, collection, key, value string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]vectorstore.Hit, error)
}

// Result is a single retrieval hit.
type Result struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

// KnowledgeBase embeds documents and queries them by similarity.
type KnowledgeBase struct {
	embedder   embedding.Provider
	index      Index
	collection string
	chunkSize  int
	logger     *zap.Logger
}

// New creates a knowledge base over one collection.
func New(embedder embedding.Provider, index Index, logger *zap.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		embedder:   embedder,
		index:      index,
		collection: CollKnowledge,
		chunkSize:  800,
		logger:     logger,
	}
}

// Init ensures the collection exists.
func (kb *KnowledgeBase) Init(ctx context.Context) error {
	dim := uint64(kb.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := kb.index.EnsureCollection(ctx, kb.collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", kb.collection, err)
	}
	return nil
}

// Add splits content into chunks, embeds them, and stores them under
// source, replacing whatever that source held before. It returns the
// number of chunks stored.
func (kb *KnowledgeBase) Add(ctx context.Context, source, content string) (int, error) {
	chunks := Chunk(content, kb.chunkSize)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("empty document")
	}
	vectors, err := kb.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	if err := kb.index.DeleteWhere(ctx, kb.collection, "source", source); err != nil {
		return 0, err
	}
	indexedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]string{
				"content":    c,
				"source":     source,
				"chunk":      fmt.Sprint(i),
				"indexed_at": indexedAt,
			},
		}
	}
	if err := kb.index.Upsert(ctx, kb.collection, points); err != nil {
		return 0, err
	}
	kb.logger.Info("knowledge indexed", zap.String("source", source), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Remove drops every chunk of source.
func (kb *KnowledgeBase) Remove(ctx context.Context, source string) error {
	return kb.index.DeleteWhere(ctx, kb.collection, "source", source)
}

// Query embeds the query and returns the top-K chunks by descending score.
func (kb *KnowledgeBase) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}
	vectors, err := kb.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := kb.index.Search(ctx, kb.collection, vectors[0], uint64(topK))
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Content: h.Payload["content"],
			Source:  h.Payload["source"],
			Score:   h.Score,
		})
	}
	return out, nil
}

// Chunk splits text on paragraph boundaries into pieces of at most size runes.
func Chunk(text string, size int) []string {
	var out []string
	var cur []rune
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			out = append(out, s)
		}
		cur = cur[:0]
	}
	for _, para := range strings.Split(text, "\n\n") {
		r := []rune(strings.TrimSpace(para))
		if len(r) == 0 {
			continue
		}
		if len(cur)+len(r) > size {
			flush()
		}
		for len(r) > size {
			cur = append(cur, r[:size]...)
			flush()
			r = r[size:]
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}

// FormatContext renders results into a prompt-friendly string.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## 知识库检索结果\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] (score: %.2f)\n%s\n\n", i+1, r.Source, r.Score, r.Content)
	}
	return b.String()
}
