package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/launchbox/internal/vectorstore"
	"go.uber.org/zap"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}
func (fakeEmbedder) Dimension() int { return 2 }

type memIndex struct {
	created  map[string]uint64
	payloads []map[string]string
}

func (m *memIndex) EnsureCollection(_ context.Context, name string, dim uint64) error {
	if m.created == nil {
		m.created = map[string]uint64{}
	}
	m.created[name] = dim
	return nil
}

func (m *memIndex) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	for _, p := range points {
		m.payloads = append(m.payloads, p.Payload)
	}
	return nil
}

func (m *memIndex) DeleteWhere(_ context.Context, _, key, value string) error {
	kept := m.payloads[:0]
	for _, p := range m.payloads {
		if p[key] != value {
			kept = append(kept, p)
		}
	}
	m.payloads = kept
	return nil
}

func (m *memIndex) Search(_ context.Context, _ string, _ []float32, topK uint64) ([]vectorstore.Hit, error) {
	var out []vectorstore.Hit
	for i, p := range m.payloads {
		if uint64(i) >= topK {
			break
		}
		out = append(out, vectorstore.Hit{ID: p["chunk"], Score: 0.9, Payload: p})
	}
	return out, nil
}

func TestKnowledgeBaseAddAndQuery(t *testing.T) {
	idx := &memIndex{}
	kb := New(fakeEmbedder{}, idx, zap.NewNop())
	if err := kb.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if idx.created[CollKnowledge] != 2 {
		t.Errorf("collection not created with dimension 2: %v", idx.created)
	}

	n, err := kb.Add(context.Background(), "ops-handbook", "春节活动复盘\n\n留存提升 12%")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 chunk, got %d", n)
	}

	hits, err := kb.Query(context.Background(), "春节活动效果", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].Source != "ops-handbook" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if !strings.Contains(FormatContext(hits), "留存提升") {
		t.Error("formatted context lost content")
	}
}

func TestKnowledgeBaseReplacesSource(t *testing.T) {
	idx := &memIndex{}
	kb := New(fakeEmbedder{}, idx, zap.NewNop())
	ctx := context.Background()

	if _, err := kb.Add(ctx, "faq", "旧答案"); err != nil {
		t.Fatal(err)
	}
	if _, err := kb.Add(ctx, "other", "无关内容"); err != nil {
		t.Fatal(err)
	}
	if _, err := kb.Add(ctx, "faq", "新答案"); err != nil {
		t.Fatal(err)
	}
	if len(idx.payloads) != 2 {
		t.Fatalf("expected 2 chunks after re-adding faq, got %d", len(idx.payloads))
	}
	for _, p := range idx.payloads {
		if p["content"] == "旧答案" {
			t.Error("stale chunk survived re-ingest")
		}
	}

	if err := kb.Remove(ctx, "other"); err != nil {
		t.Fatal(err)
	}
	if len(idx.payloads) != 1 || idx.payloads[0]["source"] != "faq" {
		t.Errorf("remove left %+v", idx.payloads)
	}
}

func TestChunk(t *testing.T) {
	long := strings.Repeat("字", 25)
	chunks := Chunk("短段落\n\n"+long, 10)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if n := len([]rune(c)); n > 11 {
			t.Errorf("chunk too long (%d runes): %q", n, c)
		}
	}
	if Chunk("  \n\n ", 10) != nil {
		t.Error("blank text should produce no chunks")
	}
}
