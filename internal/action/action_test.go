package action

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	actions, err := DefaultCatalog()
	require.NoError(t, err)
	reg, err := NewRegistry(actions)
	require.NoError(t, err)
	return reg
}

func TestDefaultCatalog(t *testing.T) {
	reg := defaultRegistry(t)

	for _, id := range []string{"calculator", "text_processor", "json_formatter", "datetime",
		"web_search", "knowledge_search", "sentiment_analysis", "text_classification",
		"image_generation", "activity_planner", "clarify_form"} {
		assert.True(t, reg.Has(id), "missing %s", id)
	}

	calc, _ := reg.Get("calculator")
	assert.Equal(t, KindCodeExecution, calc.Kind)
	assert.False(t, calc.Explain)
	assert.True(t, reg.Explain("sentiment_analysis"))

	wf, _ := reg.Get("activity_planner")
	steps := wf.Config.(WorkflowConfig).Steps
	assert.Len(t, steps, 5)
	assert.Len(t, reg.ByKind(KindLLMTask), 2)
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown kind", "actions:\n  - id: a\n    kind: teleport\n"},
		{"bad param type", "actions:\n  - id: a\n    kind: clarify\n    parameters:\n      - name: x\n        type: blob\n"},
		{"select without options", "actions:\n  - id: a\n    kind: clarify\n    parameters:\n      - name: x\n        type: select\n"},
		{"duplicate id", "actions:\n  - id: a\n    kind: clarify\n  - id: a\n    kind: clarify\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions, err := ParseCatalog([]byte(tt.yaml))
			if err == nil {
				_, err = NewRegistry(actions)
			}
			assert.Error(t, err)
		})
	}
}

func TestRegistryConfigMustMatchKind(t *testing.T) {
	_, err := NewRegistry([]*Action{{ID: "x", Kind: KindLLMTask, Config: CodeConfig{Handler: "calculator"}}})
	assert.Error(t, err)
}

func TestPrepareAppliesDefaults(t *testing.T) {
	reg := defaultRegistry(t)

	params, missing, err := reg.Prepare("text_processor", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, "word_count", params["operation"])

	_, missing, err = reg.Prepare("text_processor", map[string]any{"text": "   "})
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, missing)

	_, err = reg.Validate("calculator", nil)
	assert.True(t, errors.Is(err, ErrMissingParameter))
	var me *MissingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, []string{"expression"}, me.Fields)

	_, _, err = reg.Prepare("nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestCalculator(t *testing.T) {
	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())

	tests := []struct {
		expr string
		want any
	}{
		{"2+3*4", 14},
		{"（1+2）×3", 9},
		{"10/4", 2.5},
		{"2^10", int64(1024)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res, err := d.Dispatch(context.Background(), "calculator", map[string]any{"expression": tt.expr})
			require.NoError(t, err)
			require.True(t, res.Success, res.Error)
			assert.EqualValues(t, tt.want, res.Data.(map[string]any)["result"])
		})
	}

	res, err := d.Dispatch(context.Background(), "calculator", map[string]any{"expression": "os.Exit(1)"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = d.Dispatch(context.Background(), "calculator", map[string]any{"expression": "1/0"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestIsExpression(t *testing.T) {
	assert.True(t, IsExpression("2+3*4"))
	assert.True(t, IsExpression(" (1 + 2) × 3 "))
	assert.False(t, IsExpression("-5"))
	assert.False(t, IsExpression("1024x768"))
	assert.False(t, IsExpression("计算 2+3"))
}

func TestTextAndJSONHandlers(t *testing.T) {
	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "text_processor", map[string]any{"text": "abc", "operation": "uppercase"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", res.Data.(map[string]any)["result"])

	res, err = d.Dispatch(ctx, "text_processor", map[string]any{"text": "春节 event plan"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Data.(map[string]any)["result"])

	res, err = d.Dispatch(ctx, "json_formatter", map[string]any{"json": `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", res.Data.(map[string]any)["formatted"])

	res, err = d.Dispatch(ctx, "json_formatter", map[string]any{"json": `{oops`})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestDatetimeHandler(t *testing.T) {
	old := now
	now = func() time.Time { return time.Date(2026, 2, 1, 4, 0, 0, 0, time.UTC) }
	defer func() { now = old }()

	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())
	res, err := d.Dispatch(context.Background(), "datetime", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "2026-02-01 12:00:00", res.Data.(map[string]any)["datetime"])
}

func TestClarifyRequiresInputUntilAnswered(t *testing.T) {
	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())

	res, err := d.Dispatch(context.Background(), "clarify_form", nil)
	require.NoError(t, err)
	assert.True(t, res.RequiresInput)
	assert.NotEmpty(t, res.Question)

	res, err = d.Dispatch(context.Background(), "clarify_form", map[string]any{UserResponseParam: "面向新玩家"})
	require.NoError(t, err)
	assert.False(t, res.RequiresInput)
	assert.True(t, res.Success)
}

type fakeLLM struct {
	reply string
	last  *provider.ChatRequest
}

func (f *fakeLLM) Route(_ context.Context, _ provider.Purpose, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.last = req
	return &provider.ChatResponse{Content: f.reply}, nil
}

func TestLLMTask(t *testing.T) {
	llm := &fakeLLM{reply: " 正面，置信度 0.9 "}
	d := NewDispatcher(defaultRegistry(t), llm, nil, zap.NewNop())

	res, err := d.Dispatch(context.Background(), "sentiment_analysis", map[string]any{"text": "这次活动太棒了"})
	require.NoError(t, err)
	assert.Equal(t, "正面，置信度 0.9", res.Data.(map[string]any)["text"])
	require.NotNil(t, llm.last)
	assert.Equal(t, provider.RoleSystem, llm.last.Messages[0].Role)
	assert.Contains(t, llm.last.Messages[1].Content, "这次活动太棒了")
}

func TestRemoteClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req remoteRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "image_generation", req.ActionID)
		assert.Equal(t, KindImageGeneration, req.ActionType)
		assert.Equal(t, "1024x1024", req.Parameters["size"])
		json.NewEncoder(w).Encode(Result{Success: true, Data: map[string]any{"url": "https://cdn/x.png"}})
	}))
	defer srv.Close()

	d := NewDispatcher(defaultRegistry(t), nil, NewRemoteClient(srv.URL, time.Second, zap.NewNop()), zap.NewNop())
	res, err := d.Dispatch(context.Background(), "image_generation", map[string]any{"prompt": "春节海报"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRemoteClientRequiresInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":       true,
			"requiresInput": true,
			"formConfig":    map[string]any{"title": "请选择活动时间"},
		})
	}))
	defer srv.Close()

	d := NewDispatcher(defaultRegistry(t), nil, NewRemoteClient(srv.URL, time.Second, zap.NewNop()), zap.NewNop())
	res, err := d.Dispatch(context.Background(), "activity_planner", map[string]any{"goal": "春节拉新"})
	require.NoError(t, err)
	assert.True(t, res.RequiresInput)
	assert.Equal(t, "请选择活动时间", res.Question)
}

func TestRemoteClientClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(defaultRegistry(t), nil, NewRemoteClient(srv.URL, time.Second, zap.NewNop()), zap.NewNop())
	_, err := d.Dispatch(context.Background(), "web_search", map[string]any{"query": "x"})
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRemoteKindWithoutBackend(t *testing.T) {
	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())
	_, err := d.Dispatch(context.Background(), "web_search", map[string]any{"query": "x"})
	assert.Error(t, err)
}

type fakeSearcher struct{}

func (fakeSearcher) Query(_ context.Context, q string, topK int) ([]rag.Result, error) {
	return []rag.Result{{Content: "春节活动留存提升 12%", Source: "handbook", Score: 0.88}}, nil
}

func TestKnowledgeHandler(t *testing.T) {
	d := NewDispatcher(defaultRegistry(t), nil, nil, zap.NewNop())
	d.Register("knowledge_search", KnowledgeHandler(fakeSearcher{}))

	res, err := d.Dispatch(context.Background(), "knowledge_search", map[string]any{"query": "春节"})
	require.NoError(t, err)
	data := res.Data.(map[string]any)
	assert.Len(t, data["results"], 1)
}
