package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/rag"
	"github.com/nidhogg/launchbox/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLLM struct {
	mu      sync.Mutex
	replies map[provider.Purpose]string
}

func (s *stubLLM) Route(_ context.Context, p provider.Purpose, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.replies[p]; ok {
		return &provider.ChatResponse{Content: r}, nil
	}
	return &provider.ChatResponse{Content: "好的"}, nil
}

func (s *stubLLM) RouteStream(_ context.Context, _ provider.Purpose, _ *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	ch := make(chan *provider.StreamChunk, 2)
	ch <- &provider.StreamChunk{Content: "你好"}
	ch <- &provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

type fakeKnowledge struct {
	added   []string
	removed []string
}

func (f *fakeKnowledge) Add(_ context.Context, _, content string) (int, error) {
	f.added = append(f.added, content)
	return 1, nil
}

func (f *fakeKnowledge) Query(_ context.Context, q string, topK int) ([]rag.Result, error) {
	return []rag.Result{{Content: "关于 " + q, Source: "faq", Score: 0.9}}, nil
}

func (f *fakeKnowledge) Remove(_ context.Context, source string) error {
	f.removed = append(f.removed, source)
	return nil
}

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
	hub      *events.Hub
	kb       *fakeKnowledge
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	actions, err := action.DefaultCatalog()
	require.NoError(t, err)
	reg, err := action.NewRegistry(actions)
	require.NoError(t, err)

	llm := &stubLLM{replies: map[provider.Purpose]string{
		provider.PurposePlan: "1. 明确推广目标\n2. 输出推广方案",
	}}
	hub := events.NewHub(256, logger)
	classifier := intent.NewClassifier(reg, llm, logger)
	extractor := params.NewExtractor(reg, llm, logger)
	planner := plan.NewGenerator(llm, logger)

	mgr := session.NewManager(session.Deps{
		Registry:   reg,
		Dispatcher: action.NewDispatcher(reg, llm, nil, logger),
		Classifier: classifier,
		Extractor:  extractor,
		Planner:    planner,
		LLM:        llm,
		Events:     hub,
	}, session.Config{Executor: executor.Config{DispatchTimeout: 5 * time.Second}}, logger)
	t.Cleanup(mgr.Close)

	kb := &fakeKnowledge{}
	h := NewHandler(Deps{
		Sessions:   mgr,
		Registry:   reg,
		Classifier: classifier,
		Extractor:  extractor,
		Planner:    planner,
		Events:     hub,
		Knowledge:  kb,
	}, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sessions: mgr, hub: hub, kb: kb}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/health", nil)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestActions(t *testing.T) {
	e := newTestEnv(t)

	var list []map[string]any
	decodeJSON(t, e.do(t, http.MethodGet, "/api/actions", nil), &list)
	assert.NotEmpty(t, list)

	resp := e.do(t, http.MethodGet, "/api/actions/calculator", nil)
	var a map[string]any
	decodeJSON(t, resp, &a)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "calculator", a["id"])

	resp = e.do(t, http.MethodGet, "/api/actions/nope", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClassifyIntent(t *testing.T) {
	e := newTestEnv(t)
	var res map[string]any
	decodeJSON(t, e.do(t, http.MethodPost, "/api/intent", map[string]string{"utterance": "计算 2+3*4"}), &res)
	assert.Equal(t, "tool_call", res["intent"])
	assert.Equal(t, "calculator", res["toolId"])
}

func TestExtractParameters(t *testing.T) {
	e := newTestEnv(t)

	var quick struct {
		Parameters map[string]any `json:"parameters"`
	}
	decodeJSON(t, e.do(t, http.MethodPost, "/api/params",
		map[string]any{"tool_id": "calculator", "utterance": "2+3*4", "quick": true}), &quick)
	assert.Equal(t, "2+3*4", quick.Parameters["expression"])

	resp := e.do(t, http.MethodPost, "/api/params", map[string]string{"utterance": "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGeneratePlan(t *testing.T) {
	e := newTestEnv(t)
	var l plan.TodoList
	resp := e.do(t, http.MethodPost, "/api/plans", map[string]string{"utterance": "帮我策划一个推广方案"})
	decodeJSON(t, resp, &l)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, plan.ListDraft, l.Status)
	assert.Equal(t, 2, l.TotalSteps)
}

func TestBadBody(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/intent", "{not json")
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestConversationLifecycle(t *testing.T) {
	e := newTestEnv(t)

	var conv session.Conversation
	resp := e.do(t, http.MethodPost, "/api/conversations", map[string]string{"title": "测试"})
	decodeJSON(t, resp, &conv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "测试", conv.Title)

	var turn session.Turn
	resp = e.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"text": "计算 2+3*4"})
	decodeJSON(t, resp, &turn)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.RouteToolCall, turn.Route)
	require.Len(t, turn.Messages, 2)
	assert.Contains(t, turn.Messages[1].Text, "14")

	var list []session.Info
	decodeJSON(t, e.do(t, http.MethodGet, "/api/conversations", nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)

	resp = e.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", map[string]string{"text": "  "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/conversations/"+conv.ID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlanControls(t *testing.T) {
	e := newTestEnv(t)
	base := "/api/conversations/web-1"

	resp := e.do(t, http.MethodGet, base+"/plan", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var turn session.Turn
	decodeJSON(t, e.do(t, http.MethodPost, base+"/messages", map[string]string{"text": "帮我策划一个春节版本的推广方案"}), &turn)
	require.Equal(t, session.RouteWorkflow, turn.Route)

	resp = e.do(t, http.MethodPost, base+"/plan/force", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, base+"/plan/start", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	e.sessions.Wait("web-1")

	var l plan.TodoList
	decodeJSON(t, e.do(t, http.MethodGet, base+"/plan", nil), &l)
	assert.Equal(t, plan.ListCompleted, l.Status)

	var body map[string]string
	resp = e.do(t, http.MethodPost, base+"/plan/start", nil)
	decodeJSON(t, resp, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp = e.do(t, http.MethodPost, base+"/plan/input", map[string]string{"text": "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/conversations/missing/plan/pause", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	e := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/conversations/web-ws/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade; give it a moment.
	time.Sleep(50 * time.Millisecond)
	e.hub.Publish(context.Background(), &events.Event{Type: events.PlanUpdated, ConversationID: "web-ws"})
	e.hub.Publish(context.Background(), &events.Event{Type: events.PlanUpdated, ConversationID: "other"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.PlanUpdated, got.Type)
	assert.Equal(t, "web-ws", got.ConversationID)
}

func TestKnowledge(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/knowledge", map[string]string{"source": "faq", "content": "充值返利规则"})
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"充值返利规则"}, e.kb.added)

	var results []rag.Result
	decodeJSON(t, e.do(t, http.MethodGet, "/api/knowledge/search?q=返利", nil), &results)
	require.Len(t, results, 1)
	assert.Equal(t, "faq", results[0].Source)

	resp = e.do(t, http.MethodGet, "/api/knowledge/search", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/api/knowledge/faq", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"faq"}, e.kb.removed)
}
