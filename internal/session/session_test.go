package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/command"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLLM struct {
	mu       sync.Mutex
	replies  map[provider.Purpose]string
	def      string
	chunks   []string
	calls    map[provider.Purpose]int
	requests map[provider.Purpose][]*provider.ChatRequest
	streamed [][]provider.Message
}

func newStubLLM() *stubLLM {
	return &stubLLM{
		replies: map[provider.Purpose]string{},
		def:     "好的",
		chunks:  []string{"<think>想", "想</think>你好", "！"},
		calls:    map[provider.Purpose]int{},
		requests: map[provider.Purpose][]*provider.ChatRequest{},
	}
}

func (s *stubLLM) Route(_ context.Context, p provider.Purpose, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[p]++
	s.requests[p] = append(s.requests[p], req)
	reply, ok := s.replies[p]
	if !ok {
		reply = s.def
	}
	return &provider.ChatResponse{Content: reply}, nil
}

func (s *stubLLM) RouteStream(_ context.Context, p provider.Purpose, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[p]++
	s.streamed = append(s.streamed, append([]provider.Message(nil), req.Messages...))
	ch := make(chan *provider.StreamChunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		ch <- &provider.StreamChunk{Content: c}
	}
	ch <- &provider.StreamChunk{Done: true, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func (s *stubLLM) count(p provider.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[p]
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string][]byte
	saves int
}

func newMemStore() *memStore { return &memStore{snaps: map[string][]byte{}} }

func (m *memStore) Save(_ context.Context, snap *Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = b
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.snaps[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	var snap Snapshot
	return &snap, json.Unmarshal(b, &snap)
}

func (m *memStore) List(context.Context) ([]Info, error) { return nil, nil }

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

type fixture struct {
	m     *Manager
	llm   *stubLLM
	hub   *events.Hub
	store *memStore
}

func newFixture(t *testing.T, reasoner executor.Reasoner) *fixture {
	t.Helper()
	return newFixtureWith(t, reasoner, nil)
}

// newFixtureWith lets wrap intercept everything the manager publishes.
func newFixtureWith(t *testing.T, reasoner executor.Reasoner, wrap func(events.Publisher) events.Publisher) *fixture {
	t.Helper()
	actions, err := action.DefaultCatalog()
	require.NoError(t, err)
	reg, err := action.NewRegistry(actions)
	require.NoError(t, err)

	f := &fixture{llm: newStubLLM(), hub: events.NewHub(1000, zap.NewNop()), store: newMemStore()}
	logger := zap.NewNop()
	dispatcher := action.NewDispatcher(reg, f.llm, nil, logger)
	cmds := command.NewRegistry()
	var pub events.Publisher = f.hub
	if wrap != nil {
		pub = wrap(f.hub)
	}

	f.m = NewManager(Deps{
		Registry:   reg,
		Dispatcher: dispatcher,
		Classifier: intent.NewClassifier(reg, f.llm, logger),
		Extractor:  params.NewExtractor(reg, f.llm, logger),
		Planner:    plan.NewGenerator(f.llm, logger),
		Reasoner:   reasoner,
		LLM:        f.llm,
		Store:      f.store,
		Events:     pub,
		Commands:   cmds,
	}, Config{ImageCacheSize: 2, Executor: executor.Config{DispatchTimeout: 5 * time.Second}}, logger)
	command.RegisterBuiltins(cmds, f.m, reg, nil)
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) messages(t *testing.T, id string) []*Message {
	t.Helper()
	conv, err := f.m.Get(context.Background(), id)
	require.NoError(t, err)
	return conv.Messages
}

func TestCalculatorToolCall(t *testing.T) {
	f := newFixture(t, nil)

	turn, err := f.m.HandleMessage(context.Background(), "web:1", "计算 2+3*4")
	require.NoError(t, err)

	assert.Equal(t, RouteToolCall, turn.Route)
	assert.Equal(t, intent.ToolCall, turn.Intent.Intent)
	assert.Equal(t, "calculator", turn.Intent.ToolID)
	require.Len(t, turn.Messages, 2)
	reply := turn.Messages[1]
	assert.Contains(t, reply.Text, "14")
	assert.False(t, reply.IsThinking)

	assert.Zero(t, f.llm.count(provider.PurposeClassify))
	assert.Zero(t, f.llm.count(provider.PurposeChat))
}

func TestToolFailureBecomesMessage(t *testing.T) {
	f := newFixture(t, nil)

	turn, err := f.m.HandleMessage(context.Background(), "web:1", "计算 1/0")
	require.NoError(t, err)
	assert.Contains(t, turn.Messages[1].Text, "失败")
}

func TestTextAnswerStreams(t *testing.T) {
	f := newFixture(t, nil)
	ch, unsub := f.hub.Subscribe("web:1")
	defer unsub()

	turn, err := f.m.HandleMessage(context.Background(), "web:1", "你好")
	require.NoError(t, err)
	assert.Equal(t, RouteTextAnswer, turn.Route)

	reply := turn.Messages[1]
	assert.Equal(t, "你好！", reply.Text)
	assert.Equal(t, "想想", reply.Thinking)

	var deltas int
	var completed bool
	for len(ch) > 0 {
		e := <-ch
		switch e.Type {
		case events.MessageDelta:
			deltas++
		case events.MessageCompleted:
			if m, ok := e.Payload.(*Message); ok && m.ID == reply.ID {
				completed = true
			}
		}
	}
	assert.Equal(t, 3, deltas)
	assert.True(t, completed)
}

func TestWorkflowDraftsPlanWithoutExecutor(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposeClassify] = "无法判断"
	f.llm.replies[provider.PurposePlan] = "1. 明确推广目标\n2. 安排预热节奏\n3. 输出推广方案"

	text := "我们下个月要上线一个新的游戏版本，希望你帮我想想整个推广节奏应该怎么安排，包括预热阶段、上线当天以及后续留存的各个阶段分别要做些什么"
	turn, err := f.m.HandleMessage(context.Background(), "web:1", text)
	require.NoError(t, err)

	assert.Equal(t, RouteWorkflow, turn.Route)
	require.NotNil(t, turn.Plan)
	assert.Equal(t, plan.ListDraft, turn.Plan.Status)
	assert.Equal(t, 3, turn.Plan.TotalSteps)
	assert.Len(t, turn.Plan.Items, 3)
	assert.Equal(t, AffordanceStartPlan, turn.Messages[1].Affordance)

	s := f.m.sessions["web:1"]
	s.mu.Lock()
	assert.Nil(t, s.exec)
	s.mu.Unlock()
}

func TestStartPlanRunsToCompletion(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposePlan] = "1. 明确推广目标\n2. 输出推广方案"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)

	turn, err := f.m.HandleMessage(ctx, "web:1", "/start")
	require.NoError(t, err)
	assert.Equal(t, RouteCommand, turn.Route)
	f.m.Wait("web:1")

	l, ok := f.m.Plan("web:1")
	require.True(t, ok)
	assert.Equal(t, plan.ListCompleted, l.Status)

	msgs := f.messages(t, "web:1")
	last := msgs[len(msgs)-1]
	assert.True(t, last.IsSystemMessage)
	assert.Contains(t, last.Text, "共 2 步，成功 2 步")

	var stepMsgs int
	for _, m := range msgs {
		if len(m.ExecutionResults) > 0 {
			stepMsgs++
			assert.Equal(t, "好的", m.Text)
		}
	}
	assert.Equal(t, 2, stepMsgs)

	s := f.m.sessions["web:1"]
	s.mu.Lock()
	assert.Nil(t, s.exec)
	s.mu.Unlock()
	assert.ErrorIs(t, f.m.StartPlan(ctx, "web:1"), ErrPlanFinished)
}

func TestWaitingUserInputRouting(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposePlan] = "1. 格式化 JSON 配置\n2. 输出完整方案"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)
	require.NoError(t, f.m.StartPlan(ctx, "web:1"))
	f.m.Wait("web:1")

	l, _ := f.m.Plan("web:1")
	assert.Equal(t, plan.ListRunning, l.Status)
	assert.Equal(t, plan.ItemWaitingUser, l.Items[0].Status)

	msgs := f.messages(t, "web:1")
	question := msgs[len(msgs)-1]
	assert.Equal(t, l.Items[0].ID, question.AwaitingStepID)
	assert.Contains(t, question.Text, "json")

	classifyCalls := f.llm.count(provider.PurposeClassify)
	turn, err := f.m.HandleMessage(ctx, "web:1", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, RouteStepInput, turn.Route)
	assert.Nil(t, turn.Intent)
	f.m.Wait("web:1")

	assert.Equal(t, classifyCalls, f.llm.count(provider.PurposeClassify))
	l, _ = f.m.Plan("web:1")
	assert.Equal(t, plan.ListCompleted, l.Status)
	assert.Equal(t, plan.ItemCompleted, l.Items[0].Status)
}

// replyingPublisher answers the first step question the moment it is
// published, as a fast WebSocket or chat platform client would.
type replyingPublisher struct {
	events.Publisher
	m     *Manager
	reply string
	once  sync.Once
	route chan Route
}

func (p *replyingPublisher) Publish(ctx context.Context, e *events.Event) {
	p.Publisher.Publish(ctx, e)
	msg, ok := e.Payload.(*Message)
	if e.Type != events.MessageCompleted || !ok || msg.AwaitingStepID == "" {
		return
	}
	p.once.Do(func() {
		turn, err := p.m.HandleMessage(ctx, e.ConversationID, p.reply)
		if err != nil {
			p.route <- Route("error: " + err.Error())
			return
		}
		p.route <- turn.Route
	})
}

func TestReplyRacingStepQuestion(t *testing.T) {
	rp := &replyingPublisher{reply: `{"a":1}`, route: make(chan Route, 1)}
	f := newFixtureWith(t, nil, func(inner events.Publisher) events.Publisher {
		rp.Publisher = inner
		return rp
	})
	rp.m = f.m
	f.llm.replies[provider.PurposePlan] = "1. 格式化 JSON 配置\n2. 输出完整方案"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)
	classifyCalls := f.llm.count(provider.PurposeClassify)
	require.NoError(t, f.m.StartPlan(ctx, "web:1"))

	select {
	case route := <-rp.route:
		assert.Equal(t, RouteStepInput, route)
	case <-time.After(5 * time.Second):
		t.Fatal("step question was never published")
	}
	f.m.Wait("web:1")

	assert.Equal(t, classifyCalls, f.llm.count(provider.PurposeClassify))
	l, _ := f.m.Plan("web:1")
	assert.Equal(t, plan.ListCompleted, l.Status)
	assert.Equal(t, plan.ItemCompleted, l.Items[0].Status)
}

func TestForceContinue(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	reasoner := reasonerFunc(func(_ context.Context, sc executor.StepContext) (executor.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		if sc.Index == 0 && blocked {
			blocked = false
			return executor.Decision{ShouldProceed: false, WaitingForData: true, Reasoning: "还没有目标数据"}, nil
		}
		return executor.Decision{ShouldProceed: true}, nil
	})
	f := newFixture(t, reasoner)
	f.llm.replies[provider.PurposePlan] = "1. 明确推广目标\n2. 输出推广方案"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)
	assert.ErrorIs(t, f.m.ForceNext(ctx, "web:1"), executor.ErrNotRunning)

	require.NoError(t, f.m.StartPlan(ctx, "web:1"))
	f.m.Wait("web:1")

	msgs := f.messages(t, "web:1")
	notice := msgs[len(msgs)-1]
	assert.True(t, notice.IsSystemMessage)
	assert.Equal(t, AffordanceForceContinue, notice.Affordance)
	assert.Contains(t, notice.Text, "还没有目标数据")
	assert.ErrorIs(t, f.m.StartPlan(ctx, "web:1"), ErrPlanRunning)

	require.NoError(t, f.m.ForceNext(ctx, "web:1"))
	f.m.Wait("web:1")
	l, _ := f.m.Plan("web:1")
	assert.Equal(t, plan.ListCompleted, l.Status)
	assert.ErrorIs(t, f.m.ForceNext(ctx, "web:1"), ErrPlanFinished)
}

func TestForceRejectedAfterResume(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	reasoner := reasonerFunc(func(_ context.Context, sc executor.StepContext) (executor.Decision, error) {
		mu.Lock()
		defer mu.Unlock()
		if sc.Index == 0 && blocked {
			blocked = false
			return executor.Decision{ShouldProceed: false, WaitingForData: true, Reasoning: "还没有目标数据"}, nil
		}
		return executor.Decision{ShouldProceed: true}, nil
	})
	f := newFixture(t, reasoner)
	f.llm.replies[provider.PurposePlan] = "1. 明确推广目标\n2. 格式化 JSON 配置"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)
	require.NoError(t, f.m.StartPlan(ctx, "web:1"))
	f.m.Wait("web:1")

	require.NoError(t, f.m.PausePlan("web:1"))
	require.NoError(t, f.m.ResumePlan(ctx, "web:1"))
	f.m.Wait("web:1")

	l, _ := f.m.Plan("web:1")
	require.Equal(t, plan.ItemWaitingUser, l.Items[1].Status)
	assert.ErrorIs(t, f.m.ForceNext(ctx, "web:1"), executor.ErrNotBlocked)
	f.m.Wait("web:1")
	for _, msg := range f.messages(t, "web:1") {
		assert.NotContains(t, msg.Text, "计划执行出错")
	}
}

func TestClassifierSeesUtteranceOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposeClassify] = `{"intent":"text_answer","confidence":0.9}`
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "你好")
	require.NoError(t, err)
	_, err = f.m.HandleMessage(ctx, "web:1", "最近怎么样")
	require.NoError(t, err)

	f.llm.mu.Lock()
	reqs := f.llm.requests[provider.PurposeClassify]
	f.llm.mu.Unlock()
	require.NotEmpty(t, reqs)
	prompt := reqs[len(reqs)-1].Messages[len(reqs[len(reqs)-1].Messages)-1].Content
	assert.Equal(t, 1, strings.Count(prompt, "最近怎么样"))
	assert.Contains(t, prompt, "你好")
}

type reasonerFunc func(ctx context.Context, sc executor.StepContext) (executor.Decision, error)

func (r reasonerFunc) Assess(ctx context.Context, sc executor.StepContext) (executor.Decision, error) {
	return r(ctx, sc)
}

func TestSystemMessagesNeverReachLLM(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "/help")
	require.NoError(t, err)
	_, err = f.m.HandleMessage(ctx, "web:1", "你好")
	require.NoError(t, err)

	require.Len(t, f.llm.streamed, 1)
	for _, msg := range f.llm.streamed[0] {
		assert.NotContains(t, msg.Content, "可用命令")
		assert.NotContains(t, msg.Content, "/help")
	}
	sent := f.llm.streamed[0]
	assert.Equal(t, provider.RoleSystem, sent[0].Role)
	assert.Equal(t, "你好", sent[len(sent)-1].Content)
}

func TestPersistAndRestore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "计算 2+3*4")
	require.NoError(t, err)
	before := f.messages(t, "web:1")

	restored := NewManager(f.m.deps, f.m.config, zap.NewNop())
	conv, err := restored.Get(ctx, "web:1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, conv.Messages[i].ID)
		assert.Equal(t, before[i].Text, conv.Messages[i].Text)
	}
	assert.Equal(t, "计算 2+3*4", conv.Title)

	require.NoError(t, f.m.ClearConversation(ctx, "web:1"))
	_, err = f.m.Get(ctx, "web:1")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestHandleMessageRejectsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.m.HandleMessage(context.Background(), "web:1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestPlanControlsWithoutPlan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Create(ctx, "web:2", "空对话")
	require.NoError(t, err)

	assert.ErrorIs(t, f.m.StartPlan(ctx, "web:2"), ErrNoPlan)
	assert.ErrorIs(t, f.m.PausePlan("web:2"), ErrNoPlan)
	assert.ErrorIs(t, f.m.SubmitStepInput(ctx, "web:2", "", "x"), executor.ErrNotWaiting)
	assert.ErrorIs(t, f.m.StartPlan(ctx, "missing"), ErrConversationNotFound)
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	conv := &Conversation{ID: "web:1", Title: "t", CreatedAt: now, UpdatedAt: now}
	first := newMessage(RoleUser, "画一张春节海报")
	second := newMessage(RoleAgent, "海报已生成")
	second.ImageURL = "https://img.example/1.png"
	second.ImageData = "iVBORw0KGgo="
	third := systemMessage("计划已完成")
	conv.Messages = []*Message{first, second, third}

	list := plan.New("g", []string{"a", "b"})
	require.NoError(t, list.SetStatus(plan.ListRunning))

	raw, err := json.Marshal(ToSnapshot(conv, list))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "iVBORw0KGgo=")
	assert.NotContains(t, string(raw), "img.example")

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	got, gotList := FromSnapshot(&snap)

	require.Len(t, got.Messages, 3)
	for i, want := range conv.Messages {
		assert.Equal(t, want.ID, got.Messages[i].ID)
		assert.Equal(t, want.Text, got.Messages[i].Text)
		assert.Equal(t, want.Role, got.Messages[i].Role)
	}
	assert.Empty(t, got.Messages[1].ImageURL)
	assert.True(t, got.Messages[2].IsSystemMessage)
	assert.Equal(t, plan.ListPaused, gotList.Status)

	// Originals are untouched.
	assert.Equal(t, "iVBORw0KGgo=", second.ImageData)
}

func TestSnapshotToleratesMissingFields(t *testing.T) {
	raw := `{"id":"web:9","messages":[{"id":"m1","role":"user","text":"hi"},null]}`
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	conv, list := FromSnapshot(&snap)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hi", conv.Messages[0].Text)
	assert.Empty(t, conv.Messages[0].ImageURL)
	assert.Nil(t, list)
}

func TestImageCacheEvictsByInsertion(t *testing.T) {
	c := NewImageCache(2)
	c.Add("a", Image{URL: "a"})
	c.Add("b", Image{URL: "b"})
	_, _ = c.Get("a")
	c.Add("c", Image{URL: "c"})

	_, okA := c.Get("a")
	_, okB := c.Get("b")
	_, okC := c.Get("c")
	assert.False(t, okA)
	assert.True(t, okB)
	assert.True(t, okC)
	assert.Equal(t, 2, c.Len())
}

func TestImageAttachedToView(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.m.deps.Dispatcher.Register("image_generation", func(context.Context, *action.Action, map[string]any) (*action.Result, error) {
		return &action.Result{Success: true, Data: map[string]any{"url": "https://img.example/poster.png"}}, nil
	})

	turn, err := f.m.HandleMessage(ctx, "web:1", "画一张春节活动海报")
	require.NoError(t, err)
	reply := turn.Messages[1]

	conv, err := f.m.Get(ctx, "web:1")
	require.NoError(t, err)
	var found bool
	for _, m := range conv.Messages {
		if m.ID == reply.ID {
			found = true
			assert.Equal(t, "https://img.example/poster.png", m.ImageURL)
		}
	}
	assert.True(t, found)

	snap, err := f.store.Load(ctx, "web:1")
	require.NoError(t, err)
	for _, m := range snap.Messages {
		assert.Empty(t, m.ImageURL)
	}
}

func TestMissingParametersAsk(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposeExtract] = `{}`

	turn, err := f.m.HandleMessage(context.Background(), "web:1", "帮我格式化一下 json")
	require.NoError(t, err)
	assert.Equal(t, RouteToolCall, turn.Route)
	assert.True(t, strings.Contains(turn.Messages[1].Text, "还需要以下信息"), turn.Messages[1].Text)
}

func TestClearStopsRunningPlan(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies[provider.PurposePlan] = "1. 格式化 JSON 配置"
	ctx := context.Background()

	_, err := f.m.HandleMessage(ctx, "web:1", "帮我策划一个春节版本的推广方案")
	require.NoError(t, err)
	require.NoError(t, f.m.StartPlan(ctx, "web:1"))
	f.m.Wait("web:1")

	_, err = f.m.HandleMessage(ctx, "web:1", "/clear")
	require.NoError(t, err)
	conv, err := f.m.Get(ctx, "web:1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
	_, ok := f.m.Plan("web:1")
	assert.False(t, ok)
}
