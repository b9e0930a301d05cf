// Package session holds per-conversation state and routes each user
// message to a direct answer, a tool call, a plan or a waiting step.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/command"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/history"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"go.uber.org/zap"
)

// LLM is the chat surface the manager streams replies through.
type LLM interface {
	Route(ctx context.Context, purpose provider.Purpose, req *provider.ChatRequest) (*provider.ChatResponse, error)
	RouteStream(ctx context.Context, purpose provider.Purpose, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error)
}

// Config holds manager settings.
type Config struct {
	ImageCacheSize int
	Executor       executor.Config
	// SystemPrompt opens every chat request.
	SystemPrompt string
}

// DefaultSystemPrompt is the assistant persona.
const DefaultSystemPrompt = "你是 LaunchBox，一名游戏运营助手。回答简洁、准确，使用中文。"

// Deps are the pipeline components a manager drives.
type Deps struct {
	Registry   *action.Registry
	Dispatcher *action.Dispatcher
	Classifier *intent.Classifier
	Extractor  *params.Extractor
	Planner    *plan.Generator
	Reasoner   executor.Reasoner
	LLM        LLM
	History    *history.Fitter
	// Optional.
	Store    Store
	Events   events.Publisher
	Commands *command.Registry
}

// Session is the live state of one conversation.
type Session struct {
	// turn serializes user messages.
	turn sync.Mutex

	mu      sync.Mutex
	conv    *Conversation
	todo    *plan.TodoList
	exec    *executor.Executor
	blocked bool
	images  *ImageCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Manager owns every live session.
type Manager struct {
	deps   Deps
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Turn is what one user message produced synchronously.
type Turn struct {
	Route    Route          `json:"route"`
	Intent   *intent.Result `json:"intent,omitempty"`
	Messages []*Message     `json:"messages"`
	Plan     *plan.TodoList `json:"plan,omitempty"`
}

// NewManager creates a session manager.
func NewManager(deps Deps, cfg Config, logger *zap.Logger) *Manager {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Executor == (executor.Config{}) {
		cfg.Executor = executor.DefaultConfig()
	}
	if deps.History == nil {
		deps.History = history.New(history.DefaultConfig(), deps.LLM, logger)
	}
	return &Manager{
		deps:     deps,
		config:   cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// session returns the live session for id, restoring it from the store or
// creating it when absent.
func (m *Manager) session(ctx context.Context, id string, create bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	var conv *Conversation
	var todo *plan.TodoList
	if m.deps.Store != nil {
		snap, err := m.deps.Store.Load(ctx, id)
		switch {
		case err == nil:
			conv, todo = FromSnapshot(snap)
		case errors.Is(err, ErrConversationNotFound):
		default:
			m.logger.Warn("load conversation", zap.String("conversation", id), zap.Error(err))
		}
	}
	if conv == nil {
		if !create {
			return nil, ErrConversationNotFound
		}
		now := time.Now()
		conv = &Conversation{ID: id, CreatedAt: now, UpdatedAt: now}
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conv:   conv,
		todo:   todo,
		images: NewImageCache(m.config.ImageCacheSize),
		ctx:    sctx,
		cancel: cancel,
	}
	m.sessions[id] = s
	return s, nil
}

// Create starts an empty conversation.
func (m *Manager) Create(ctx context.Context, id, title string) (*Conversation, error) {
	s, err := m.session(ctx, id, true)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.conv.Title == "" {
		s.conv.Title = title
	}
	s.mu.Unlock()
	m.persist(ctx, s)
	return s.view(), nil
}

// Get returns a copy of a conversation with cached images attached.
func (m *Manager) Get(ctx context.Context, id string) (*Conversation, error) {
	s, err := m.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return s.view(), nil
}

// List returns stored and live conversations, most recent first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	byID := make(map[string]Info)
	if m.deps.Store != nil {
		stored, err := m.deps.Store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, info := range stored {
			byID[info.ID] = info
		}
	}

	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		s.mu.Lock()
		byID[s.conv.ID] = Info{
			ID:           s.conv.ID,
			Title:        s.conv.Title,
			MessageCount: len(s.conv.Messages),
			UpdatedAt:    s.conv.UpdatedAt,
		}
		s.mu.Unlock()
	}

	out := make([]Info, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Plan returns a snapshot of the conversation's TodoList.
func (m *Manager) Plan(convID string) (*plan.TodoList, bool) {
	s, err := m.session(context.Background(), convID, false)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todo == nil {
		return nil, false
	}
	return s.todo.Clone(), true
}

// ClearConversation stops any running plan and forgets the conversation.
func (m *Manager) ClearConversation(ctx context.Context, convID string) error {
	m.mu.Lock()
	s, ok := m.sessions[convID]
	delete(m.sessions, convID)
	m.mu.Unlock()

	if ok {
		s.cancel()
		s.wg.Wait()
		s.images.Purge()
	}
	if m.deps.Store != nil {
		if err := m.deps.Store.Delete(ctx, convID); err != nil && !errors.Is(err, ErrConversationNotFound) {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	m.logger.Info("conversation cleared", zap.String("conversation", convID))
	return nil
}

// Wait blocks until background plan runs of a conversation return.
func (m *Manager) Wait(convID string) {
	m.mu.Lock()
	s, ok := m.sessions[convID]
	m.mu.Unlock()
	if ok {
		s.wg.Wait()
	}
}

// Close cancels every background run and waits for them.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		s.wg.Wait()
	}
}

// HandleMessage processes one user message. Failures become agent
// messages; the returned error is reserved for invalid input.
func (m *Manager) HandleMessage(ctx context.Context, convID, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if m.deps.Commands != nil && command.IsCommand(text) {
		return m.handleCommand(ctx, convID, text)
	}

	s, err := m.session(ctx, convID, true)
	if err != nil {
		return nil, err
	}
	s.turn.Lock()
	defer s.turn.Unlock()

	history := s.recentTexts(6)
	user := newMessage(RoleUser, text)
	m.append(ctx, s, user)
	s.mu.Lock()
	if s.conv.Title == "" {
		s.conv.Title = truncateRunes(text, 30)
	}
	waiting, isWaiting := s.waitingItem()
	s.mu.Unlock()

	var turn *Turn
	if isWaiting {
		turn = m.routeStepInput(ctx, s, waiting.ID, text)
	} else {
		turn = m.routeIntent(ctx, s, text, history)
	}
	turn.Messages = append([]*Message{user.clone()}, turn.Messages...)
	m.persist(ctx, s)
	return turn, nil
}

func (m *Manager) handleCommand(ctx context.Context, convID, text string) (*Turn, error) {
	cc := &command.CommandContext{Platform: "web", ChannelID: convID, ConversationID: convID}
	if p, ch, ok := strings.Cut(convID, ":"); ok {
		cc.Platform, cc.ChannelID = p, ch
	}
	res, err := m.deps.Commands.Dispatch(ctx, text, cc)
	reply := ""
	switch {
	case err != nil:
		reply = fmt.Sprintf("命令执行失败：%v", err)
	case res != nil:
		reply = res.Content
	}

	// The command may have cleared the conversation; post into whatever
	// session exists now.
	s, serr := m.session(ctx, convID, true)
	if serr != nil {
		return nil, serr
	}
	user := newMessage(RoleUser, text)
	user.IsSystemMessage = true
	agent := systemMessage(reply)
	m.append(ctx, s, user)
	m.append(ctx, s, agent)
	m.persist(ctx, s)

	turn := &Turn{Route: RouteCommand, Messages: []*Message{user.clone(), agent.clone()}}
	if l, ok := m.Plan(convID); ok {
		turn.Plan = l
	}
	return turn, nil
}

// routeIntent classifies text against the turns before it and runs the
// matching path.
func (m *Manager) routeIntent(ctx context.Context, s *Session, text string, history []string) *Turn {
	res := m.deps.Classifier.Classify(ctx, text, history)
	m.logger.Info("intent classified",
		zap.String("conversation", s.id()),
		zap.String("intent", string(res.Intent)),
		zap.String("tool", res.ToolID),
		zap.Float64("confidence", res.Confidence),
		zap.String("source", res.Source))

	var turn *Turn
	switch res.Intent {
	case intent.ToolCall:
		turn = m.runTool(ctx, s, res, text)
	case intent.Workflow:
		turn = m.proposePlan(ctx, s, text)
	case intent.Clarify:
		turn = m.clarify(ctx, s, res)
	default:
		turn = &Turn{Route: RouteTextAnswer, Messages: []*Message{m.answer(ctx, s)}}
	}
	turn.Intent = res
	return turn
}

// answer streams a direct chat reply to the conversation so far.
func (m *Manager) answer(ctx context.Context, s *Session) *Message {
	msgs := m.llmMessages(ctx, s)
	placeholder := newMessage(RoleAgent, "")
	placeholder.IsThinking = true
	m.appendPlaceholder(ctx, s, placeholder)
	return m.stream(ctx, s, placeholder, msgs)
}

func (m *Manager) clarify(ctx context.Context, s *Session, res *intent.Result) *Turn {
	text := "能再具体说明一下你的需求吗？"
	if len(res.MissingFields) > 0 {
		text = fmt.Sprintf("还需要以下信息才能继续：%s。", strings.Join(res.MissingFields, "、"))
	}
	msg := newMessage(RoleAgent, text)
	m.append(ctx, s, msg)
	return &Turn{Route: RouteClarify, Messages: []*Message{msg.clone()}}
}

// proposePlan generates a draft TodoList. No executor exists until the
// user starts it.
func (m *Manager) proposePlan(ctx context.Context, s *Session, text string) *Turn {
	s.mu.Lock()
	busy := s.todo != nil && (s.todo.Status == plan.ListRunning || s.todo.Status == plan.ListPaused)
	s.mu.Unlock()
	if busy {
		msg := newMessage(RoleAgent, "当前还有未完成的计划。请先完成它，或发送 /clear 清空对话后再创建新计划。")
		m.append(ctx, s, msg)
		return &Turn{Route: RouteWorkflow, Messages: []*Message{msg.clone()}}
	}

	list := m.deps.Planner.Generate(ctx, text, m.templateFor(text))
	if list == nil {
		m.logger.Warn("no plan generated, answering directly", zap.String("conversation", s.id()))
		return &Turn{Route: RouteTextAnswer, Messages: []*Message{m.answer(ctx, s)}}
	}

	s.mu.Lock()
	s.todo = list
	s.exec = nil
	s.blocked = false
	snap := list.Clone()
	s.mu.Unlock()

	msg := newMessage(RoleAgent, fmt.Sprintf("我为你制定了以下计划：\n%s\n\n确认无误后发送 /start 开始执行。", snap.Render()))
	msg.Affordance = AffordanceStartPlan
	m.append(ctx, s, msg)
	m.publish(ctx, s.id(), events.PlanUpdated, snap)

	m.logger.Info("plan drafted", zap.String("conversation", s.id()), zap.Int("steps", snap.TotalSteps))
	return &Turn{Route: RouteWorkflow, Messages: []*Message{msg.clone()}, Plan: snap}
}

// templateFor returns the step template of the first workflow Action whose
// keywords appear in text.
func (m *Manager) templateFor(text string) string {
	lower := strings.ToLower(text)
	for _, a := range m.deps.Registry.ByKind(action.KindWorkflow) {
		cfg, ok := a.Config.(action.WorkflowConfig)
		if !ok || len(cfg.Steps) == 0 {
			continue
		}
		for _, k := range a.Keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				return strings.Join(cfg.Steps, "\n")
			}
		}
	}
	return ""
}

// llmMessages builds the chat request history: system prompt plus every
// message that is neither system-tagged nor still streaming.
func (m *Manager) llmMessages(ctx context.Context, s *Session) []provider.Message {
	s.mu.Lock()
	msgs := make([]provider.Message, 0, len(s.conv.Messages))
	for _, msg := range s.conv.Messages {
		if msg.IsSystemMessage || msg.IsThinking || msg.Text == "" {
			continue
		}
		role := provider.RoleUser
		if msg.Role == RoleAgent {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Content: msg.Text})
	}
	s.mu.Unlock()

	msgs = m.deps.History.Fit(ctx, msgs)
	return append([]provider.Message{{Role: provider.RoleSystem, Content: m.config.SystemPrompt}}, msgs...)
}

func (m *Manager) append(ctx context.Context, s *Session, msg *Message) {
	s.mu.Lock()
	s.conv.Messages = append(s.conv.Messages, msg)
	s.conv.UpdatedAt = time.Now()
	c := msg.clone()
	s.mu.Unlock()

	m.publish(ctx, s.id(), events.MessageCreated, c)
	m.publish(ctx, s.id(), events.MessageCompleted, c)
}

func (m *Manager) appendPlaceholder(ctx context.Context, s *Session, msg *Message) {
	s.mu.Lock()
	s.conv.Messages = append(s.conv.Messages, msg)
	s.conv.UpdatedAt = time.Now()
	c := msg.clone()
	s.mu.Unlock()

	m.publish(ctx, s.id(), events.MessageCreated, c)
}

// finish freezes a placeholder with its final content.
func (m *Manager) finish(ctx context.Context, s *Session, msg *Message, text, thinking string) *Message {
	s.mu.Lock()
	msg.Text = text
	msg.Thinking = thinking
	msg.IsThinking = false
	s.conv.UpdatedAt = time.Now()
	c := msg.clone()
	s.mu.Unlock()

	m.publish(ctx, s.id(), events.MessageCompleted, c)
	return c
}

func (m *Manager) publish(ctx context.Context, convID string, typ events.Type, payload any) {
	if m.deps.Events == nil {
		return
	}
	m.deps.Events.Publish(ctx, &events.Event{
		Type:           typ,
		ConversationID: convID,
		Payload:        payload,
		At:             time.Now(),
	})
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.deps.Store == nil {
		return
	}
	s.mu.Lock()
	snap := ToSnapshot(s.conv, s.todo)
	s.mu.Unlock()
	if err := m.deps.Store.Save(context.WithoutCancel(ctx), snap); err != nil {
		m.logger.Warn("save conversation", zap.String("conversation", snap.ID), zap.Error(err))
	}
}

func (s *Session) id() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ID
}

// view copies the conversation and attaches cached images.
func (s *Session) view() *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.conv
	c.Messages = make([]*Message, len(s.conv.Messages))
	for i, msg := range s.conv.Messages {
		cp := msg.clone()
		if img, ok := s.images.Get(msg.ID); ok {
			cp.ImageURL = img.URL
			cp.ImageData = img.Data
		}
		c.Messages[i] = cp
	}
	return &c
}

// recentTexts returns up to n recent non-system lines for classification.
func (s *Session) recentTexts(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for i := len(s.conv.Messages) - 1; i >= 0 && len(out) < n; i-- {
		msg := s.conv.Messages[i]
		if msg.IsSystemMessage || msg.IsThinking || msg.Text == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", msg.Role, msg.Text))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// waitingItem reports the TodoItem waiting for the user. Callers hold mu.
func (s *Session) waitingItem() (*plan.TodoItem, bool) {
	if s.todo == nil {
		return nil, false
	}
	return s.todo.Waiting()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
