package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/gateway"
	"github.com/nidhogg/launchbox/internal/session"
	"go.uber.org/zap"
)

type fakeSender struct {
	mu        sync.Mutex
	platforms map[string]bool
	sent      []*gateway.OutboundMessage
}

func (f *fakeSender) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Has(p string) bool { return f.platforms[p] }

func (f *fakeSender) snapshot() []*gateway.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gateway.OutboundMessage(nil), f.sent...)
}

// echoConvs publishes what a session manager would: the user message and
// one agent reply.
type echoConvs struct {
	hub *events.Hub
	err error
}

func (e *echoConvs) HandleMessage(ctx context.Context, convID, text string) (*session.Turn, error) {
	if e.err != nil {
		return nil, e.err
	}
	user := &session.Message{ID: "u", Role: session.RoleUser, Text: text}
	e.hub.Publish(ctx, &events.Event{Type: events.MessageCompleted, ConversationID: convID, Payload: user})
	thinking := &session.Message{ID: "p", Role: session.RoleAgent, IsThinking: true}
	e.hub.Publish(ctx, &events.Event{Type: events.MessageCreated, ConversationID: convID, Payload: thinking})
	reply := &session.Message{ID: "a", Role: session.RoleAgent, Text: "收到：" + text}
	e.hub.Publish(ctx, &events.Event{Type: events.MessageCompleted, ConversationID: convID, Payload: reply})
	return &session.Turn{Route: session.RouteTextAnswer}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestForwardsAgentRepliesToChannel(t *testing.T) {
	hub := events.NewHub(16, zap.NewNop())
	sender := &fakeSender{platforms: map[string]bool{"slack": true}}
	mr := New(&echoConvs{hub: hub}, sender, hub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mr.Run(ctx)
	// Let Run subscribe before the first event.
	time.Sleep(20 * time.Millisecond)

	mr.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "C1", UserName: "kai", Content: "你好"})
	mr.Wait()

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })
	got := sender.snapshot()[0]
	if got.Platform != "slack" || got.ChannelID != "C1" || got.Content != "收到：你好" {
		t.Errorf("sent %+v", got)
	}

	// Web conversations and unknown platforms are not forwarded.
	hub.Publish(ctx, &events.Event{Type: events.MessageCompleted, ConversationID: "web:abc",
		Payload: &session.Message{Role: session.RoleAgent, Text: "x"}})
	hub.Publish(ctx, &events.Event{Type: events.MessageCompleted, ConversationID: "discord:D1",
		Payload: &session.Message{Role: session.RoleAgent, Text: "x"}})
	time.Sleep(50 * time.Millisecond)
	if n := len(sender.snapshot()); n != 1 {
		t.Errorf("forwarded %d messages, want 1", n)
	}
}

func TestHandleReportsErrors(t *testing.T) {
	hub := events.NewHub(16, zap.NewNop())
	sender := &fakeSender{platforms: map[string]bool{"discord": true}}
	mr := New(&echoConvs{hub: hub, err: errors.New("boom")}, sender, hub, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D1", Content: "hi"})
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D1", Content: "   "})
	mr.Wait()

	sent := sender.snapshot()
	if len(sent) != 1 || sent[0].ChannelID != "D1" {
		t.Fatalf("sent %+v", sent)
	}
}

func TestConversationID(t *testing.T) {
	id := ConversationID("slack", "C1:thread")
	p, ch, ok := SplitConversationID(id)
	if !ok || p != "slack" || ch != "C1:thread" {
		t.Errorf("got %q %q %v", p, ch, ok)
	}
	if _, _, ok := SplitConversationID("no-platform"); ok {
		t.Error("expected no platform")
	}
}

type fakeStatus []gateway.AdapterStatus

func (f fakeStatus) StatusAll() []gateway.AdapterStatus { return f }

func TestCommandStatus(t *testing.T) {
	got := CommandStatus(fakeStatus{{Platform: "slack", Connected: true}}).StatusAll()
	if len(got) != 1 || got[0].Name != "slack" || !got[0].Connected {
		t.Errorf("got %+v", got)
	}
}
