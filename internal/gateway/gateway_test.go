package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	handler    MessageHandler
	sent       []*OutboundMessage
	connectErr error
	connected  bool
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}
func (f *fakeAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeAdapter) OnMessage(h MessageHandler) { f.handler = h }
func (f *fakeAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: f.platform, Connected: f.connected}
}
func (f *fakeAdapter) Close() error { return nil }

func TestGatewayRoutesInboundAndOutbound(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	slack := &fakeAdapter{platform: "slack"}
	gw.Register(slack)

	var got *InboundMessage
	gw.SetHandler(func(msg *InboundMessage) { got = msg })
	slack.handler(&InboundMessage{Platform: "slack", ChannelID: "C1", Content: "hi"})
	if got == nil || got.ChannelID != "C1" {
		t.Fatalf("handler not called: %+v", got)
	}

	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "slack", ChannelID: "C1", Content: "ok"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(slack.sent) != 1 || slack.sent[0].Content != "ok" {
		t.Errorf("sent = %+v", slack.sent)
	}
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "discord"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestGatewayConnectAllReportsFailures(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	ok := &fakeAdapter{platform: "slack"}
	bad := &fakeAdapter{platform: "discord", connectErr: errors.New("invalid token")}
	gw.Register(ok)
	gw.Register(bad)

	err := gw.ConnectAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("err = %v", err)
	}
	if !ok.connected {
		t.Error("healthy adapter was not connected")
	}

	status := gw.StatusAll()
	if len(status) != 2 || status[0].Platform != "discord" || status[0].Connected || !status[1].Connected {
		t.Errorf("status = %+v", status)
	}
	if names := gw.Adapters(); strings.Join(names, ",") != "discord,slack" {
		t.Errorf("adapters = %v", names)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("got %v", got)
	}

	long := strings.Repeat("一", 8) + "\n" + strings.Repeat("二", 8)
	parts := splitMessage(long, 10)
	if len(parts) != 2 {
		t.Fatalf("got %d parts: %q", len(parts), parts)
	}
	if parts[0] != strings.Repeat("一", 8)+"\n" {
		t.Errorf("first part %q should end at the line break", parts[0])
	}
	if strings.Join(parts, "") != long {
		t.Error("parts do not rejoin to the input")
	}

	for _, p := range splitMessage(strings.Repeat("x", 25), 10) {
		if len([]rune(p)) > 10 {
			t.Errorf("part too long: %d", len(p))
		}
	}
}
