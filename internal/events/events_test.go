package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestHubDeliversByConversation(t *testing.T) {
	h := NewHub(10, zap.NewNop())
	a, unsubA := h.Subscribe("conv-a")
	defer unsubA()
	b, unsubB := h.Subscribe("conv-b")
	defer unsubB()
	all, unsubAll := h.Subscribe(All)
	defer unsubAll()

	h.Publish(context.Background(), &Event{Type: MessageCreated, ConversationID: "conv-a"})

	select {
	case e := <-a:
		assert.Equal(t, MessageCreated, e.Type)
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("conv-a subscriber got nothing")
	}
	select {
	case e := <-all:
		assert.Equal(t, "conv-a", e.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber got nothing")
	}
	select {
	case e := <-b:
		t.Fatalf("conv-b received %v", e)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1, zap.NewNop())
	ch, unsub := h.Subscribe("c")
	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	h.Publish(context.Background(), &Event{Type: MessageDelta, ConversationID: "c"})
	h.mu.RLock()
	defer h.mu.RUnlock()
	assert.Empty(t, h.subs)
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1, zap.NewNop())
	ch, unsub := h.Subscribe("c")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(context.Background(), &Event{Type: MessageDelta, ConversationID: "c"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

type recorder struct{ got []*Event }

func (r *recorder) Publish(_ context.Context, e *Event) { r.got = append(r.got, e) }

func TestFanout(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	Fanout{r1, r2}.Publish(context.Background(), &Event{Type: PlanCompleted})
	assert.Len(t, r1.got, 1)
	assert.Len(t, r2.got, 1)
}

func TestRedisBusRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, container)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	bus, err := NewRedisBus(ctx, "redis://"+endpoint, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := bus.Subscribe(subCtx, "web:1")

	// XRead from "$" only sees entries added after the first read is issued.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case e, ok := <-ch:
			require.True(t, ok)
			assert.Equal(t, StepResult, e.Type)
			assert.Equal(t, "web:1", e.ConversationID)
			return
		case <-tick.C:
			bus.Publish(ctx, &Event{Type: StepResult, ConversationID: "web:1", Payload: map[string]any{"stepId": "step-1"}})
		case <-deadline:
			t.Fatal("no event read back from the stream")
		}
	}
}
