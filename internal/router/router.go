// Package router connects chat platform messages to LaunchBox
// conversations and sends agent replies back to the originating channel.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/gateway"
	"github.com/nidhogg/launchbox/internal/session"
	"go.uber.org/zap"
)

// Conversations handles one user message of a conversation.
type Conversations interface {
	HandleMessage(ctx context.Context, convID, text string) (*session.Turn, error)
}

// Sender delivers messages to platform channels.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
	Has(platform string) bool
}

// Subscriber is the event source agent replies are read from.
type Subscriber interface {
	Subscribe(convID string) (<-chan *events.Event, func())
}

// MessageRouter maps every platform channel to the conversation
// "<platform>:<channel>". Replies are not returned inline: every completed
// agent message of a platform conversation is forwarded, so messages a
// plan produces later reach the channel the same way.
type MessageRouter struct {
	convs  Conversations
	gw     Sender
	events Subscriber
	logger *zap.Logger

	wg sync.WaitGroup
}

// New creates a MessageRouter.
func New(convs Conversations, gw Sender, sub Subscriber, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		convs:  convs,
		gw:     gw,
		events: sub,
		logger: logger,
	}
}

// ConversationID returns the conversation a platform channel maps to.
func ConversationID(platform, channelID string) string {
	return platform + ":" + channelID
}

// SplitConversationID reverses ConversationID.
func SplitConversationID(convID string) (platform, channelID string, ok bool) {
	platform, channelID, ok = strings.Cut(convID, ":")
	if !ok || platform == "" || channelID == "" {
		return "", "", false
	}
	return platform, channelID, true
}

// Handle routes an inbound message into its conversation. It returns at
// once; the message is processed in the background so adapter event loops
// are never blocked on the LLM. Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	if strings.TrimSpace(msg.Content) == "" {
		return
	}
	convID := ConversationID(msg.Platform, msg.ChannelID)
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("conversation", convID),
		zap.String("user", msg.UserName),
	)

	mr.wg.Add(1)
	go func() {
		defer mr.wg.Done()
		ctx := context.Background()
		if _, err := mr.convs.HandleMessage(ctx, convID, msg.Content); err != nil {
			mr.logger.Error("handle message failed", zap.String("conversation", convID), zap.Error(err))
			mr.send(ctx, msg.Platform, msg.ChannelID, fmt.Sprintf("处理消息失败：%v", err))
		}
	}()
}

// Run forwards completed agent messages of platform conversations until
// ctx is done.
func (mr *MessageRouter) Run(ctx context.Context) {
	ch, unsubscribe := mr.events.Subscribe(events.All)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			mr.forward(ctx, e)
		}
	}
}

// Wait blocks until in-flight messages are handled.
func (mr *MessageRouter) Wait() { mr.wg.Wait() }

func (mr *MessageRouter) forward(ctx context.Context, e *events.Event) {
	if e.Type != events.MessageCompleted {
		return
	}
	platform, channel, ok := SplitConversationID(e.ConversationID)
	if !ok || !mr.gw.Has(platform) {
		return
	}
	msg, ok := e.Payload.(*session.Message)
	if !ok || msg.Role != session.RoleAgent || msg.IsThinking || strings.TrimSpace(msg.Text) == "" {
		return
	}
	mr.send(ctx, platform, channel, msg.Text)
}

func (mr *MessageRouter) send(ctx context.Context, platform, channel, text string) {
	err := mr.gw.Send(ctx, &gateway.OutboundMessage{
		Platform:  platform,
		ChannelID: channel,
		Content:   text,
	})
	if err != nil {
		mr.logger.Error("send reply failed",
			zap.String("platform", platform),
			zap.String("channel", channel),
			zap.Error(err))
	}
}
