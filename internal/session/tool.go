package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/compose"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/stream"
	"go.uber.org/zap"
)

// runTool executes a single tool call. The "running" placeholder is reused
// for the final reply, so an explained result streams into the same
// message the user already sees.
func (m *Manager) runTool(ctx context.Context, s *Session, res *intent.Result, text string) *Turn {
	a, ok := m.deps.Registry.Get(res.ToolID)
	if !ok {
		m.logger.Warn("classified tool not in registry", zap.String("action", res.ToolID))
		return &Turn{Route: RouteTextAnswer, Messages: []*Message{m.answer(ctx, s)}}
	}

	placeholder := newMessage(RoleAgent, fmt.Sprintf("正在执行「%s」...", a.Name))
	placeholder.IsThinking = true
	m.appendPlaceholder(ctx, s, placeholder)
	done := func(reply string) *Turn {
		return &Turn{Route: RouteToolCall, Messages: []*Message{m.finish(ctx, s, placeholder, reply, "")}}
	}

	p := params.QuickExtract(a.ID, text)
	if p == nil {
		p = m.deps.Extractor.Extract(ctx, a.ID, text)
	}
	prepared, missing, err := m.deps.Registry.Prepare(a.ID, p)
	if err != nil {
		return done(fmt.Sprintf("无法执行「%s」：%v", a.Name, err))
	}
	if len(missing) > 0 {
		return done(missingQuestion(a, missing))
	}

	start := time.Now()
	result, err := m.deps.Dispatcher.Dispatch(ctx, a.ID, prepared)
	log := m.logger.With(
		zap.String("conversation", s.id()),
		zap.String("action", a.ID),
		zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		log.Error("tool dispatch failed", zap.Error(err))
		return done(fmt.Sprintf("执行「%s」失败：%v", a.Name, err))
	}
	if result.RequiresInput {
		q := result.Question
		if q == "" {
			q = "请补充更多信息。"
		}
		return done(q)
	}
	if !result.Success {
		log.Warn("tool reported failure", zap.String("error", result.Error))
		if !res.ShouldUseLLM {
			return done(fmt.Sprintf("执行「%s」失败：%s", a.Name, result.Error))
		}
	} else {
		log.Info("tool executed")
	}

	if a.Kind == action.KindImageGeneration && result.Success {
		if img, ok := imageOf(result.Data); ok {
			s.images.Add(placeholder.ID, img)
		}
	}

	if !res.ShouldUseLLM && !m.deps.Registry.Explain(a.ID) {
		return done(compose.Direct(a.ID, a.Name, result.Data))
	}

	prompt := compose.Compose(compose.Input{
		ToolID:    a.ID,
		ToolName:  a.Name,
		Result:    result.Data,
		Success:   result.Success,
		Error:     result.Error,
		Utterance: text,
		At:        time.Now(),
	})
	msgs := m.llmMessages(ctx, s)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: prompt})
	msg := m.stream(ctx, s, placeholder, msgs)
	return &Turn{Route: RouteToolCall, Messages: []*Message{msg}}
}

// stream drains a chat completion into placeholder, publishing deltas, and
// freezes it with the definitive think split.
func (m *Manager) stream(ctx context.Context, s *Session, placeholder *Message, msgs []provider.Message) *Message {
	convID := s.id()
	ch, err := m.deps.LLM.RouteStream(ctx, provider.PurposeChat, &provider.ChatRequest{Messages: msgs})
	if err != nil {
		m.logger.Warn("chat stream failed", zap.String("conversation", convID), zap.Error(err))
		m.publish(ctx, convID, events.Error, map[string]string{"messageId": placeholder.ID, "error": err.Error()})
		return m.finish(ctx, s, placeholder, fmt.Sprintf("抱歉，生成回复时出错：%v", err), "")
	}

	res, err := stream.Drain(ctx, ch, func(visible, thinking string) {
		s.mu.Lock()
		placeholder.Text = visible
		placeholder.Thinking = thinking
		s.mu.Unlock()
		m.publish(ctx, convID, events.MessageDelta, map[string]string{
			"messageId": placeholder.ID,
			"text":      visible,
			"thinking":  thinking,
		})
	})

	text := res.Visible
	if err != nil {
		m.logger.Warn("chat stream interrupted", zap.String("conversation", convID), zap.Error(err))
		m.publish(ctx, convID, events.Error, map[string]string{"messageId": placeholder.ID, "error": err.Error()})
		if strings.TrimSpace(text) == "" {
			text = fmt.Sprintf("抱歉，生成回复时出错：%v", err)
		} else {
			text += "\n\n（回复生成中断）"
		}
	} else if strings.TrimSpace(text) == "" {
		text = "抱歉，我没有生成有效的回复，请换个说法再试一次。"
	}
	return m.finish(ctx, s, placeholder, text, res.Thinking)
}

func missingQuestion(a *action.Action, missing []string) string {
	parts := make([]string, len(missing))
	for i, name := range missing {
		parts[i] = name
		if p, ok := a.Param(name); ok && p.Description != "" {
			parts[i] = fmt.Sprintf("%s（%s）", name, p.Description)
		}
	}
	return fmt.Sprintf("执行「%s」还需要以下信息：%s", a.Name, strings.Join(parts, "、"))
}

// imageOf finds an image URL or inline payload in a generation result.
func imageOf(data any) (Image, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return Image{}, false
	}
	var img Image
	for _, k := range []string{"url", "image_url", "imageUrl"} {
		if v, ok := m[k].(string); ok && v != "" {
			img.URL = v
			break
		}
	}
	for _, k := range []string{"b64_json", "image", "imageData"} {
		if v, ok := m[k].(string); ok && v != "" {
			img.Data = v
			break
		}
	}
	return img, img.URL != "" || img.Data != ""
}
