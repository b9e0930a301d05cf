package main

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/nidhogg/launchbox/internal/events"
	"go.uber.org/zap"
)

// watch streams a conversation's events, from Redis Streams when redisURL
// is set and from the server WebSocket otherwise. The channel closes when
// ctx is done or the source fails.
func watch(ctx context.Context, server, convID, redisURL string) (<-chan *events.Event, error) {
	if redisURL != "" {
		bus, err := events.NewRedisBus(ctx, redisURL, zap.NewNop())
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			bus.Close()
		}()
		return bus.Subscribe(ctx, convID), nil
	}

	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/api/conversations/" + convID + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan *events.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		for {
			var e events.Event
			if err := conn.ReadJSON(&e); err != nil {
				return
			}
			select {
			case ch <- &e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// eventMessage decodes a message payload. Payloads arrive as generic JSON
// from either source.
func eventMessage(e *events.Event) (*message, bool) {
	if e.Type != events.MessageCompleted || e.Payload == nil {
		return nil, false
	}
	b, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, false
	}
	var m message
	if json.Unmarshal(b, &m) != nil || m.ID == "" {
		return nil, false
	}
	return &m, true
}
