package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BackendProvider talks to the LaunchBox chat backend: a JSON completion
// endpoint plus a WebSocket streaming variant.
//
//	POST {endpoint}/chat         {messages, temperature, max_tokens} -> {success, content, error, usage}
//	WS   {endpoint}/chat/stream  frames: stream_chunk | stream_complete | error
type BackendProvider struct {
	config ProviderConfig
	client *http.Client
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewBackendProvider creates a provider for the LaunchBox chat backend.
func NewBackendProvider(cfg ProviderConfig, logger *zap.Logger) *BackendProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &BackendProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

func (p *BackendProvider) ID() string   { return p.config.ID }
func (p *BackendProvider) Name() string { return p.config.Name }

type backendRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type backendResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// backendFrame is one WebSocket message of the streaming variant.
type backendFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	frameChunk    = "stream_chunk"
	frameComplete = "stream_complete"
	frameError    = "error"
)

func (p *BackendProvider) payload(req *ChatRequest) backendRequest {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel()
	}
	return backendRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// Chat sends a non-streaming completion request.
func (p *BackendProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(p.payload(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, string(respBody))
	}

	var br backendResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !br.Success {
		return nil, fmt.Errorf("backend completion failed: %s", br.Error)
	}
	out := &ChatResponse{Content: br.Content, Model: p.config.DefaultModel()}
	if br.Usage != nil {
		out.Usage = *br.Usage
	}
	return out, nil
}

// streamURL converts the HTTP endpoint into the WebSocket streaming URL.
func (p *BackendProvider) streamURL() (string, error) {
	u, err := url.Parse(p.config.Endpoint + "/chat/stream")
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// ChatStream opens a WebSocket, sends the request, and relays frames until
// stream_complete, error, or ctx cancellation.
func (p *BackendProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	wsURL, err := p.streamURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if p.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	conn, _, err := p.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	if err := conn.WriteJSON(p.payload(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send stream request: %w", err)
	}

	ch := make(chan *StreamChunk, 64)
	go p.readFrames(ctx, conn, ch)
	return ch, nil
}

func (p *BackendProvider) readFrames(ctx context.Context, conn *websocket.Conn, ch chan<- *StreamChunk) {
	defer close(ch)
	defer conn.Close()

	// Unblock ReadJSON when the consumer cancels.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	send := func(c *StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var f backendFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return
			}
			send(&StreamChunk{Done: true, Err: fmt.Errorf("read stream frame: %w", err)})
			return
		}
		switch f.Type {
		case frameChunk:
			if !send(&StreamChunk{Content: f.Content}) {
				return
			}
		case frameComplete:
			send(&StreamChunk{Done: true, FinishReason: "stop"})
			return
		case frameError:
			send(&StreamChunk{Done: true, Err: fmt.Errorf("backend stream error: %s", f.Message)})
			return
		default:
			p.logger.Debug("ignoring unknown stream frame", zap.String("type", f.Type))
		}
	}
}

// HealthCheck pings the backend health route.
func (p *BackendProvider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}
