package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RemoteClient calls the Action execution backend.
//
//	POST {endpoint}/actions/execute {action_id, action_name, action_type, parameters}
//	-> {success, data, error, requiresInput, formConfig}
type RemoteClient struct {
	endpoint string
	client   *http.Client
	retries  uint64
	logger   *zap.Logger
}

// NewRemoteClient creates a client for the Action backend.
func NewRemoteClient(endpoint string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		retries:  2,
		logger:   logger,
	}
}

type remoteRequest struct {
	ActionID   string         `json:"action_id"`
	ActionName string         `json:"action_name"`
	ActionType Kind           `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
}

// Execute posts the invocation. Transport errors and 5xx responses are
// retried a bounded number of times; 4xx responses are not.
func (c *RemoteClient) Execute(ctx context.Context, a *Action, params map[string]any) (*Result, error) {
	body, err := json.Marshal(remoteRequest{
		ActionID:   a.ID,
		ActionName: a.Name,
		ActionType: a.Kind,
		Parameters: withConfigDefaults(a, params),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var res Result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/actions/execute", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("action backend %d: %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("action backend %d: %s", resp.StatusCode, string(b)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("action backend call failed, retrying",
			zap.String("action", a.ID), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}

	if res.RequiresInput && res.Question == "" {
		res.Question = questionFromForm(res.FormConfig)
	}
	return &res, nil
}

// withConfigDefaults fills kind-config values (image model/size, workflow
// steps) the backend expects when the caller did not supply them.
func withConfigDefaults(a *Action, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	switch c := a.Config.(type) {
	case ImageConfig:
		if _, ok := out["model"]; !ok && c.Model != "" {
			out["model"] = c.Model
		}
		if _, ok := out["size"]; !ok && c.Size != "" {
			out["size"] = c.Size
		}
	case WorkflowConfig:
		if _, ok := out["steps"]; !ok && len(c.Steps) > 0 {
			out["steps"] = c.Steps
		}
	case APIConfig:
		if c.Service != "" {
			out["service"] = c.Service
		}
	}
	return out
}

func questionFromForm(form map[string]any) string {
	for _, k := range []string{"question", "title", "description"} {
		if s, ok := form[k].(string); ok && s != "" {
			return s
		}
	}
	return "请补充所需信息。"
}
