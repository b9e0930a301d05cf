package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client talks to the LaunchBox HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: base, http: &http.Client{Timeout: 3 * time.Minute}}
}

// message mirrors the fields of a conversation message the CLI prints.
type message struct {
	ID              string `json:"id"`
	Role            string `json:"role"`
	Text            string `json:"text"`
	IsThinking      bool   `json:"isThinking"`
	IsSystemMessage bool   `json:"isSystemMessage"`
	ImageURL        string `json:"imageUrl"`
	AwaitingStepID  string `json:"awaitingStepId"`
	Affordance      string `json:"affordance"`
}

type turn struct {
	Route    string     `json:"route"`
	Messages []*message `json:"messages"`
}

type todoItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

type todoList struct {
	Goal   string      `json:"goal"`
	Status string      `json:"status"`
	Items  []*todoItem `json:"items"`
}

type conversationInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type adapterStatus struct {
	Platform  string `json:"platform"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) send(convID, text string) (*turn, error) {
	var t turn
	err := c.do(http.MethodPost, "/api/conversations/"+convID+"/messages", map[string]string{"text": text}, &t)
	return &t, err
}

func (c *client) plan(convID string) (*todoList, error) {
	var l todoList
	err := c.do(http.MethodGet, "/api/conversations/"+convID+"/plan", nil, &l)
	return &l, err
}

// control posts start, pause, resume or force.
func (c *client) control(convID, op string) error {
	return c.do(http.MethodPost, "/api/conversations/"+convID+"/plan/"+op, nil, nil)
}

func (c *client) conversations() ([]conversationInfo, error) {
	var list []conversationInfo
	err := c.do(http.MethodGet, "/api/conversations", nil, &list)
	return list, err
}

func (c *client) clear(convID string) error {
	return c.do(http.MethodDelete, "/api/conversations/"+convID, nil, nil)
}

func (c *client) status() ([]adapterStatus, error) {
	var list []adapterStatus
	err := c.do(http.MethodGet, "/api/gateway/status", nil, &list)
	return list, err
}
