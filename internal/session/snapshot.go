package session

import (
	"context"
	"time"

	"github.com/nidhogg/launchbox/internal/plan"
)

// SnapshotVersion is bumped when the persisted shape changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the persisted form of a conversation and its plan. Image
// payloads are never part of it.
type Snapshot struct {
	Version   int            `json:"version"`
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []*Message     `json:"messages"`
	Todo      *plan.TodoList `json:"todo,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store persists snapshots keyed by conversation id. Load returns an error
// matching ErrConversationNotFound for unknown ids.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, id string) error
}

// ToSnapshot copies conv and list into their persisted form.
func ToSnapshot(conv *Conversation, list *plan.TodoList) *Snapshot {
	snap := &Snapshot{
		Version:   SnapshotVersion,
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  make([]*Message, 0, len(conv.Messages)),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	for _, m := range conv.Messages {
		c := m.clone()
		c.ImageURL = ""
		c.ImageData = ""
		snap.Messages = append(snap.Messages, c)
	}
	if list != nil {
		snap.Todo = list.Clone()
	}
	return snap
}

// FromSnapshot restores a conversation and its plan. A plan that was
// running when persisted comes back paused since no executor survives a
// reload; a streaming placeholder comes back frozen.
func FromSnapshot(snap *Snapshot) (*Conversation, *plan.TodoList) {
	conv := &Conversation{
		ID:        snap.ID,
		Title:     snap.Title,
		Messages:  make([]*Message, 0, len(snap.Messages)),
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}
	for _, m := range snap.Messages {
		if m == nil {
			continue
		}
		c := m.clone()
		c.IsThinking = false
		conv.Messages = append(conv.Messages, c)
	}

	var list *plan.TodoList
	if snap.Todo != nil {
		list = snap.Todo.Clone()
		if list.Status == plan.ListRunning {
			list.Status = plan.ListPaused
		}
	}
	return conv, list
}
