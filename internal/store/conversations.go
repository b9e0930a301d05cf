package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/session"
)

// Save upserts a conversation and its TodoList in one transaction. A
// snapshot without a TodoList removes the stored one.
func (s *Store) Save(ctx context.Context, snap *session.Snapshot) error {
	msgs, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	var todo []byte
	if snap.Todo != nil {
		if todo, err = json.Marshal(snap.Todo); err != nil {
			return fmt.Errorf("marshal todo list: %w", err)
		}
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	created := snap.CreatedAt
	if created.IsZero() {
		created = updated
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, title, version, messages, message_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title,
				version = EXCLUDED.version,
				messages = EXCLUDED.messages,
				message_count = EXCLUDED.message_count,
				updated_at = EXCLUDED.updated_at`,
			snap.ID, snap.Title, snap.Version, msgs, len(snap.Messages), created, updated)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}

		if snap.Todo == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM todo_lists WHERE conversation_id = $1`, snap.ID); err != nil {
				return fmt.Errorf("delete todo list: %w", err)
			}
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO todo_lists (conversation_id, list_id, goal, status, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (conversation_id) DO UPDATE SET
				list_id = EXCLUDED.list_id,
				goal = EXCLUDED.goal,
				status = EXCLUDED.status,
				data = EXCLUDED.data,
				updated_at = EXCLUDED.updated_at`,
			snap.ID, snap.Todo.ID, snap.Todo.Goal, string(snap.Todo.Status), todo, updated)
		if err != nil {
			return fmt.Errorf("upsert todo list: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", snap.ID, err)
	}
	return nil
}

// Load returns the snapshot of a conversation.
func (s *Store) Load(ctx context.Context, id string) (*session.Snapshot, error) {
	snap := &session.Snapshot{ID: id}
	var msgs, todo []byte
	err := s.db.QueryRow(ctx, `
		SELECT c.title, c.version, c.messages, c.created_at, c.updated_at, t.data
		FROM conversations c
		LEFT JOIN todo_lists t ON t.conversation_id = c.id
		WHERE c.id = $1`, id,
	).Scan(&snap.Title, &snap.Version, &msgs, &snap.CreatedAt, &snap.UpdatedAt, &todo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}

	if err := json.Unmarshal(msgs, &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	if len(todo) > 0 {
		var list plan.TodoList
		if err := json.Unmarshal(todo, &list); err != nil {
			return nil, fmt.Errorf("decode todo list of %s: %w", id, err)
		}
		snap.Todo = &list
	}
	return snap, nil
}

// List returns every stored conversation, most recently updated first.
func (s *Store) List(ctx context.Context) ([]session.Info, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, message_count, updated_at
		FROM conversations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []session.Info
	for rows.Next() {
		var info session.Info
		if err := rows.Scan(&info.ID, &info.Title, &info.MessageCount, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a conversation and its TodoList. Unknown ids are not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
