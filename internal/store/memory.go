package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/launchbox/internal/session"
)

// MemoryStore keeps encoded snapshots in a map. It is the store used when
// no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]byte)}
}

// Save stores an encoded copy so later mutations of snap are not visible.
func (m *MemoryStore) Save(_ context.Context, snap *session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	m.mu.Lock()
	m.snaps[snap.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*session.Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]session.Info, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]session.Info, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, session.Info{
			ID:           snap.ID,
			Title:        snap.Title,
			MessageCount: len(snap.Messages),
			UpdatedAt:    snap.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.snaps, id)
	m.mu.Unlock()
	return nil
}
