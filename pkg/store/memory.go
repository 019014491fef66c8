package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory is an in-process Store backed by a map. It is the default backend
// and the one the test suites run against.
type Memory struct {
	mu     sync.RWMutex
	drafts map[string]Draft
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		drafts: make(map[string]Draft),
	}
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, draft Draft) (Draft, error) {
	if err := Validate(draft); err != nil {
		return Draft{}, err
	}

	draft.ID = ulid.Make().String()
	draft.SavedDate = time.Now().UTC()

	m.mu.Lock()
	m.drafts[draft.ID] = draft
	m.mu.Unlock()

	return draft, nil
}

// UpdateByID implements Store.
func (m *Memory) UpdateByID(ctx context.Context, id string, update Update) (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	draft, ok := m.drafts[id]
	if !ok {
		return Draft{}, ErrNotFound
	}

	if update.Data != nil {
		draft.Data = *update.Data
	}
	if update.StoryblokID != nil {
		draft.StoryblokID = *update.StoryblokID
	}
	draft.SavedDate = time.Now().UTC()

	m.drafts[id] = draft
	return draft, nil
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, filter Filter) ([]Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Draft
	for _, draft := range m.drafts {
		if draft.UserID != filter.UserID {
			continue
		}
		if filter.StoryblokID != "" && draft.StoryblokID != filter.StoryblokID {
			continue
		}
		out = append(out, draft)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedDate.Equal(out[j].SavedDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].SavedDate.Before(out[j].SavedDate)
	})

	return out, nil
}

// Len returns the number of stored drafts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.drafts)
}
