package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memoryStore is a process-local Store. It applies the same version rules as
// the SQLite store so callers behave identically against either.
type memoryStore struct {
	mu       sync.RWMutex
	states   map[string]*StateRecord
	handoffs []*HandoffRecord
	nextID   int64
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{states: make(map[string]*StateRecord)}
}

func (m *memoryStore) Close() error { return nil }
func (m *memoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *memoryStore) GetState(ctx context.Context, id string) (*StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyState(rec, true), nil
}

func (m *memoryStore) PutState(ctx context.Context, rec *StateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Version < 1 {
		return fmt.Errorf("put state %s: version must be positive, got %d", rec.ID, rec.Version)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.states[rec.ID]; ok {
		current = existing.Version
	}
	if current != rec.Version-1 {
		return fmt.Errorf("put state %s (stored v%d, writing v%d): %w", rec.ID, current, rec.Version, ErrVersionConflict)
	}
	m.states[rec.ID] = copyState(rec, true)
	return nil
}

func (m *memoryStore) ListStates(ctx context.Context, limit, offset int) ([]*StateRecord, error) {
	m.mu.RLock()
	out := make([]*StateRecord, 0, len(m.states))
	for _, rec := range m.states {
		out = append(out, copyState(rec, false))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) AppendHandoff(ctx context.Context, rec *HandoffRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[rec.InvestigationID]; !ok {
		return fmt.Errorf("insert handoff: investigation %s: %w", rec.InvestigationID, ErrNotFound)
	}
	m.nextID++
	rec.ID = m.nextID
	cp := *rec
	m.handoffs = append(m.handoffs, &cp)
	return nil
}

func (m *memoryStore) ListHandoffs(ctx context.Context, investigationID string, limit int) ([]*HandoffRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*HandoffRecord
	for i := len(m.handoffs) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.handoffs[i]
		if investigationID != "" && h.InvestigationID != investigationID {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func copyState(rec *StateRecord, withData bool) *StateRecord {
	cp := *rec
	cp.Data = nil
	if withData {
		cp.Data = append([]byte(nil), rec.Data...)
	}
	return &cp
}
