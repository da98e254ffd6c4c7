// Package store persists pad records: one record per occupied cell,
// keyed by cell id.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/satindergrewal/vidpad/internal/pad"
)

// Memory keeps records in a map. A Put whose Media is nil keeps the
// bytes already stored for that id, as Dir does.
type Memory struct {
	mu      sync.RWMutex
	records map[int]pad.Record
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[int]pad.Record)}
}

// Get returns the record for id, or nil when there is none.
func (m *Memory) Get(_ context.Context, id int) (*pad.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Put stores rec.
func (m *Memory) Put(_ context.Context, rec pad.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Media == nil {
		if old, ok := m.records[rec.ID]; ok {
			rec.Media = old.Media
		}
	}
	m.records[rec.ID] = rec
	return nil
}

// Delete removes id. Deleting a missing id is not an error.
func (m *Memory) Delete(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

// GetAll returns every record ordered by id.
func (m *Memory) GetAll(_ context.Context) ([]pad.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pad.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
