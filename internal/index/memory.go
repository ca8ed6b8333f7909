package index

import (
	"context"
	"sync"
	"time"
)

var _ Index = (*MemoryIndex)(nil)

// MemoryIndex is a non-durable Index guarded by a single RWMutex. Entries are
// copied on the way in and out so callers cannot mutate stored vectors.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]Entry
}

// NewMemory returns an empty in-memory index.
func NewMemory() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Entry)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkDimension(m.dim, len(e.Vector)); err != nil {
		return err
	}
	m.dim = len(e.Vector)
	e = cloneEntry(e)
	e.UpdatedAt = time.Now().UTC()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, threshold float32) ([]Scored, error) {
	if err := validateQuery(query, k); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dim == 0 {
		return nil, nil
	}
	if err := checkDimension(m.dim, len(query)); err != nil {
		return nil, err
	}

	queryNorm := norm(query)
	best := newTopK(k)
	for id, e := range m.entries {
		if score := cosine(query, e.Vector, queryNorm); score >= threshold {
			best.offer(idScore{ID: id, Score: score})
		}
	}

	winners := best.drain()
	if len(winners) == 0 {
		return nil, nil
	}
	results := make([]Scored, len(winners))
	for i, w := range winners {
		e := cloneEntry(m.entries[w.ID])
		e.Vector = nil
		results[i] = Scored{Entry: e, Score: w.Score}
	}
	return results, nil
}

func (m *MemoryIndex) Get(_ context.Context, id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryIndex) Dimension(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim, nil
}

func (m *MemoryIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	m.dim = 0
	return nil
}

func cloneEntry(e Entry) Entry {
	out := Entry{ID: e.ID, UpdatedAt: e.UpdatedAt}
	if e.Vector != nil {
		out.Vector = append([]float32(nil), e.Vector...)
	}
	if e.Payload != nil {
		out.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
