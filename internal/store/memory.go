package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xscopehub/modelmcp/internal/types"
)

// Memory is a process-local backend, used for development and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	now    func() time.Time
}

type memTable struct {
	nextID int64
	rows   map[int64]Record
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable), now: time.Now}
}

// Repository returns the repository for a model, creating its table lazily.
func (m *Memory) Repository(desc types.ModelDescriptor) (Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := desc.TableName()
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = &memTable{rows: make(map[int64]Record)}
	}
	return &memRepo{backend: m, table: name, desc: desc}, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

type memRepo struct {
	backend *Memory
	table   string
	desc    types.ModelDescriptor
}

func (r *memRepo) List(_ context.Context) ([]Record, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	t := r.backend.tables[r.table]
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.rows[id].Clone())
	}
	return out, nil
}

func (r *memRepo) FindByID(_ context.Context, id int64) (Record, error) {
	r.backend.mu.RLock()
	defer r.backend.mu.RUnlock()
	rec, ok := r.backend.tables[r.table].rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memRepo) Create(_ context.Context, attrs map[string]any) (Record, error) {
	values, err := Coerce(r.desc, attrs, false)
	if err != nil {
		return nil, err
	}
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	t := r.backend.tables[r.table]
	t.nextID++
	rec := Record{types.IDAttribute: t.nextID}
	for k, v := range values {
		rec[k] = v
	}
	now := r.backend.now().UTC()
	r.stamp(rec, "created_at", now)
	r.stamp(rec, "updated_at", now)
	t.rows[t.nextID] = rec
	return rec.Clone(), nil
}

func (r *memRepo) Update(_ context.Context, id int64, attrs map[string]any) (Record, error) {
	values, err := Coerce(r.desc, attrs, true)
	if err != nil {
		return nil, err
	}
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	rec, ok := r.backend.tables[r.table].rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range values {
		rec[k] = v
	}
	r.stamp(rec, "updated_at", r.backend.now().UTC())
	return rec.Clone(), nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	r.backend.mu.Lock()
	defer r.backend.mu.Unlock()
	rows := r.backend.tables[r.table].rows
	if _, ok := rows[id]; !ok {
		return ErrNotFound
	}
	delete(rows, id)
	return nil
}

// stamp sets a timestamp column only when the model exposes it.
func (r *memRepo) stamp(rec Record, column string, at time.Time) {
	if _, ok := r.desc.Attribute(column); ok {
		rec[column] = at
	}
}
