package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/types"
)

// Backend caches FindByID results of the wrapped backend. Writes through the
// same backend evict the affected record.
type Backend struct {
	store.Backend
	cache *Cache
}

// Wrap returns next unchanged when c is disabled.
func Wrap(next store.Backend, c *Cache) store.Backend {
	if !c.Enabled() {
		return next
	}
	return &Backend{Backend: next, cache: c}
}

// Repository returns the cached repository for desc.
func (b *Backend) Repository(desc types.ModelDescriptor) (store.Repository, error) {
	repo, err := b.Backend.Repository(desc)
	if err != nil {
		return nil, err
	}
	return &repository{Repository: repo, cache: b.cache, prefix: desc.TableName() + ":"}, nil
}

// Close closes the wrapped backend and the cache.
func (b *Backend) Close() error {
	b.cache.Close()
	return b.Backend.Close()
}

type repository struct {
	store.Repository
	cache  *Cache
	prefix string
}

func (r *repository) key(id int64) string {
	return r.prefix + strconv.FormatInt(id, 10)
}

func (r *repository) FindByID(ctx context.Context, id int64) (store.Record, error) {
	if data, ok := r.cache.Get(ctx, r.key(id)); ok {
		if rec, err := decode(data); err == nil {
			return rec, nil
		}
	}
	rec, err := r.Repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(rec); err == nil {
		r.cache.Set(ctx, r.key(id), data, 0)
	}
	return rec, nil
}

// Update and Delete evict before and after the write: a FindByID racing the
// write may re-cache the old record in between.
func (r *repository) Update(ctx context.Context, id int64, attrs map[string]any) (store.Record, error) {
	r.cache.Delete(ctx, r.key(id))
	rec, err := r.Repository.Update(ctx, id, attrs)
	r.cache.Delete(ctx, r.key(id))
	return rec, err
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	r.cache.Delete(ctx, r.key(id))
	err := r.Repository.Delete(ctx, id)
	r.cache.Delete(ctx, r.key(id))
	return err
}

func decode(data []byte) (store.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec store.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
