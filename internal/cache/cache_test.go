package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/types"
)

func widget() types.ModelDescriptor {
	return types.ModelDescriptor{
		Name: "widget",
		Attributes: []types.Attribute{
			{Name: "id", Type: types.TypeInteger},
			{Name: "name", Type: types.TypeString},
		},
	}
}

func enabledCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{Enabled: true, NumCounters: 1000, MaxCost: 1 << 20, TTL: time.Minute})
	require.NoError(t, err)
	return c
}

func TestDisabledCache(t *testing.T) {
	c, err := New(Config{Enabled: false})
	require.NoError(t, err)
	c.Set(context.Background(), "k", []byte("v"), 0)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)

	backend := store.NewMemory()
	assert.Same(t, backend, Wrap(backend, c))
}

func TestGetSetDelete(t *testing.T) {
	c := enabledCache(t)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRecordCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	c := enabledCache(t)
	backend := Wrap(store.NewMemory(), c)
	defer backend.Close()

	repo, err := backend.Repository(widget())
	require.NoError(t, err)

	created, err := repo.Create(ctx, map[string]any{"name": "Bolt"})
	require.NoError(t, err)
	id := created.ID()

	first, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bolt", first["name"])
	_, cached := c.Get(ctx, "widgets:1")
	assert.True(t, cached)

	_, err = repo.Update(ctx, id, map[string]any{"name": "Nut"})
	require.NoError(t, err)
	again, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Nut", again["name"])
	assert.Equal(t, id, again.ID())

	require.NoError(t, repo.Delete(ctx, id))
	_, err = repo.FindByID(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// gatedBackend pauses Update inside the backend until release is closed.
type gatedBackend struct {
	store.Backend
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) Repository(desc types.ModelDescriptor) (store.Repository, error) {
	repo, err := b.Backend.Repository(desc)
	if err != nil {
		return nil, err
	}
	return &gatedRepo{Repository: repo, backend: b}, nil
}

type gatedRepo struct {
	store.Repository
	backend *gatedBackend
}

func (r *gatedRepo) Update(ctx context.Context, id int64, attrs map[string]any) (store.Record, error) {
	close(r.backend.entered)
	<-r.backend.release
	return r.Repository.Update(ctx, id, attrs)
}

func TestReadDuringUpdateDoesNotLeaveStaleEntry(t *testing.T) {
	ctx := context.Background()
	gated := &gatedBackend{Backend: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	backend := Wrap(gated, enabledCache(t))
	defer backend.Close()

	repo, err := backend.Repository(widget())
	require.NoError(t, err)
	created, err := repo.Create(ctx, map[string]any{"name": "old"})
	require.NoError(t, err)
	id := created.ID()

	done := make(chan error, 1)
	go func() {
		_, err := repo.Update(ctx, id, map[string]any{"name": "new"})
		done <- err
	}()

	<-gated.entered
	during, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "old", during["name"])

	close(gated.release)
	require.NoError(t, <-done)

	after, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", after["name"])
}
