package optionscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/kvstore"
)

func newTestCache(t *testing.T) (*Cache, kvstore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, "options", kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
	c, err := New(store, nil)
	require.NoError(t, err)
	return c, store
}

func TestRefreshSeedsDefaultsOnEmptyStore(t *testing.T) {
	c, _ := newTestCache(t)
	opts, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, "site.yml", opts.DefaultPlaybook)
	require.Equal(t, 1000, opts.DefaultPageSize)
}

func TestRefreshPreservesStoredOverride(t *testing.T) {
	c, store := newTestCache(t)
	require.NoError(t, store.Put(context.Background(), "options", map[string]interface{}{
		"default_page_size": float64(50),
	}))
	opts, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 50, opts.DefaultPageSize)
	require.Equal(t, "site.yml", opts.DefaultPlaybook)
}

func TestPageSizeOrDefault(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1000, c.PageSizeOrDefault(nil))
	want := 5
	require.Equal(t, 5, c.PageSizeOrDefault(&want))
}
