package migration

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/kvstore"
)

func newTestStore(t *testing.T, client *redis.Client, keyspace string) kvstore.Store {
	t.Helper()
	return kvstore.NewRedisStore(client, keyspace, kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
}

func TestRunMigratesLegacyComponent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	options := newTestStore(t, client, "options")
	components := newTestStore(t, client, "components")
	configurations := newTestStore(t, client, "configurations")
	sessions := newTestStore(t, client, "sessions")

	require.NoError(t, components.Put(ctx, "n1", map[string]interface{}{
		"id":            "n1",
		"desiredConfig": "cfg-a",
		"errorCount":    float64(2),
	}))

	r := New(options, components, configurations, sessions, nil)
	require.NoError(t, r.Run(ctx))

	migrated, err := components.Get(ctx, "n1")
	require.NoError(t, err)
	_, hasLegacy := migrated["desiredConfig"]
	require.False(t, hasLegacy)
	require.Equal(t, "cfg-a", migrated["desired_config"])
}

func TestRunLeavesCurrentSchemaUntouched(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	options := newTestStore(t, client, "options")
	components := newTestStore(t, client, "components")
	configurations := newTestStore(t, client, "configurations")
	sessions := newTestStore(t, client, "sessions")

	current := map[string]interface{}{"id": "n1", "desired_config": "cfg-a"}
	require.NoError(t, components.Put(ctx, "n1", current))

	r := New(options, components, configurations, sessions, nil)
	require.NoError(t, r.Run(ctx))

	after, err := components.Get(ctx, "n1")
	require.NoError(t, err)
	require.True(t, kvstore.Equal(current, after))
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	options := newTestStore(t, client, "options")
	components := newTestStore(t, client, "components")
	configurations := newTestStore(t, client, "configurations")
	sessions := newTestStore(t, client, "sessions")

	require.NoError(t, components.Put(ctx, "n1", map[string]interface{}{
		"id": "n1", "desiredConfig": "cfg-a",
	}))

	r := New(options, components, configurations, sessions, nil)
	require.NoError(t, r.Run(ctx))
	require.NoError(t, r.Run(ctx))

	after, err := components.Get(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "cfg-a", after["desired_config"])
}
