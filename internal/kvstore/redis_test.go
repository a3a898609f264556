package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := Config{BusyBudget: 2 * time.Second, BatchSize: 10}
	return NewRedisStore(client, "test", cfg, nil)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "a", map[string]interface{}{"x": float64(1)}))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, float64(1), v["x"])

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestPatchIdempotentNoWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "a", map[string]interface{}{"x": float64(1)}))

	v1, err := s.Patch(ctx, "a", map[string]interface{}{}, PatchOptions{})
	require.NoError(t, err)
	require.Equal(t, float64(1), v1["x"])

	v2, err := s.Patch(ctx, "a", map[string]interface{}{"x": float64(1)}, PatchOptions{})
	require.NoError(t, err)
	require.True(t, Equal(v1, v2))
}

func TestPatchMissingNoDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Patch(ctx, "missing", map[string]interface{}{"x": float64(1)}, PatchOptions{})
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestPatchWithDefaultEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	v, err := s.Patch(ctx, "options", map[string]interface{}{}, PatchOptions{
		DefaultEntry: map[string]interface{}{"logging_level": "INFO"},
	})
	require.NoError(t, err)
	require.Equal(t, "INFO", v["logging_level"])
}

func TestPatchListSequential(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "a", map[string]interface{}{"n": float64(0)}))

	results, err := s.PatchList(ctx, []PatchTuple{
		{Key: "a", Patch: map[string]interface{}{"n": float64(1)}},
		{Key: "a", Patch: map[string]interface{}{"n": float64(2)}},
	}, PatchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, float64(1), results[0].Value["n"])
	require.Equal(t, float64(2), results[1].Value["n"])

	final, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, float64(2), final["n"])
}

func TestGetAllPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "k1", map[string]interface{}{"v": float64(1)}))
	require.NoError(t, s.Put(ctx, "k2", map[string]interface{}{"v": float64(2)}))

	page1, next1, err := s.GetAll(ctx, 1, "", nil)
	require.NoError(t, err)
	require.True(t, next1)
	require.Len(t, page1, 1)
	require.Equal(t, "k1", page1[0].Key)

	page2, next2, err := s.GetAll(ctx, 1, page1[0].Key, nil)
	require.NoError(t, err)
	require.False(t, next2)
	require.Len(t, page2, 1)
	require.Equal(t, "k2", page2[0].Key)
}

func TestConditionalDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "a", map[string]interface{}{"used": true}))

	deleted, err := s.ConditionalDelete(ctx, "a", func(v map[string]interface{}) bool {
		return v["used"] == false
	})
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = s.ConditionalDelete(ctx, "a", func(v map[string]interface{}) bool {
		return v["used"] == true
	})
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNoEntry)
}

func TestDeleteAllFiltered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "a", map[string]interface{}{"keep": true}))
	require.NoError(t, s.Put(ctx, "b", map[string]interface{}{"keep": false}))

	touched, err := s.DeleteAll(ctx, func(v map[string]interface{}) bool { return v["keep"] == false })
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, touched)

	_, err = s.Get(ctx, "a")
	require.NoError(t, err)
	_, err = s.Get(ctx, "b")
	require.ErrorIs(t, err, ErrNoEntry)
}
