package configregistry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/tenancy"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

func noSources(ctx context.Context, name string) (*cfsmodel.Source, bool, error) {
	return nil, false, nil
}

func noRefs(ctx context.Context, name string) (bool, error) { return false, nil }

func newTestRegistry(t *testing.T, sources SourceLookup, refs ComponentReferenceCheck) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, "configurations", kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
	r, err := New(store, nil, sources, refs, 16)
	require.NoError(t, err)
	return r
}

func TestPutRejectsLayerWithBothBranchAndCommit(t *testing.T) {
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1", Layers: []cfsmodel.Layer{
		{CloneURL: "u", Branch: "main", Commit: "abc"},
	}}
	_, err := r.Put(context.Background(), cfg, tenancy.Context{}, "", false)
	require.Error(t, err)
}

func TestPutRejectsUnknownSource(t *testing.T) {
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1", Layers: []cfsmodel.Layer{
		{Source: "missing", Commit: "abc"},
	}}
	_, err := r.Put(context.Background(), cfg, tenancy.Context{}, "", false)
	require.Error(t, err)
}

func TestPutRejectsDuplicateLayer(t *testing.T) {
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1", Layers: []cfsmodel.Layer{
		{CloneURL: "u", Playbook: "site.yml", Commit: "a"},
		{CloneURL: "u", Playbook: "site.yml", Commit: "b"},
	}}
	_, err := r.Put(context.Background(), cfg, tenancy.Context{}, "", false)
	require.Error(t, err)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1", Layers: []cfsmodel.Layer{
		{CloneURL: "u", Playbook: "site.yml", Commit: "abc"},
	}}
	_, err := r.Put(ctx, cfg, tenancy.Context{}, "", false)
	require.NoError(t, err)

	got, ok := r.Get("c1")
	require.True(t, ok)
	require.Equal(t, "c1", got.Name)
	require.False(t, got.LastUpdated.IsZero())
}

func TestDeleteRefusesWhenInUse(t *testing.T) {
	ctx := context.Background()
	inUse := func(ctx context.Context, name string) (bool, error) { return true, nil }
	r := newTestRegistry(t, noSources, inUse)
	cfg := &cfsmodel.Configuration{Name: "c1"}
	_, err := r.Put(ctx, cfg, tenancy.Context{}, "", false)
	require.NoError(t, err)

	err = r.Delete(ctx, "c1", tenancy.Context{})
	require.Error(t, err)
}

func TestDeleteSucceedsWhenUnused(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1"}
	_, err := r.Put(ctx, cfg, tenancy.Context{}, "", false)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "c1", tenancy.Context{}))
	_, ok := r.Get("c1")
	require.False(t, ok)
}

func TestPutEnforcesTenantOwnership(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, noSources, noRefs)
	cfg := &cfsmodel.Configuration{Name: "c1"}
	_, err := r.Put(ctx, cfg, tenancy.Context{}, "tenant-a", false)
	require.NoError(t, err)

	_, err = r.Put(ctx, &cfsmodel.Configuration{Name: "c1"}, tenancy.Context{Tenant: "tenant-b"}, "", false)
	require.Error(t, err)
}

func TestListFiltersByInUse(t *testing.T) {
	ctx := context.Background()
	used := map[string]bool{"c1": true}
	refs := func(ctx context.Context, name string) (bool, error) { return used[name], nil }
	r := newTestRegistry(t, noSources, refs)
	_, err := r.Put(ctx, &cfsmodel.Configuration{Name: "c1"}, tenancy.Context{}, "", false)
	require.NoError(t, err)
	_, err = r.Put(ctx, &cfsmodel.Configuration{Name: "c2"}, tenancy.Context{}, "", false)
	require.NoError(t, err)

	want := true
	out, _, err := r.List(ctx, 10, "", &want)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "c1", out[0].Name)
}
