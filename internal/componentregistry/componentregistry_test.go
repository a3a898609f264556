package componentregistry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/reconciler"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

type fakeConfigs struct {
	byName map[string]*cfsmodel.Configuration
}

func (f fakeConfigs) Get(name string) (*cfsmodel.Configuration, bool) {
	c, ok := f.byName[name]
	return c, ok
}

func newTestRegistry(t *testing.T, configs fakeConfigs) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, "components", kvstore.Config{BusyBudget: 2 * time.Second, BatchSize: 10}, nil)
	return New(store, configs)
}

func TestPutGetRendersStatus(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{byName: map[string]*cfsmodel.Configuration{}})

	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", DesiredConfig: ""})
	require.NoError(t, err)

	got, err := r.Get(ctx, "n1", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, string(cfsmodel.ConfigDeprecated), got.ConfigurationStatus)
}

func TestPutRequiresID(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{})
	require.Error(t, err)
}

func TestPutPrunesEmptyTags(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	c := &cfsmodel.Component{ID: "n1", Tags: map[string]string{"keep": "v", "drop": ""}}
	saved, err := r.Put(ctx, c)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"keep": "v"}, saved.Tags)

	got, err := r.Get(ctx, "n1", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"keep": "v"}, got.Tags)
}

func TestPatchResetsErrorCountOnDesiredConfigChange(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", DesiredConfig: "a", ErrorCount: 3})
	require.NoError(t, err)

	got, err := r.Patch(ctx, "n1", map[string]interface{}{"desired_config": "b"})
	require.NoError(t, err)
	require.Equal(t, 0, got.ErrorCount)
}

func TestPatchKeepsErrorCountWhenConfigUnchanged(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", DesiredConfig: "a", ErrorCount: 3})
	require.NoError(t, err)

	got, err := r.Patch(ctx, "n1", map[string]interface{}{"enabled": true})
	require.NoError(t, err)
	require.Equal(t, 3, got.ErrorCount)
}

func TestPatchMergesStateAppend(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1"})
	require.NoError(t, err)

	got, err := r.Patch(ctx, "n1", map[string]interface{}{
		"state_append": map[string]interface{}{"clone_url": "u", "playbook": "p"},
	})
	require.NoError(t, err)
	require.Len(t, got.State, 1)
	require.Equal(t, "u", got.State[0].CloneURL)
	require.Nil(t, got.StateAppend)
}

func TestReferencesConfiguration(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", DesiredConfig: "cfg-a"})
	require.NoError(t, err)
	_, err = r.Put(ctx, &cfsmodel.Component{ID: "n2", DesiredConfig: "cfg-b"})
	require.NoError(t, err)

	used, err := r.ReferencesConfiguration(ctx, "cfg-a")
	require.NoError(t, err)
	require.True(t, used)

	unused, err := r.ReferencesConfiguration(ctx, "cfg-z")
	require.NoError(t, err)
	require.False(t, unused)
}

func TestPatchListAppliesAllOrNone(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", DesiredConfig: "a", ErrorCount: 3})
	require.NoError(t, err)
	_, err = r.Put(ctx, &cfsmodel.Component{ID: "n2", Enabled: false})
	require.NoError(t, err)

	out, err := r.PatchList(ctx, []kvstore.PatchTuple{
		{Key: "n1", Patch: map[string]interface{}{"desired_config": "b"}},
		{Key: "n2", Patch: map[string]interface{}{"enabled": true}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "n1", out[0].ID)
	require.Equal(t, 0, out[0].ErrorCount)
	require.Equal(t, "n2", out[1].ID)
	require.True(t, out[1].Enabled)

	got1, err := r.Get(ctx, "n1", ReadOptions{})
	require.NoError(t, err)
	require.Equal(t, "b", got1.DesiredConfig)
	got2, err := r.Get(ctx, "n2", ReadOptions{})
	require.NoError(t, err)
	require.True(t, got2.Enabled)
}

func TestPatchAllMatchesFilterAndIsAtomic(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", Enabled: true, Tags: map[string]string{"role": "compute"}})
	require.NoError(t, err)
	_, err = r.Put(ctx, &cfsmodel.Component{ID: "n2", Enabled: true, Tags: map[string]string{"role": "login"}})
	require.NoError(t, err)

	out, err := r.PatchAll(ctx, ListFilter{Tags: map[string]string{"role": "compute"}}, map[string]interface{}{"enabled": false}, reconciler.Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "n1", out[0].ID)

	got1, err := r.Get(ctx, "n1", ReadOptions{})
	require.NoError(t, err)
	require.False(t, got1.Enabled)
	got2, err := r.Get(ctx, "n2", ReadOptions{})
	require.NoError(t, err)
	require.True(t, got2.Enabled)
}

func TestListFilterByEnabledAndTags(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeConfigs{})
	_, err := r.Put(ctx, &cfsmodel.Component{ID: "n1", Enabled: true, Tags: map[string]string{"role": "compute"}})
	require.NoError(t, err)
	_, err = r.Put(ctx, &cfsmodel.Component{ID: "n2", Enabled: false, Tags: map[string]string{"role": "login"}})
	require.NoError(t, err)

	enabled := true
	out, _, err := r.List(ctx, 10, "", ListFilter{Enabled: &enabled, Tags: map[string]string{"role": "compute"}}, ReadOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "n1", out[0].ID)
}
