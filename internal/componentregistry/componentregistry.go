// Package componentregistry implements Component CRUD over KvStore plus the
// read-time derivation (ComponentReconciler's status, and the logs URL)
// spec.md §3 describes as "owned by the store but never persisted", per
// spec.md §3's Component record and §4.5's ComponentReconciler.
package componentregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/reconciler"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// Registry is the Component keyspace collaborator.
type Registry struct {
	store   kvstore.Store
	configs reconciler.Configurations
}

// New builds a Registry.
func New(store kvstore.Store, configs reconciler.Configurations) *Registry {
	return &Registry{store: store, configs: configs}
}

func decode(doc map[string]interface{}) (*cfsmodel.Component, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var c cfsmodel.Component
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func encodeDoc(c *cfsmodel.Component) (map[string]interface{}, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// pruneEmptyTags removes tags whose value is the empty string, per spec.md
// §3's "empty values are removed on every write".
func pruneEmptyTags(c *cfsmodel.Component) {
	if c.Tags == nil {
		return
	}
	for k, v := range c.Tags {
		if v == "" {
			delete(c.Tags, k)
		}
	}
}

// mergeLayerState appends or replaces by (clone_url, playbook), stamping
// last_updated when the caller left it zero.
func mergeLayerState(state []cfsmodel.LayerState, incoming cfsmodel.LayerState) []cfsmodel.LayerState {
	if incoming.LastUpdated.IsZero() {
		incoming.LastUpdated = time.Now().UTC()
	}
	for i, s := range state {
		if s.Key() == incoming.Key() {
			state[i] = incoming
			return state
		}
	}
	return append(state, incoming)
}

// ReadOptions controls RenderStatus's derived-field population.
type ReadOptions struct {
	ConfigDetails bool
	ReconcilerOpts reconciler.Options
}

// RenderStatus computes configuration_status (and, when requested,
// desired_state/logs) for a component without persisting the result,
// per spec.md §3's "derived, never authoritative in storage".
func (r *Registry) RenderStatus(c *cfsmodel.Component, opts ReadOptions) {
	res := reconciler.Reconcile(*c, r.configs, opts.ReconcilerOpts, opts.ConfigDetails)
	c.ConfigurationStatus = string(res.Status)
	if opts.ConfigDetails {
		c.DesiredState = res.DesiredState
	}
	if res.Logs != "" {
		c.Logs = res.Logs
	}
}

// Get fetches one component, rendering its derived status.
func (r *Registry) Get(ctx context.Context, id string, opts ReadOptions) (*cfsmodel.Component, error) {
	doc, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c, err := decode(doc)
	if err != nil {
		return nil, err
	}
	r.RenderStatus(c, opts)
	return c, nil
}

// Put unconditionally replaces a component record (spec.md §4.1's put
// semantics applied to the components keyspace).
func (r *Registry) Put(ctx context.Context, c *cfsmodel.Component) (*cfsmodel.Component, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("component id is required: %w", apierrors.ErrValidation)
	}
	pruneEmptyTags(c)
	doc, err := encodeDoc(c)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, c.ID, doc); err != nil {
		return nil, err
	}
	return c, nil
}

// applyPatchUpdate is the UpdateHandler body shared by Patch, PatchList, and
// PatchAll: fold state_append into state, and reset error_count whenever the
// patch sets desired_config, per spec.md §3. The reset is decided from the
// patch alone; the new value is not compared with the stored one.
func applyPatchUpdate(merged map[string]interface{}, patch map[string]interface{}) map[string]interface{} {
	c, err := decode(merged)
	if err != nil {
		return merged
	}
	if c.StateAppend != nil {
		c.State = mergeLayerState(c.State, *c.StateAppend)
		c.StateAppend = nil
	}
	if _, set := patch["desired_config"]; set {
		c.ErrorCount = 0
	}
	pruneEmptyTags(c)
	out, err := encodeDoc(c)
	if err != nil {
		return merged
	}
	return out
}

// Patch merges a partial update into a component, folding state_append into
// state and resetting error_count when the patch sets desired_config, per
// spec.md §3.
func (r *Registry) Patch(ctx context.Context, id string, patch map[string]interface{}) (*cfsmodel.Component, error) {
	doc, err := r.store.Patch(ctx, id, patch, kvstore.PatchOptions{
		UpdateHandler: func(merged map[string]interface{}) map[string]interface{} {
			return applyPatchUpdate(merged, patch)
		},
	})
	if err != nil {
		return nil, err
	}
	c, err := decode(doc)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// PatchList applies a list of per-component patches in one atomic
// transaction, per spec.md §5's patch_list guarantee ("either all writes in
// a batch succeed or none"). Results are returned in tuple submission order.
func (r *Registry) PatchList(ctx context.Context, tuples []kvstore.PatchTuple) ([]*cfsmodel.Component, error) {
	byKey := make(map[string]map[string]interface{}, len(tuples))
	for _, t := range tuples {
		byKey[t.Key] = t.Patch
	}
	results, err := r.store.PatchList(ctx, tuples, kvstore.PatchOptions{
		UpdateHandler: func(merged map[string]interface{}) map[string]interface{} {
			id, _ := merged["id"].(string)
			return applyPatchUpdate(merged, byKey[id])
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*cfsmodel.Component, 0, len(results))
	for _, res := range results {
		c, err := decode(res.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// PatchAll applies one patch to every component matching filter, atomically
// per batch (spec.md §5). filter's Status clause is derived via the
// reconciler rather than stored, so it is evaluated inside the KvStore
// filter closure itself rather than post-render, matching List's semantics.
func (r *Registry) PatchAll(ctx context.Context, filter ListFilter, patch map[string]interface{}, reconcilerOpts reconciler.Options) ([]*cfsmodel.Component, error) {
	kvFilter := filter.toKvFilter()
	if filter.Status != "" {
		base := kvFilter
		kvFilter = func(v map[string]interface{}) bool {
			if !base(v) {
				return false
			}
			c, err := decode(v)
			if err != nil {
				return false
			}
			res := reconciler.Reconcile(*c, r.configs, reconcilerOpts, false)
			return strings.EqualFold(string(res.Status), filter.Status)
		}
	}

	ids, err := r.store.PatchAll(ctx, kvFilter, patch, kvstore.PatchOptions{
		UpdateHandler: func(merged map[string]interface{}) map[string]interface{} {
			return applyPatchUpdate(merged, patch)
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*cfsmodel.Component, 0, len(ids))
	for _, id := range ids {
		doc, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		c, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Delete removes a component record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// ListFilter narrows List results, per spec.md §6's GET query parameters.
type ListFilter struct {
	IDs        []string
	Status     string
	Enabled    *bool
	ConfigName string
	Tags       map[string]string
}

func (lf ListFilter) toKvFilter() kvstore.Filter {
	idSet := map[string]bool{}
	for _, id := range lf.IDs {
		idSet[id] = true
	}
	return func(v map[string]interface{}) bool {
		if len(idSet) > 0 {
			id, _ := v["id"].(string)
			if !idSet[id] {
				return false
			}
		}
		if lf.Enabled != nil {
			enabled, _ := v["enabled"].(bool)
			if enabled != *lf.Enabled {
				return false
			}
		}
		if lf.ConfigName != "" {
			dc, _ := v["desired_config"].(string)
			if dc != lf.ConfigName {
				return false
			}
		}
		if len(lf.Tags) > 0 {
			tags, _ := v["tags"].(map[string]interface{})
			for k, want := range lf.Tags {
				got, _ := tags[k].(string)
				if got != want {
					return false
				}
			}
		}
		return true
	}
}

// List returns a page of components with derived status applied, optionally
// filtering post-render on the derived configuration_status (the only
// component filter that cannot be evaluated during the KvStore scan).
func (r *Registry) List(ctx context.Context, limit int, afterID string, filter ListFilter, opts ReadOptions) ([]*cfsmodel.Component, bool, error) {
	entries, next, err := r.store.GetAll(ctx, limit, afterID, []kvstore.Filter{filter.toKvFilter()})
	if err != nil {
		return nil, false, err
	}
	out := make([]*cfsmodel.Component, 0, len(entries))
	for _, e := range entries {
		c, err := decode(e.Value)
		if err != nil {
			return nil, false, err
		}
		r.RenderStatus(c, opts)
		if filter.Status != "" && !strings.EqualFold(c.ConfigurationStatus, filter.Status) {
			continue
		}
		out = append(out, c)
	}
	return out, next, nil
}

// ReferencesConfiguration implements configregistry.ComponentReferenceCheck:
// whether any component currently names configName as its desired_config.
func (r *Registry) ReferencesConfiguration(ctx context.Context, configName string) (bool, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel() // unblocks IterValues's producer goroutine on early exit

	found := false
	values, errc := r.store.IterValues(scanCtx, "")
	for entry := range values {
		dc, _ := entry.Value["desired_config"].(string)
		if dc == configName {
			found = true
			break
		}
	}
	if err := <-errc; err != nil && err != context.Canceled {
		return false, err
	}
	return found, nil
}
