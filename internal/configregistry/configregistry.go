// Package configregistry implements ConfigurationRegistry: Configuration
// CRUD with layer validation, branch-to-commit materialisation, in-use
// gating, and tenancy gating, per spec.md §4.7.
package configregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	apierrors "github.com/hpcfleet/cfs/internal/cfsapi/errors"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/sourceresolver"
	"github.com/hpcfleet/cfs/internal/tenancy"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// SourceLookup checks whether a named Source exists, used to validate
// layer.source references without configregistry depending on
// sourceregistry directly; the caller injects the lookup.
type SourceLookup func(ctx context.Context, name string) (*cfsmodel.Source, bool, error)

// ComponentReferenceCheck reports whether any component currently names
// configName as its desired_config, backing the delete-in-use gate.
type ComponentReferenceCheck func(ctx context.Context, configName string) (bool, error)

// Registry is the ConfigurationRegistry collaborator.
type Registry struct {
	store      kvstore.Store
	resolver   *sourceresolver.Resolver
	sources    SourceLookup
	refChecker ComponentReferenceCheck
	cache      *lru.Cache[string, *cfsmodel.Configuration]
}

// New builds a Registry. cacheSize bounds the ComponentReconciler-facing
// by-name lookup cache (SPEC_FULL.md §5.5).
func New(store kvstore.Store, resolver *sourceresolver.Resolver, sources SourceLookup, refChecker ComponentReferenceCheck, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, *cfsmodel.Configuration](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{store: store, resolver: resolver, sources: sources, refChecker: refChecker, cache: c}, nil
}

// Get implements reconciler.Configurations, backed by the LRU cache.
func (r *Registry) Get(name string) (*cfsmodel.Configuration, bool) {
	if name == "" {
		return nil, false
	}
	if c, ok := r.cache.Get(name); ok {
		return c, true
	}
	doc, err := r.store.Get(context.Background(), name)
	if err != nil {
		return nil, false
	}
	cfg, err := decode(doc)
	if err != nil {
		return nil, false
	}
	r.cache.Add(name, cfg)
	return cfg, true
}

// invalidate drops a name from the reconciler-facing cache after a write.
func (r *Registry) invalidate(name string) { r.cache.Remove(name) }

func decode(doc map[string]interface{}) (*cfsmodel.Configuration, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var cfg cfsmodel.Configuration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func encodeDoc(cfg *cfsmodel.Configuration) (map[string]interface{}, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// validateLayers enforces spec.md §3's Configuration invariants: every
// layer has exactly one of (branch, commit) and exactly one of
// (clone_url, source); layer pairs are pairwise distinct on
// (repo-key, playbook), excluding additional_inventory; every referenced
// source exists.
func (r *Registry) validateLayers(ctx context.Context, cfg *cfsmodel.Configuration) error {
	seen := map[string]bool{}
	for i, l := range cfg.Layers {
		if (l.Branch == "") == (l.Commit == "") {
			return fmt.Errorf("%w: layer %d must set exactly one of branch or commit", apierrors.ErrValidation, i)
		}
		if (l.CloneURL == "") == (l.Source == "") {
			return fmt.Errorf("%w: layer %d must set exactly one of clone_url or source", apierrors.ErrValidation, i)
		}
		if l.Source != "" {
			if _, ok, err := r.sources(ctx, l.Source); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("%w: layer %d references unknown source %q", apierrors.ErrValidation, i, l.Source)
			}
		}
		key := l.RepoKey() + "|" + l.Playbook
		if seen[key] {
			return fmt.Errorf("%w: duplicate layer for (%s, %s)", apierrors.ErrValidation, l.RepoKey(), l.Playbook)
		}
		seen[key] = true
	}
	return nil
}

// resolveBranches resolves every branch field to a commit, mutating the
// layers in place. If dropBranches is set, resolved branch fields are
// removed post-resolution (spec.md §3, §4.7).
func (r *Registry) resolveBranches(ctx context.Context, cfg *cfsmodel.Configuration, dropBranches bool) error {
	layers := cfg.Layers
	if cfg.AdditionalInventory != nil {
		layers = append(append([]cfsmodel.Layer{}, layers...), *cfg.AdditionalInventory)
	}
	for i := range layers {
		l := &layers[i]
		if l.Branch == "" {
			continue
		}
		var source *cfsmodel.Source
		if l.Source != "" {
			s, ok, err := r.sources(ctx, l.Source)
			if err != nil {
				return err
			}
			if ok {
				source = s
			}
		}
		commit, err := r.resolver.Resolve(ctx, l.CloneURL, l.Branch, source)
		if err != nil {
			return err
		}
		l.Commit = commit
		if dropBranches {
			l.Branch = ""
		}
	}
	if cfg.AdditionalInventory != nil {
		*cfg.AdditionalInventory = layers[len(layers)-1]
		cfg.Layers = layers[:len(layers)-1]
	} else {
		cfg.Layers = layers
	}
	return nil
}

// Put creates or replaces a Configuration, per spec.md §4.7.
func (r *Registry) Put(ctx context.Context, cfg *cfsmodel.Configuration, tc tenancy.Context, requestedTenant string, dropBranches bool) (*cfsmodel.Configuration, error) {
	if err := r.validateLayers(ctx, cfg); err != nil {
		return nil, err
	}

	existing, _ := r.Get(cfg.Name)
	var existingTenant string
	if existing != nil {
		existingTenant = existing.TenantName
	}
	if err := tenancyGateCheck(tc, existingTenant, requestedTenant); err != nil {
		return nil, err
	}
	cfg.TenantName = tenancy.EffectiveTenantName(existingTenant, tc)
	if requestedTenant != "" && existingTenant == "" {
		cfg.TenantName = requestedTenant
	}

	if err := r.resolveBranches(ctx, cfg, dropBranches); err != nil {
		return nil, err
	}
	cfg.LastUpdated = time.Now().UTC()

	doc, err := encodeDoc(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, cfg.Name, doc); err != nil {
		return nil, err
	}
	r.invalidate(cfg.Name)
	return cfg, nil
}

// ownershipGate is a zero-value Gate: EnforceOwnership needs no
// TenantService, only RejectInvalidTenant does.
var ownershipGate = &tenancy.Gate{}

func tenancyGateCheck(tc tenancy.Context, existingTenant, requestedTenant string) error {
	return ownershipGate.EnforceOwnership(tc, existingTenant, requestedTenant)
}

// Patch re-resolves branches and bumps last_updated; the v2/v3 PATCH
// endpoints support no field-level updates (spec.md §4.7). Per spec.md §9's
// open question, branches are re-resolved unconditionally on every PATCH,
// matching the original's observed (possibly unintentional) behaviour.
func (r *Registry) Patch(ctx context.Context, name string, tc tenancy.Context) (*cfsmodel.Configuration, error) {
	cfg, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("configuration %q: %w", name, apierrors.ErrNotFound)
	}
	if err := tenancyGateCheck(tc, cfg.TenantName, ""); err != nil {
		return nil, err
	}
	if err := r.resolveBranches(ctx, cfg, false); err != nil {
		return nil, err
	}
	cfg.LastUpdated = time.Now().UTC()
	doc, err := encodeDoc(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, name, doc); err != nil {
		return nil, err
	}
	r.invalidate(name)
	return cfg, nil
}

// Delete refuses with apierrors.ErrInUse if any component names this
// configuration as its desired_config (spec.md §4.7).
func (r *Registry) Delete(ctx context.Context, name string, tc tenancy.Context) error {
	cfg, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("configuration %q: %w", name, apierrors.ErrNotFound)
	}
	if err := tenancyGateCheck(tc, cfg.TenantName, ""); err != nil {
		return err
	}
	inUse, err := r.refChecker(ctx, name)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("configuration %q is referenced by a component: %w", name, apierrors.ErrInUse)
	}
	if err := r.store.Delete(ctx, name); err != nil {
		return err
	}
	r.invalidate(name)
	return nil
}

// List returns a page of configurations, optionally filtered to those
// currently referenced by a component (GET's in_use query parameter).
func (r *Registry) List(ctx context.Context, limit int, afterID string, inUse *bool) ([]*cfsmodel.Configuration, bool, error) {
	var filters []kvstore.Filter
	entries, next, err := r.store.GetAll(ctx, limit, afterID, filters)
	if err != nil {
		return nil, false, err
	}
	out := make([]*cfsmodel.Configuration, 0, len(entries))
	for _, e := range entries {
		cfg, err := decode(e.Value)
		if err != nil {
			return nil, false, err
		}
		if inUse != nil {
			used, err := r.refChecker(ctx, cfg.Name)
			if err != nil {
				return nil, false, err
			}
			if used != *inUse {
				continue
			}
		}
		out = append(out, cfg)
	}
	return out, next, nil
}
