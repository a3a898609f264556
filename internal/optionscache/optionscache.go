// Package optionscache is the process-wide singleton that periodically
// refreshes tunables from the options keyspace, applies log-level changes,
// and supplies defaults to handlers, per spec.md §4.3. It is implemented as
// the redesign note in spec.md §9 prescribes: an immutable snapshot swapped
// atomically on each refresh, read by a single pointer load.
package optionscache

import (
	_ "embed"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpcfleet/cfs/internal/cfslog"
	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

//go:embed defaults.yaml
var packagedDefaults []byte

const optionsKey = "options"

// Cache is the process-wide options snapshot holder.
type Cache struct {
	store  kvstore.Store
	logger *slog.Logger

	snapshot atomic.Pointer[cfsmodel.Options]

	levelMu  sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Cache bound to the options keyspace's Store. The
// packaged YAML defaults (§5.13 of SPEC_FULL.md) seed the defaults a
// missing key falls back to, ahead of whatever the store already holds.
func New(store kvstore.Store, logger *slog.Logger) (*Cache, error) {
	c := &Cache{store: store, logger: logger, stopCh: make(chan struct{})}
	def := cfsmodel.DefaultOptions()
	if len(packagedDefaults) > 0 {
		if err := yaml.Unmarshal(packagedDefaults, &def); err != nil {
			return nil, err
		}
	}
	zero := def
	c.snapshot.Store(&zero)
	return c, nil
}

// packagedDefaultsMap decodes the embedded YAML into the generic document
// shape used by KvStore's default-injection patch handler.
func packagedDefaultsMap() (map[string]interface{}, error) {
	b, err := json.Marshal(cfsmodel.DefaultOptions())
	if err != nil {
		return nil, err
	}
	var base map[string]interface{}
	if err := json.Unmarshal(b, &base); err != nil {
		return nil, err
	}
	var overrides map[string]interface{}
	if len(packagedDefaults) > 0 {
		if err := yaml.Unmarshal(packagedDefaults, &overrides); err != nil {
			return nil, err
		}
	}
	return kvstore.DeepMerge(base, overrides), nil
}

// injectDefaults is the patch handler used by Refresh: it merges the
// packaged/default document under whatever is already stored, so missing
// keys are both supplied to the caller and written back in the same
// transaction (spec.md §4.3).
func injectDefaults(defaults map[string]interface{}) kvstore.PatchHandler {
	return func(base, patch map[string]interface{}) map[string]interface{} {
		merged := kvstore.DeepMerge(defaults, base)
		return kvstore.DeepMerge(merged, patch)
	}
}

// Refresh reads the options record via an identity patch with default
// injection, swaps the in-memory snapshot, and reapplies logging_level to
// the process logger if it changed.
func (c *Cache) Refresh(ctx context.Context) (cfsmodel.Options, error) {
	defaults, err := packagedDefaultsMap()
	if err != nil {
		return cfsmodel.Options{}, err
	}

	doc, err := c.store.Patch(ctx, optionsKey, map[string]interface{}{}, kvstore.PatchOptions{
		PatchHandler: injectDefaults(defaults),
		DefaultEntry: map[string]interface{}{},
	})
	if err != nil {
		return cfsmodel.Options{}, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return cfsmodel.Options{}, err
	}
	var opts cfsmodel.Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return cfsmodel.Options{}, err
	}

	c.snapshot.Store(&opts)
	c.applyLoggingLevel(opts.LoggingLevel)
	return opts, nil
}

// applyLoggingLevel re-applies logging_level to the shared slog.LevelVar
// when it differs from the currently effective level, serialised by
// levelMu across concurrent refreshers (spec.md §4.3).
func (c *Cache) applyLoggingLevel(level string) {
	c.levelMu.Lock()
	defer c.levelMu.Unlock()
	want := cfslog.ParseLevel(level)
	if cfslog.Level.Level() != want {
		cfslog.Level.Set(want)
		if c.logger != nil {
			c.logger.Info("logging level changed", "level", level)
		}
	}
}

// Snapshot returns the current options snapshot without touching the store.
func (c *Cache) Snapshot() cfsmodel.Options {
	p := c.snapshot.Load()
	if p == nil {
		return cfsmodel.DefaultOptions()
	}
	return *p
}

// Start launches a background refresher at the given interval. Call Stop to
// shut it down.
func (c *Cache) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := c.Refresh(ctx); err != nil && c.logger != nil {
					c.logger.Warn("options refresh failed", "error", err)
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the background refresher.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// PageSizeOrDefault injects default_page_size when requested is nil,
// following the @defaults(limit="default_page_size") decorator of spec.md
// §4.3, expressed in Go as an explicit helper rather than a wrapper.
func (c *Cache) PageSizeOrDefault(requested *int) int {
	if requested != nil && *requested > 0 {
		return *requested
	}
	return c.Snapshot().DefaultPageSize
}

// PlaybookOrDefault injects default_playbook when requested is empty.
func (c *Cache) PlaybookOrDefault(requested string) string {
	if requested != "" {
		return requested
	}
	return c.Snapshot().DefaultPlaybook
}

// AnsibleConfigOrDefault injects default_ansible_config when requested is empty.
func (c *Cache) AnsibleConfigOrDefault(requested string) string {
	if requested != "" {
		return requested
	}
	return c.Snapshot().DefaultAnsibleConfig
}

// RetryPolicyOrDefault resolves a component's effective retry policy.
func (c *Cache) RetryPolicyOrDefault(componentOverride *int) int {
	if componentOverride != nil {
		return *componentOverride
	}
	return c.Snapshot().DefaultBatcherRetryPolicy
}
