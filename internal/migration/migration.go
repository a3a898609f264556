// Package migration implements MigrationPass: a one-shot startup rewrite of
// legacy camelCase records to snake_case, and a purge of unknown option
// keys, per spec.md §4.12. It is idempotent: records already in the current
// schema are left untouched.
package migration

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/schemaxlate"
	"github.com/hpcfleet/cfs/pkg/cfsmodel"
)

// legacyMarkers is, per record kind, one camelCase field name that only
// appears in the pre-migration (v2-shaped) document; its presence in a
// stored record signals the record still needs rewriting.
var legacyMarkers = map[string]string{
	"components":     "desiredConfig",
	"configurations": "lastUpdated",
	"sessions":       "debugOnFailure",
}

// Runner runs the pass over every keyspace's Store.
type Runner struct {
	options        kvstore.Store
	components     kvstore.Store
	configurations kvstore.Store
	sessions       kvstore.Store
	logger         *slog.Logger
}

// New builds a Runner.
func New(options, components, configurations, sessions kvstore.Store, logger *slog.Logger) *Runner {
	return &Runner{options: options, components: components, configurations: configurations, sessions: sessions, logger: logger}
}

// Run executes the one-shot startup pass.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.migrateOptions(ctx); err != nil {
		return err
	}
	if err := r.migrateKeyspace(ctx, r.components, "components", schemaxlate.ComponentToV3); err != nil {
		return err
	}
	if err := r.migrateKeyspace(ctx, r.configurations, "configurations", func(v2 map[string]interface{}) map[string]interface{} {
		return schemaxlate.ToV3(cfsmodel.Configuration{}, v2)
	}); err != nil {
		return err
	}
	if err := r.migrateKeyspace(ctx, r.sessions, "sessions", func(v2 map[string]interface{}) map[string]interface{} {
		return schemaxlate.ToV3(cfsmodel.Session{}, v2)
	}); err != nil {
		return err
	}
	return nil
}

// migrateOptions rewrites the single options record, dropping unknown keys
// by round-tripping through the typed cfsmodel.Options struct.
func (r *Runner) migrateOptions(ctx context.Context) error {
	doc, err := r.options.Get(ctx, "options")
	if err == kvstore.ErrNoEntry {
		return nil
	}
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var opts cfsmodel.Options
	if err := json.Unmarshal(raw, &opts); err != nil {
		return err
	}
	cleaned, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	var cleanedDoc map[string]interface{}
	if err := json.Unmarshal(cleaned, &cleanedDoc); err != nil {
		return err
	}
	if kvstore.Equal(doc, cleanedDoc) {
		return nil
	}
	if r.logger != nil {
		r.logger.Info("migrating options record to current schema")
	}
	return r.options.Put(ctx, "options", cleanedDoc)
}

func (r *Runner) migrateKeyspace(ctx context.Context, store kvstore.Store, name string, convert func(map[string]interface{}) map[string]interface{}) error {
	if store == nil {
		return nil
	}
	marker := legacyMarkers[name]
	values, errc := store.IterValues(ctx, "")
	var toMigrate []kvstore.Entry
	for entry := range values {
		if _, hasLegacy := entry.Value[marker]; hasLegacy {
			toMigrate = append(toMigrate, entry)
		}
	}
	if err := <-errc; err != nil {
		return err
	}

	for _, entry := range toMigrate {
		converted := convert(entry.Value)
		if r.logger != nil {
			r.logger.Info("migrating legacy record", "keyspace", name, "key", entry.Key)
		}
		if err := store.Put(ctx, entry.Key, converted); err != nil {
			return err
		}
	}
	return nil
}
