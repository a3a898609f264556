// Package kvstore is a typed, JSON-valued key/value store abstraction with
// optimistic-concurrency multi-key mutation, paged/filtered scans, and a
// bounded retry budget. It is the sole storage primitive for every CFS
// keyspace (options, sessions, components, configurations, sources).
package kvstore

import "context"

// Entry is a decoded JSON document together with the key it was read under.
type Entry struct {
	Key   string
	Value map[string]interface{}
}

// Filter is a pure predicate over a decoded entry value. Filters are
// re-applied on every retry of a batched mutation, so they must not have
// side effects.
type Filter func(value map[string]interface{}) bool

// PatchHandler transforms a base document and a patch document into the new
// document. The default is DeepMerge; callers may supply a different one
// (e.g. "replace the whole array") via PatchOptions.
type PatchHandler func(base, patch map[string]interface{}) map[string]interface{}

// UpdateHandler runs after PatchHandler, with the chance to further adjust
// the merged document (e.g. stamping last_updated, resetting error_count).
type UpdateHandler func(merged map[string]interface{}) map[string]interface{}

// PatchOptions customises a single-key or multi-key patch call.
type PatchOptions struct {
	PatchHandler  PatchHandler
	UpdateHandler UpdateHandler
	DefaultEntry  map[string]interface{}
}

// PatchTuple is one (key, patch) pair submitted to PatchList.
type PatchTuple struct {
	Key   string
	Patch map[string]interface{}
}

// PatchResult is the post-patch value for one PatchTuple, in submission order.
type PatchResult struct {
	Key   string
	Value map[string]interface{}
}

// Store is the typed KV contract every CFS registry/FSM is built on.
type Store interface {
	Get(ctx context.Context, key string) (map[string]interface{}, error)
	GetDelete(ctx context.Context, key string) (map[string]interface{}, error)
	Put(ctx context.Context, key string, value map[string]interface{}) error
	PutIfNotSet(ctx context.Context, key string, value map[string]interface{}) (bool, error)
	Patch(ctx context.Context, key string, patch map[string]interface{}, opts PatchOptions) (map[string]interface{}, error)
	PatchList(ctx context.Context, tuples []PatchTuple, opts PatchOptions) ([]PatchResult, error)
	PatchAll(ctx context.Context, filter Filter, patch map[string]interface{}, opts PatchOptions) ([]string, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context, filter Filter) ([]string, error)
	ConditionalDelete(ctx context.Context, key string, checker func(map[string]interface{}) bool) (bool, error)
	GetAll(ctx context.Context, limit int, afterID string, filters []Filter) (page []Entry, nextPageExists bool, err error)
	IterValues(ctx context.Context, startAfterKey string) (<-chan Entry, <-chan error)
	GetKeys(ctx context.Context, startAfterKey string) ([]string, error)
	// Ping reports whether the backing store is reachable (used by HealthProbe).
	Ping(ctx context.Context) error
}
