package kvstore

import "errors"

// Error taxonomy surfaced to callers; the HTTP layer maps these to status
// codes in internal/cfsapi/errors without any store-specific knowledge.
var (
	// ErrNoEntry is returned when a key is absent and no default was supplied.
	ErrNoEntry = errors.New("kvstore: no entry")
	// ErrTooBusy is returned when a mutator exhausts its retry budget.
	ErrTooBusy = errors.New("kvstore: too busy")
	// ErrUnreachable is returned when the backing store cannot be reached.
	ErrUnreachable = errors.New("kvstore: unreachable")
)
