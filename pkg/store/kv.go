// Package store implements the durable, idempotent persistence layer (spec
// component C2): a grouped key-value contract (KV) and, on top of it, the
// guarded workflow/step/compensation operations the engine and compensator
// depend on.
package store

import "context"

// KV is the provider-agnostic grouped key-value store contract spec §6
// assumes is supplied by the runtime. A "group" is a named bucket; values
// are opaque JSON-encodable records addressed by (group, key).
type KV interface {
	// Get returns the raw value stored at (group, key), or found=false if
	// absent.
	Get(ctx context.Context, group, key string) (value []byte, found bool, err error)
	// Set stores value at (group, key), creating group if necessary.
	Set(ctx context.Context, group, key string, value []byte) error
	// Delete removes (group, key); it is not an error if absent.
	Delete(ctx context.Context, group, key string) error
	// GetGroup returns every value currently stored in group.
	GetGroup(ctx context.Context, group string) ([][]byte, error)
	// Clear removes every key in group.
	Clear(ctx context.Context, group string) error
}
