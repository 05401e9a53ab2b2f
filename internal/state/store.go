// Package state holds the shared, mutable documents the routing engine
// contends over: presence tables, park slots, queue FIFOs and IVR sessions.
//
// Documents are JSON-encoded and addressed by a key of the form
// "<resource>:<tenant_id>[:<id>]". Read-modify-write sequences must run inside
// Locked so that two concurrent calls never claim the same agent or slot.
package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrLockTimeout is returned when a per-key lock could not be acquired in time.
var ErrLockTimeout = errors.New("state: lock timeout")

// Store is the keyed document store backing shared routing state.
type Store interface {
	// Load decodes the document at key into v. It reports false when the key
	// does not exist (or has expired).
	Load(ctx context.Context, key string, v any) (bool, error)

	// Save encodes v at key. A ttl <= 0 keeps the document until deleted.
	Save(ctx context.Context, key string, v any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Locked runs fn while holding an exclusive lock on key.
	// Locks are not reentrant.
	Locked(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Key joins parts into a store key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
