// Package challenge stores one-shot ceremony state keyed by opaque
// challenge IDs. A stored entry is consumed exactly once: the first
// Take removes it, so replaying a consumed or expired ID fails closed.
//
// Two backends are provided. The memory store is process-local and only
// suitable for single-instance deployments; the Redis store shares
// ceremony state across instances, so a ceremony begun on one instance
// can finish on another.
package challenge

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Take when the ID was never stored, has
// expired, or was already consumed. Callers cannot distinguish the
// three cases, which is intentional: all of them mean "start over".
var ErrNotFound = errors.New("challenge not found or expired")

// ErrStoreFull is returned by Put when the memory backend is at its
// entry cap. It bounds memory under a flood of abandoned ceremonies.
var ErrStoreFull = errors.New("too many pending challenges")

// Store is a TTL-bounded one-shot key-value store.
type Store interface {
	// Put stores data under id for at most ttl.
	Put(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Take retrieves and deletes the entry in one step.
	Take(ctx context.Context, id string) ([]byte, error)
}
