// Package state defines the state-store contract the kernel depends
// on: subscriptions, leases, and a scalar KV with TTL. Any backend
// (in-memory, Redis, GORM) that satisfies Store is usable by the kernel.
package state

import (
	"context"
	"time"
)

// Lease is a time-bounded exclusive claim on processing one thread.
// Ownership is identified by Token so a stale holder cannot release or
// extend a lease someone else now holds.
type Lease struct {
	ThreadID  string
	Token     string
	ExpiresAt time.Time
}

// Store is the contract every state-store backend must satisfy.
//
// Required properties:
//   - Atomicity of lease acquire/release/extend (single round-trip).
//   - Token safety: a stale lease holder cannot release or extend a
//     newer holder's lease.
//   - TTL correctness: expired leases are auto-collected; expired KV
//     entries return as absent.
type Store interface {
	// Connect/Disconnect manage the backend's lifecycle. Both are
	// idempotent and safe to call concurrently; concurrent Connect
	// calls coalesce into a single connection attempt.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Subscribe adds threadID to the global subscription set.
	// Idempotent.
	Subscribe(ctx context.Context, threadID string) error
	// Unsubscribe removes threadID from the subscription set.
	Unsubscribe(ctx context.Context, threadID string) error
	// IsSubscribed reports whether threadID is currently subscribed.
	IsSubscribed(ctx context.Context, threadID string) (bool, error)
	// ListSubscriptions returns every subscribed thread ID, optionally
	// restricted to one adapter's "<adapterName>:" prefix. Ordering is
	// unspecified; the result may reflect or miss concurrent mutations.
	ListSubscriptions(ctx context.Context, adapterName string) ([]string, error)

	// AcquireLease atomically creates a lease for threadID if (and only
	// if) no live lease currently exists, returning a fresh token. It
	// returns (nil, nil) — not an error — when the thread is already
	// leased; AcquireLease itself never returns a switcherr.LockError.
	AcquireLease(ctx context.Context, threadID string, ttl time.Duration) (*Lease, error)
	// ReleaseLease atomically deletes the lease only if the stored
	// token still equals lease.Token.
	ReleaseLease(ctx context.Context, lease *Lease) error
	// ExtendLease atomically updates the lease's TTL only if the stored
	// token still equals lease.Token, reporting whether it succeeded.
	ExtendLease(ctx context.Context, lease *Lease, ttl time.Duration) (bool, error)

	// Get retrieves a previously Set value into dest (JSON-compatible),
	// reporting found=false if the key is absent or expired.
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	// Set stores a JSON-serializable value under key with an optional
	// TTL (zero means no expiry).
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key if present; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
