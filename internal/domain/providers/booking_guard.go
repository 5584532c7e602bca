package providers

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLockBusy is returned when a lock is still held by someone else after the acquire timeout
	ErrLockBusy = errors.New("lock busy")

	// ErrLockUnavailable is returned when the lock store could not be reached
	ErrLockUnavailable = errors.New("lock store unavailable")
)

// RateLimitDecision is the outcome of a rate limit check
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration

	// Degraded is set when the store was unreachable and the request was admitted unchecked
	Degraded bool
}

// RateLimiter bounds the request rate per identifier and endpoint over a sliding window
type RateLimiter interface {
	// Allow records the request when it fits the window and reports the decision.
	// Store failures are absorbed: the decision is Allowed with Degraded set.
	Allow(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) RateLimitDecision
}

// Lease is a held distributed lock
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// BookingLocker provides short-lived mutual exclusion across service instances
type BookingLocker interface {
	// Acquire waits up to the configured acquire timeout for key.
	// It returns ErrLockBusy or ErrLockUnavailable (possibly wrapped) on failure.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)

	// Release frees the lease if it is still held by its token. Releasing an
	// expired or already released lease is not an error.
	Release(ctx context.Context, lease *Lease) error
}
