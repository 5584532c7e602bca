package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	redisclient "github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/redis"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	"github.com/zatekoja/healthcare-scheduling/pkg/retry"
)

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// BookingLockConfig tunes lock acquisition
type BookingLockConfig struct {
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
	OpTimeout      time.Duration
	Retry          retry.Config
}

// BookingLock implements providers.BookingLocker with SET NX PX leases
type BookingLock struct {
	client *redisclient.Client
	cfg    BookingLockConfig
}

// NewBookingLock creates a new Redis-backed booking lock
func NewBookingLock(client *redisclient.Client, cfg BookingLockConfig) *BookingLock {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.TransientConfig()
	}
	return &BookingLock{client: client, cfg: cfg}
}

// Acquire polls until the key is free or the acquire timeout elapses
func (l *BookingLock) Acquire(ctx context.Context, key string, ttl time.Duration) (*providers.Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.AcquireTimeout)

	for {
		var acquired bool
		err := retry.Do(ctx, l.cfg.Retry, func() error {
			opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
			defer cancel()

			ok, err := l.client.Client().SetNX(opCtx, key, token, ttl).Result()
			if err != nil {
				return err
			}
			acquired = ok
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire %s: %w: %w", key, providers.ErrLockUnavailable, err)
		}

		if acquired {
			return &providers.Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
		}

		if !time.Now().Add(l.cfg.RetryInterval).Before(deadline) {
			return nil, fmt.Errorf("acquire %s: %w", key, providers.ErrLockBusy)
		}

		timer := time.NewTimer(l.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release frees the lease when the stored token still matches
func (l *BookingLock) Release(ctx context.Context, lease *providers.Lease) error {
	if lease == nil {
		return nil
	}

	var released int64
	err := retry.Do(ctx, l.cfg.Retry, func() error {
		opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
		defer cancel()

		n, err := releaseScript.Run(opCtx, l.client.Client(), []string{lease.Key}, lease.Token).Int64()
		if err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("release %s: %w: %w", lease.Key, providers.ErrLockUnavailable, err)
	}

	if released == 0 {
		observability.LoggerFromContext(ctx).Debug().
			Str("key", lease.Key).
			Msg("Lock already expired or taken over before release")
	}
	return nil
}
