//go:build integration

package cache

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	redisclient "github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/redis"
	"github.com/zatekoja/healthcare-scheduling/pkg/config"
)

type RedisIntegrationTestSuite struct {
	suite.Suite
	client *redisclient.Client
	prefix string
}

func (s *RedisIntegrationTestSuite) SetupSuite() {
	port, err := strconv.Atoi(os.Getenv("TEST_REDIS_PORT"))
	if err != nil {
		port = 6379
	}
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		host = "localhost"
	}

	client, err := redisclient.NewClient(&config.RedisConfig{
		Host:         host,
		Port:         port,
		PoolSize:     20,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(s.T(), err, "Failed to create redis client")
	s.client = client
}

func (s *RedisIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *RedisIntegrationTestSuite) SetupTest() {
	// Unique identifiers keep runs independent without flushing a shared database.
	s.prefix = uuid.NewString()
}

func (s *RedisIntegrationTestSuite) TestBookingLockIsMutuallyExclusive() {
	lock := NewBookingLock(s.client, BookingLockConfig{
		AcquireTimeout: 5 * time.Second,
		RetryInterval:  5 * time.Millisecond,
	})
	key := "lock:booking:" + s.prefix

	const workers = 8
	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
		done    int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			lease, err := lock.Acquire(ctx, key, 5*time.Second)
			if !assert.NoError(s.T(), err) {
				return
			}

			n := atomic.AddInt32(&holders, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&holders, -1)

			assert.NoError(s.T(), lock.Release(ctx, lease))
			atomic.AddInt32(&done, 1)
		}()
	}
	wg.Wait()

	assert.EqualValues(s.T(), 1, maxSeen)
	assert.EqualValues(s.T(), workers, done)
}

func (s *RedisIntegrationTestSuite) TestRateLimiterSlidingWindow() {
	limiter := NewRateLimiter(s.client, RateLimiterConfig{})
	ctx := context.Background()
	identifier := "patient:" + s.prefix

	for i := 0; i < 5; i++ {
		decision := limiter.Allow(ctx, identifier, "book_appointment", 5, 2*time.Second)
		require.True(s.T(), decision.Allowed, "request %d should be allowed", i+1)
	}

	denied := limiter.Allow(ctx, identifier, "book_appointment", 5, 2*time.Second)
	assert.False(s.T(), denied.Allowed)
	assert.False(s.T(), denied.Degraded)
	assert.Greater(s.T(), denied.RetryAfter, time.Duration(0))

	time.Sleep(2100 * time.Millisecond)
	assert.True(s.T(), limiter.Allow(ctx, identifier, "book_appointment", 5, 2*time.Second).Allowed)
}

func TestRedisIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationTestSuite))
}
