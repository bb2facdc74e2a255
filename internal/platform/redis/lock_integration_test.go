//go:build integration

package redis_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	platformredis "credentials/internal/platform/redis"
	"credentials/pkg/testutil"
	"credentials/pkg/testutil/containers"
)

type LockerSuite struct {
	suite.Suite
	client *goredis.Client
}

func TestLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LockerSuite))
}

func (s *LockerSuite) SetupSuite() {
	container := containers.GetManager().GetRedis(s.T())

	client, err := platformredis.New(context.Background(), platformredis.DefaultConfig(container.URL))
	s.Require().NoError(err)
	s.client = client.Client
}

func (s *LockerSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *LockerSuite) TestSerializesCriticalSection() {
	locker := platformredis.NewLocker(s.client, platformredis.WithMaxWait(20*time.Second))
	var inside, maxInside atomic.Int32

	result := testutil.RunConcurrent(8, func(int) error {
		return locker.WithLock(context.Background(), "status-list:did:key:z6Mk", func(context.Context) error {
			n := inside.Add(1)
			for {
				current := maxInside.Load()
				if n <= current || maxInside.CompareAndSwap(current, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inside.Add(-1)
			return nil
		})
	})

	assert.Equal(s.T(), int32(8), result.Successes)
	assert.Equal(s.T(), int32(1), maxInside.Load())
}

func (s *LockerSuite) TestReleasesAfterError() {
	locker := platformredis.NewLocker(s.client)
	ctx := context.Background()

	err := locker.WithLock(ctx, "release", func(context.Context) error { return assert.AnError })
	require.ErrorIs(s.T(), err, assert.AnError)

	exists, err := s.client.Exists(ctx, "credentials:lock:release").Result()
	require.NoError(s.T(), err)
	assert.Zero(s.T(), exists)
}

func (s *LockerSuite) TestTimesOutWhileHeld() {
	holder := platformredis.NewLocker(s.client)
	waiter := platformredis.NewLocker(s.client, platformredis.WithMaxWait(100*time.Millisecond))
	ctx := context.Background()

	err := holder.WithLock(ctx, "held", func(ctx context.Context) error {
		return waiter.WithLock(ctx, "held", func(context.Context) error { return nil })
	})

	assert.ErrorIs(s.T(), err, platformredis.ErrLockNotAcquired)
}

func (s *LockerSuite) TestRenewsWhileHeld() {
	holder := platformredis.NewLocker(s.client, platformredis.WithTTL(300*time.Millisecond))
	waiter := platformredis.NewLocker(s.client, platformredis.WithMaxWait(50*time.Millisecond))
	ctx := context.Background()

	err := holder.WithLock(ctx, "renewed", func(ctx context.Context) error {
		time.Sleep(time.Second)
		s.Require().NoError(ctx.Err())
		return waiter.WithLock(context.Background(), "renewed", func(context.Context) error { return nil })
	})

	assert.ErrorIs(s.T(), err, platformredis.ErrLockNotAcquired)
}

func (s *LockerSuite) TestCancelsWhenLockIsTakenOver() {
	holder := platformredis.NewLocker(s.client, platformredis.WithTTL(150*time.Millisecond))
	ctx := context.Background()

	err := holder.WithLock(ctx, "stolen", func(ctx context.Context) error {
		s.Require().NoError(s.client.Set(context.Background(), "credentials:lock:stolen", "other", 0).Err())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})

	require.ErrorIs(s.T(), err, platformredis.ErrLockLost)
	require.ErrorIs(s.T(), err, context.Canceled)

	owner, err := s.client.Get(ctx, "credentials:lock:stolen").Result()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "other", owner, "release leaves a foreign lock in place")
	s.Require().NoError(s.client.Del(ctx, "credentials:lock:stolen").Err())
}
