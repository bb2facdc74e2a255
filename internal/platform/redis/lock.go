package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when the lock stayed held past the retry budget.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockLost is the cancellation cause seen by fn once another owner holds the lock.
	ErrLockLost = errors.New("lock lost")
)

// releaseScript deletes the lock only if it is still owned by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the caller's token still owns the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker provides mutual exclusion across processes using SET NX PX.
type Locker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxWait time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithTTL sets how long a lock outlives its holder. The lock is renewed every
// third of the TTL while fn runs.
func WithTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) { l.ttl = ttl }
}

// WithMaxWait bounds how long WithLock waits for a held lock.
func WithMaxWait(d time.Duration) LockerOption {
	return func(l *Locker) { l.maxWait = d }
}

// NewLocker returns a Locker using the given client.
func NewLocker(client *redis.Client, opts ...LockerOption) *Locker {
	l := &Locker{
		client:  client,
		prefix:  "credentials:lock:",
		ttl:     30 * time.Second,
		maxWait: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithLock runs fn while holding the lock named key. The lock is kept alive
// for as long as fn runs; if it is taken over anyway, fn's context is
// cancelled with ErrLockLost as its cause.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := l.prefix + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.maxWait

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire lock %s: %w", key, err))
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}
	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		return err
	}

	fnCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		l.keepAlive(fnCtx, lockKey, token, stop, cancel)
	}()

	defer func() {
		close(stop)
		<-stopped
		cancel(nil)
		// Release must run even when ctx is already cancelled.
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer releaseCancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err() //nolint:errcheck // lock expires on TTL
	}()

	if err := fn(fnCtx); err != nil {
		if cause := context.Cause(fnCtx); errors.Is(cause, ErrLockLost) {
			return errors.Join(err, cause)
		}
		return err
	}
	return nil
}

func (l *Locker) keepAlive(ctx context.Context, lockKey, token string, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := extendScript.Run(ctx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				// Transient; the next tick retries before the TTL runs out.
				continue
			}
			if extended == 0 {
				lost(ErrLockLost)
				return
			}
		}
	}
}
