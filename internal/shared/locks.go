package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UnitLockKey builds redis keys serializing payment application per unit.
func UnitLockKey(unitID int64) string {
	return fmt.Sprintf("finance:unit:%d:lock", unitID)
}

// PeriodLockKey builds redis keys for fiscal period critical sections.
func PeriodLockKey(periodID int64) string {
	return fmt.Sprintf("finance:period:%d:lock", periodID)
}

// Locker grants short leases over redis. Two concurrent payment applications
// against the same unit both read and write the same due rows, so one of them
// must wait; different units proceed independently.
type Locker struct {
	client  *redis.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewLocker constructs a Locker with the given lease TTL.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, retries: 5, backoff: 100 * time.Millisecond}
}

// Acquire takes the named lease, retrying a bounded number of times before
// giving up with ErrLocked. The returned release function is safe to call
// once the critical section ends.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	for attempt := 0; attempt <= l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire lease %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = l.client.Del(releaseCtx, key).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.backoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, key)
}
