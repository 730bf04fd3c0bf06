package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld means another collector is already draining the bucket.
// Expected under concurrent collector instances — the caller skips the bucket
// and retries on its next sweep.
var ErrLeaseHeld = errors.New("bucket lease held")

// Lease provides bucket-level mutual exclusion with a bounded TTL so a
// crashed collector can never wedge a bucket forever.
type Lease interface {
	// Acquire takes the lease for bucketID, returning a release function.
	// Returns ErrLeaseHeld if the lease is currently held elsewhere.
	Acquire(ctx context.Context, bucketID string, ttl time.Duration) (func(context.Context) error, error)
}

// releaseScript deletes the lease key only if it still carries our token, so
// an expired lease that someone else re-acquired is never clobbered.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements Lease on a shared Redis: SET NX PX with a per-holder
// token, released by a compare-and-delete script.
type RedisLease struct {
	client *redis.Client
	prefix string
}

// NewRedisLease creates a lease manager using the given client. Keys are
// namespaced under prefix (default "feedline:lease:").
func NewRedisLease(client *redis.Client, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "feedline:lease:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

// Acquire takes the bucket lease, or returns ErrLeaseHeld.
func (l *RedisLease) Acquire(ctx context.Context, bucketID string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.prefix + bucketID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", bucketID, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("release lease %s: %w", bucketID, err)
		}
		return nil
	}
	return release, nil
}
