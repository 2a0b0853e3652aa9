package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner that set the key may delete it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a held lock. Release it when the guarded work is done; an
// unreleased lease expires on its own after the TTL it was taken with.
type Lease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Release drops the lease if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Locker hands out leases keyed by name using SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryAcquire returns (nil, false, nil) when another owner holds the lease.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	lease := &Lease{
		client: l.client,
		key:    l.prefix + name,
		token:  uuid.NewString(),
	}

	err := l.client.SetArgs(ctx, lease.key, lease.token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lease, true, nil
}

// TryLock is TryAcquire returning the release func directly, so callers
// can depend on a small interface instead of *Lease.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lease, ok, err := l.TryAcquire(ctx, name, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lease.Release, true, nil
}
