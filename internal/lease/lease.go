// Package lease keeps two processes from driving the same account at once.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "account-lease:v1:"

// ErrHeld is returned when another owner holds the lease.
var ErrHeld = errors.New("lease held by another owner")

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a per-account lease stored under a Redis key that expires unless
// renewed within ttl.
type Redis struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewRedis builds a lease held in the name of owner.
func NewRedis(client *redis.Client, owner string, ttl time.Duration) *Redis {
	return &Redis{client: client, owner: owner, ttl: ttl}
}

// Owner returns the identity this lease is held under.
func (l *Redis) Owner() string {
	return l.owner
}

// Acquire takes the lease for accountID. Acquiring a lease this owner already
// holds extends it.
func (l *Redis) Acquire(ctx context.Context, accountID string) error {
	ok, err := l.client.SetNX(ctx, keyPrefix+accountID, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return nil
	}
	return l.Renew(ctx, accountID)
}

// Renew extends the lease. It fails with ErrHeld if the lease expired and was
// taken by someone else, or was never held.
func (l *Redis) Renew(ctx context.Context, accountID string) error {
	n, err := renewScript.Run(ctx, l.client, []string{keyPrefix + accountID}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return ErrHeld
	}
	return nil
}

// Release gives the lease up if this owner holds it.
func (l *Redis) Release(ctx context.Context, accountID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + accountID}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
