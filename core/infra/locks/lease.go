package locks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Second

// Lease is an exclusive Redis lock tagged with its owner. It expires on its
// own if the owner stops renewing it.
type Lease struct {
	client redis.UniversalClient
	key    string
	owner  string
	ttl    time.Duration
}

// acquire takes a free lease, or renews it when the caller already holds it.
var acquireScript = redis.NewScript(`
local holder = redis.call("GET", KEYS[1])
if not holder then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return 1
end
if holder == ARGV[1] then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// release deletes the key only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewLease returns a lease on key held as owner. ttl <= 0 uses 5s.
func NewLease(client redis.UniversalClient, key, owner string, ttl time.Duration) (*Lease, error) {
	key = strings.TrimSpace(key)
	owner = strings.TrimSpace(owner)
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if key == "" || owner == "" {
		return nil, fmt.Errorf("key and owner required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Lease{client: client, key: key, owner: owner, ttl: ttl}, nil
}

func (l *Lease) Key() string   { return l.key }
func (l *Lease) Owner() string { return l.owner }

// Acquire reports whether the caller holds the lease after the call.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release gives the lease up. It is a no-op when another owner holds it.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Holder returns the current owner, or "" when the lease is free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return holder, err
}
