// Package redisstate is the distributed Store backend: Redis SET NX PX
// for lease acquisition and short Lua scripts for token-checked
// release/extend.
package redisstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duskrail/switchboard/internal/state"
)

const subscriptionsKey = "subscriptions"

// releaseScript deletes the lock key only if its value still matches
// the caller's token, so a stale holder cannot clobber a newer lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript resets the TTL on the lock key only if its value still
// matches the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Store is a state.Store backed by Redis.
type Store struct {
	client *redis.Client
}

// New wraps an existing *redis.Client. Use NewFromURL to build one from
// a connection string.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromURL parses a redis:// URL (as produced by most hosting
// providers) and returns a ready Store.
func NewFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisstate: parse url: %w", err)
	}
	return New(redis.NewClient(opts)), nil
}

func (s *Store) Connect(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Close()
}

func lockKey(threadID string) string { return "lock:" + threadID }

func (s *Store) AcquireLease(ctx context.Context, threadID string, ttl time.Duration) (*state.Lease, error) {
	token := newToken()
	ok, err := s.client.SetNX(ctx, lockKey(threadID), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstate: acquire lease: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &state.Lease{ThreadID: threadID, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (s *Store) ReleaseLease(ctx context.Context, lease *state.Lease) error {
	_, err := releaseScript.Run(ctx, s.client, []string{lockKey(lease.ThreadID)}, lease.Token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstate: release lease: %w", err)
	}
	return nil
}

func (s *Store) ExtendLease(ctx context.Context, lease *state.Lease, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, s.client, []string{lockKey(lease.ThreadID)}, lease.Token, ttl.Milliseconds()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redisstate: extend lease: %w", err)
	}
	n, _ := res.(int64)
	if n == 1 {
		lease.ExpiresAt = time.Now().Add(ttl)
		return true, nil
	}
	return false, nil
}

func (s *Store) Subscribe(ctx context.Context, threadID string) error {
	return s.client.SAdd(ctx, subscriptionsKey, threadID).Err()
}

func (s *Store) Unsubscribe(ctx context.Context, threadID string) error {
	return s.client.SRem(ctx, subscriptionsKey, threadID).Err()
}

func (s *Store) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	return s.client.SIsMember(ctx, subscriptionsKey, threadID).Result()
}

// ListSubscriptions uses SSCAN cursor-based iteration to avoid a
// large-reply hazard on big subscription sets.
func (s *Store) ListSubscriptions(ctx context.Context, adapterName string) ([]string, error) {
	var out []string
	var cursor uint64
	prefix := ""
	if adapterName != "" {
		prefix = adapterName + ":*"
	}
	for {
		keys, next, err := s.client.SScan(ctx, subscriptionsKey, cursor, prefix, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstate: list subscriptions: %w", err)
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redisstate: get %s: %w", key, err)
	}
	if dest == nil {
		return true, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redisstate: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
