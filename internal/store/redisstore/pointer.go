package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// clearIfEquals deletes KEYS[1] only while it still holds ARGV[1].
var clearIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PointerStore keeps one user's current session id in redis so every client
// of that user (tabs, devices, the CLI) converges on the same session.
type PointerStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func pointerKey(userID uint64) string {
	return fmt.Sprintf("chat:current_session:%d", userID)
}

// Pointer returns the pointer store for userID. ttl of 0 keeps it forever.
func (s *Store) Pointer(userID uint64, ttl time.Duration) *PointerStore {
	return &PointerStore{rdb: s.rdb, key: pointerKey(userID), ttl: ttl}
}

func (p *PointerStore) Get(ctx context.Context) (string, bool, error) {
	v, err := p.rdb.Get(ctx, p.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get session pointer")
	}
	return v, v != "", nil
}

func (p *PointerStore) Set(ctx context.Context, sessionID string) error {
	if err := p.rdb.Set(ctx, p.key, sessionID, p.ttl).Err(); err != nil {
		return errors.Wrap(err, "set session pointer")
	}
	return nil
}

func (p *PointerStore) Clear(ctx context.Context, expected string) error {
	if err := clearIfEquals.Run(ctx, p.rdb, []string{p.key}, expected).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "clear session pointer")
	}
	return nil
}
