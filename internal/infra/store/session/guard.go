// Package session provides the per-session busy flag that keeps a single
// submission in flight per conversation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type memoryGuard struct {
	mu   sync.Mutex
	busy map[string]string
}

func NewMemoryGuard() *memoryGuard {
	return &memoryGuard{busy: make(map[string]string)}
}

// TryAcquire claims the session and returns the token that releases it.
func (g *memoryGuard) TryAcquire(_ context.Context, sessionID string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.busy[sessionID]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	g.busy[sessionID] = token
	return token, true, nil
}

// Release frees the session only while token still owns it.
func (g *memoryGuard) Release(_ context.Context, sessionID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy[sessionID] == token {
		delete(g.busy, sessionID)
	}
	return nil
}

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisGuard holds the flag in a key with a TTL, so a crashed replica cannot
// block a session forever. The key stores the owner's token; a holder whose
// key expired cannot release a later owner's claim.
type redisGuard struct {
	rdb Locker
	ttl time.Duration
}

// Locker is the subset of redis.Cmdable the guard uses.
type Locker interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func NewRedisGuard(rdb Locker, ttl time.Duration) *redisGuard {
	return &redisGuard{rdb: rdb, ttl: ttl}
}

func (g *redisGuard) TryAcquire(ctx context.Context, sessionID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, busyKey(sessionID), token, g.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis acquire busy flag: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (g *redisGuard) Release(ctx context.Context, sessionID, token string) error {
	n, err := releaseScript.Run(ctx, g.rdb, []string{busyKey(sessionID)}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis release busy flag: %w", err)
	}
	if n == 0 {
		slog.Warn("busy flag already expired or taken over",
			slog.String("session_id", sessionID),
		)
	}
	return nil
}

func busyKey(sessionID string) string {
	return "session:busy:" + sessionID
}
