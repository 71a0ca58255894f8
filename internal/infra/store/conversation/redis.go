package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/you-humble/linkassist/internal/domain"

	"github.com/redis/go-redis/v9"
)

// redisLog keeps each session's messages in a list so several service
// replicas can serve the same session.
type redisLog struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisLog(rdb redis.Cmdable, ttl time.Duration) *redisLog {
	return &redisLog{rdb: rdb, ttl: ttl}
}

func (l *redisLog) Append(ctx context.Context, sessionID string, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := conversationKey(sessionID)

	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append message: %w", err)
	}
	return nil
}

func (l *redisLog) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	items, err := l.rdb.LRange(ctx, conversationKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(items))
	for i, item := range items {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			slog.Warn("redis: skip undecodable message",
				slog.String("session_id", sessionID),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}

func conversationKey(sessionID string) string {
	return "conversation:" + sessionID
}
