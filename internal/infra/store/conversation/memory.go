package conversation

import (
	"context"
	"sync"

	"github.com/you-humble/linkassist/internal/domain"
)

type memoryLog struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
}

func NewMemoryLog() *memoryLog {
	return &memoryLog{sessions: make(map[string][]domain.Message)}
}

func (l *memoryLog) Append(_ context.Context, sessionID string, msg domain.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions[sessionID] = append(l.sessions[sessionID], msg)
	return nil
}

func (l *memoryLog) Messages(_ context.Context, sessionID string) ([]domain.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.sessions[sessionID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
