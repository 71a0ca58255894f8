package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/you-humble/linkassist/internal/domain"
)

func TestMemoryLogPreservesOrderPerSession(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	_ = l.Append(ctx, "a", domain.Message{Text: "hi", IsUser: true})
	_ = l.Append(ctx, "b", domain.Message{Text: "other"})
	_ = l.Append(ctx, "a", domain.Message{Text: "hello"})

	got, err := l.Messages(ctx, "a")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 2 || got[0].Text != "hi" || got[1].Text != "hello" {
		t.Errorf("messages = %+v", got)
	}

	empty, _ := l.Messages(ctx, "missing")
	if len(empty) != 0 {
		t.Errorf("unknown session should be empty, got %+v", empty)
	}
}

func TestMemoryLogReturnsCopy(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.Append(ctx, "a", domain.Message{Text: "orig"})

	got, _ := l.Messages(ctx, "a")
	got[0].Text = "changed"

	again, _ := l.Messages(ctx, "a")
	if again[0].Text != "orig" {
		t.Error("caller mutation leaked into the log")
	}
}

func TestMemoryLogConcurrentReaders(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = l.Messages(ctx, "a")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		_ = l.Append(ctx, "a", domain.Message{Text: "m"})
	}
	wg.Wait()

	got, _ := l.Messages(ctx, "a")
	if len(got) != 100 {
		t.Errorf("got %d messages, want 100", len(got))
	}
}
