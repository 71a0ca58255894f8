package extract

import (
	"testing"

	"github.com/you-humble/linkassist/internal/domain"
)

func started() domain.Frame { return domain.Frame{Kind: domain.EventStarted} }

func partial(text string) domain.Frame {
	return domain.Frame{Kind: domain.EventPartialOutput, Text: text}
}

func finished(status domain.FrameStatus, text string, action domain.Action) domain.Frame {
	return domain.Frame{Kind: domain.EventFinished, Status: status, Text: text, Action: action}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		frames []domain.Frame
		text   string
		action domain.Action
	}{
		{
			name: "full stream",
			frames: []domain.Frame{
				started(),
				partial("Hello "),
				partial("world"),
				finished(domain.StatusSucceeded, "Hello world", domain.ActionNavigateToList),
			},
			text:   "Hello world\n\n" + SuccessNotice,
			action: domain.ActionNavigateToList,
		},
		{
			name:   "stream closed early",
			frames: []domain.Frame{started(), partial("partial only")},
			text:   "partial only",
		},
		{
			name:   "empty log",
			frames: nil,
			text:   NoResultText,
		},
		{
			name: "last success wins",
			frames: []domain.Frame{
				finished(domain.StatusSucceeded, "first", "a"),
				partial("noise"),
				finished(domain.StatusSucceeded, "second", "b"),
			},
			text:   "second\n\n" + SuccessNotice,
			action: "b",
		},
		{
			name: "success preferred over more recent text",
			frames: []domain.Frame{
				finished(domain.StatusSucceeded, "result", domain.ActionNavigateToList),
				partial("trailing chatter"),
			},
			text:   "result\n\n" + SuccessNotice,
			action: domain.ActionNavigateToList,
		},
		{
			name: "success without text is ignored",
			frames: []domain.Frame{
				partial("earlier"),
				finished(domain.StatusSucceeded, "", domain.ActionNavigateToList),
			},
			text: "earlier",
		},
		{
			name: "failed finished falls back to its text",
			frames: []domain.Frame{
				started(),
				partial("working"),
				finished("failed", "quota exceeded", domain.ActionNavigateToList),
			},
			text: "quota exceeded",
		},
		{
			name:   "frames without text",
			frames: []domain.Frame{started(), finished("failed", "", "")},
			text:   NoResultText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.frames)
			if got.Text != tt.text {
				t.Errorf("text = %q, want %q", got.Text, tt.text)
			}
			if got.Action != tt.action {
				t.Errorf("action = %q, want %q", got.Action, tt.action)
			}
			if got.IsUser {
				t.Error("produced message must not be a user message")
			}
		})
	}
}

func TestExtractIsPure(t *testing.T) {
	frames := []domain.Frame{
		started(),
		partial("a"),
		finished(domain.StatusSucceeded, "a", domain.ActionNavigateToList),
	}
	snapshot := append([]domain.Frame(nil), frames...)

	first := Extract(frames)
	second := Extract(frames)
	if first != second {
		t.Errorf("Extract not idempotent: %+v != %+v", first, second)
	}
	for i := range frames {
		if frames[i] != snapshot[i] {
			t.Fatalf("frame %d mutated: %+v", i, frames[i])
		}
	}
}

func TestSucceededCount(t *testing.T) {
	frames := []domain.Frame{
		finished(domain.StatusSucceeded, "a", ""),
		finished(domain.StatusSucceeded, "", ""),
		finished("failed", "b", ""),
		finished(domain.StatusSucceeded, "c", ""),
	}
	if got := SucceededCount(frames); got != 2 {
		t.Errorf("SucceededCount = %d, want 2", got)
	}
}
