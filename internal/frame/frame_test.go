package frame

import (
	"errors"
	"testing"

	"github.com/you-humble/linkassist/internal/domain"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   domain.Frame
		taskID string
	}{
		{
			name:   "canonical started",
			raw:    `{"event":"started","task_id":"t-1"}`,
			want:   domain.Frame{Kind: domain.EventStarted},
			taskID: "t-1",
		},
		{
			name: "canonical partial",
			raw:  `{"event":"partial-output","data":{"text":"Hello "}}`,
			want: domain.Frame{Kind: domain.EventPartialOutput, Text: "Hello "},
		},
		{
			name: "canonical finished",
			raw:  `{"event":"finished","data":{"text":"done","status":"succeeded","action":"navigate-to-list"}}`,
			want: domain.Frame{
				Kind:   domain.EventFinished,
				Text:   "done",
				Status: domain.StatusSucceeded,
				Action: domain.ActionNavigateToList,
			},
		},
		{
			name: "eventKind with payload",
			raw:  `{"eventKind":"partial-output","payload":{"text":"x"}}`,
			want: domain.Frame{Kind: domain.EventPartialOutput, Text: "x"},
		},
		{
			name: "workflow dialect finished",
			raw:  `{"event":"workflow_finished","workflow_run_id":"run-9","data":{"status":"succeeded","outputs":{"text":"out","action":"navigate-to-list"}}}`,
			want: domain.Frame{
				Kind:   domain.EventFinished,
				Text:   "out",
				Status: domain.StatusSucceeded,
				Action: domain.ActionNavigateToList,
			},
			taskID: "run-9",
		},
		{
			name: "status and action ignored on non-finished",
			raw:  `{"event":"text_chunk","data":{"text":"a","status":"succeeded","action":"navigate-to-list"}}`,
			want: domain.Frame{Kind: domain.EventPartialOutput, Text: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if ev.Frame != tt.want {
				t.Errorf("Decode(%s) = %+v, want %+v", tt.raw, ev.Frame, tt.want)
			}
			if ev.TaskID != tt.taskID {
				t.Errorf("task id = %q, want %q", ev.TaskID, tt.taskID)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{"event":`, domain.ErrMalformedFrame},
		{"array", `[1,2]`, domain.ErrMalformedFrame},
		{"no kind", `{"data":{"text":"x"}}`, domain.ErrMalformedFrame},
		{"unknown kind", `{"event":"ping"}`, ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%s) error = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}
}

func TestDecodeLogKeepsOrderAndSkipsBadEntries(t *testing.T) {
	raw := `[
		{"event":"started"},
		{"event":"partial-output","data":{"text":"a"}},
		"garbage",
		{"event":"ping"},
		{"event":"finished","data":{"text":"ab","status":"succeeded"}}
	]`

	got := DecodeLog([]byte(raw))
	want := []domain.Frame{
		{Kind: domain.EventStarted},
		{Kind: domain.EventPartialOutput, Text: "a"},
		{Kind: domain.EventFinished, Text: "ab", Status: domain.StatusSucceeded},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeLogNull(t *testing.T) {
	if got := DecodeLog([]byte(`null`)); got != nil {
		t.Errorf("DecodeLog(null) = %+v, want nil", got)
	}
}
