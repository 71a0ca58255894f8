// Package frame decodes task progress events from their JSON wire form.
//
// The canonical event shape is
//
//	{"event": "finished", "task_id": "...", "data": {"text": "...", "status": "succeeded", "action": "..."}}
//
// Workflow runners that speak the workflow_started / text_chunk /
// workflow_finished dialect (with outputs nested under data.outputs) are
// accepted as well.
package frame

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/you-humble/linkassist/internal/domain"

	"github.com/tidwall/gjson"
)

var ErrUnknownEvent = errors.New("unknown event kind")

var kinds = map[string]domain.EventKind{
	"started":           domain.EventStarted,
	"workflow_started":  domain.EventStarted,
	"partial-output":    domain.EventPartialOutput,
	"partial_output":    domain.EventPartialOutput,
	"text_chunk":        domain.EventPartialOutput,
	"message":           domain.EventPartialOutput,
	"finished":          domain.EventFinished,
	"workflow_finished": domain.EventFinished,
}

type Event struct {
	Frame  domain.Frame
	TaskID string
}

func Decode(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, fmt.Errorf("%w: invalid json", domain.ErrMalformedFrame)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", domain.ErrMalformedFrame)
	}

	name := firstString(root, "event", "eventKind", "type")
	if name == "" {
		return Event{}, fmt.Errorf("%w: missing event kind", domain.ErrMalformedFrame)
	}
	kind, ok := kinds[name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	payload := root.Get("payload")
	if !payload.Exists() {
		payload = root.Get("data")
	}

	ev := Event{
		Frame: domain.Frame{
			Kind: kind,
			Text: firstString(payload, "text", "outputs.text", "answer"),
		},
		TaskID: firstString(root, "task_id", "taskId", "workflow_run_id"),
	}

	if kind == domain.EventFinished {
		ev.Frame.Status = domain.FrameStatus(payload.Get("status").String())
		ev.Frame.Action = domain.Action(firstString(payload, "action", "outputs.action"))
	}

	return ev, nil
}

// DecodeLog decodes a JSON array of events. Entries that cannot be decoded are
// logged and skipped; order is preserved.
func DecodeLog(raw []byte) []domain.Frame {
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil
	}

	var frames []domain.Frame
	for i, item := range arr.Array() {
		ev, err := Decode([]byte(item.Raw))
		if err != nil {
			LogSkipped(err, slog.Int("index", i))
			continue
		}
		frames = append(frames, ev.Frame)
	}

	return frames
}

// LogSkipped reports a frame that was dropped while reading a stream or log.
func LogSkipped(err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	if errors.Is(err, ErrUnknownEvent) {
		slog.Debug("frame skipped", attrs...)
		return
	}
	slog.Warn("malformed frame skipped", attrs...)
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
