package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/you-humble/linkassist/internal/effect"

	"github.com/nats-io/nats.go"
)

// jetStreamPublisher delivers fired effects to the rendering layer on
// <subject>.<session_id>. The effect id is the JetStream message id, so a
// redelivered publish is dropped by the server.
type jetStreamPublisher struct {
	js      nats.JetStreamContext
	subject string
}

func NewJetStreamPublisher(js nats.JetStreamContext, subject string) *jetStreamPublisher {
	return &jetStreamPublisher{
		js:      js,
		subject: subject,
	}
}

func (p *jetStreamPublisher) Perform(ctx context.Context, e effect.Effect) error {
	if e.SessionID == "" {
		return fmt.Errorf("empty session id")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal effect %s: %w", e.ID, err)
	}

	msg := &nats.Msg{
		Subject: Subject(p.subject, e.SessionID),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, e.ID)

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish effect %s: %w", e.ID, err)
	}

	slog.Debug(
		"effect published",
		slog.String("effect_id", e.ID),
		slog.String("subject", msg.Subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
		slog.Bool("duplicate", ack.Duplicate),
	)

	return nil
}

// Subject is the per-session subject effects are published on.
func Subject(base, sessionID string) string {
	return base + "." + sessionID
}

// LogPerformer only logs effects. It is used when no broker is configured.
type LogPerformer struct{}

func (LogPerformer) Perform(_ context.Context, e effect.Effect) error {
	slog.Info("effect",
		slog.String("effect_id", e.ID),
		slog.String("session_id", e.SessionID),
		slog.String("kind", string(e.Kind)),
		slog.String("route", e.Route),
	)
	return nil
}
