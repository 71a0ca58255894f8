package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/you-humble/linkassist/internal/domain"
	"github.com/you-humble/linkassist/internal/effect"
	"github.com/you-humble/linkassist/internal/extract"
	"github.com/you-humble/linkassist/internal/stream"

	"github.com/google/uuid"
)

const releaseTimeout = 5 * time.Second

type Uploader interface {
	Upload(ctx context.Context, up domain.Upload) (string, error)
}

type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission, auth domain.AuthContext) (domain.Task, error)
	OpenStream(ctx context.Context, sub domain.Submission, auth domain.AuthContext) (io.ReadCloser, error)
}

type Poller interface {
	Poll(ctx context.Context, taskID string) ([]domain.Frame, error)
}

type ConversationLog interface {
	Append(ctx context.Context, sessionID string, msg domain.Message) error
	Messages(ctx context.Context, sessionID string) ([]domain.Message, error)
}

type SessionGuard interface {
	// TryAcquire claims the session; the returned token releases the claim.
	TryAcquire(ctx context.Context, sessionID string) (token string, ok bool, err error)
	Release(ctx context.Context, sessionID, token string) error
}

type EffectScheduler interface {
	Schedule(sessionID string, action domain.Action) *effect.ScheduledEffect
}

type ViewStore interface {
	Set(sessionID, view string)
	View(sessionID string) string
}

type Request struct {
	Input string
	File  *domain.Upload
	Auth  domain.AuthContext
}

type usecase struct {
	ctx       context.Context
	uploader  Uploader
	submitter Submitter
	poller    Poller
	log       ConversationLog
	guard     SessionGuard
	effects   EffectScheduler
	views     ViewStore

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string]*effect.ScheduledEffect
}

// New builds the orchestrator. ctx bounds flows started by SubmitAsync.
func New(
	ctx context.Context,
	uploader Uploader,
	submitter Submitter,
	poller Poller,
	log ConversationLog,
	guard SessionGuard,
	effects EffectScheduler,
	views ViewStore,
) *usecase {
	return &usecase{
		ctx:       ctx,
		uploader:  uploader,
		submitter: submitter,
		poller:    poller,
		log:       log,
		guard:     guard,
		effects:   effects,
		views:     views,
		pending:   make(map[string]*effect.ScheduledEffect),
	}
}

// Submit runs one request to completion and returns the produced message.
// Flow failures become an error message in the log; only a busy session or
// a guard backend failure is returned as an error.
func (uc *usecase) Submit(ctx context.Context, sessionID string, req Request) (domain.Message, error) {
	token, err := uc.acquire(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}
	defer uc.release(sessionID, token)

	return uc.run(ctx, sessionID, req), nil
}

// SubmitAsync starts the flow in the background and returns once the session
// has been claimed.
func (uc *usecase) SubmitAsync(sessionID string, req Request) error {
	token, err := uc.acquire(uc.ctx, sessionID)
	if err != nil {
		return err
	}

	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		defer uc.release(sessionID, token)

		uc.run(uc.ctx, sessionID, req)
	}()

	return nil
}

// Wait blocks until every flow started by SubmitAsync has finished.
func (uc *usecase) Wait() {
	uc.wg.Wait()
}

func (uc *usecase) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := uc.log.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	return msgs, nil
}

func (uc *usecase) SetView(sessionID, view string) {
	uc.views.Set(sessionID, view)
}

func (uc *usecase) View(sessionID string) string {
	return uc.views.View(sessionID)
}

// CancelEffect cancels the session's pending effect, if it has not fired.
func (uc *usecase) CancelEffect(sessionID string) error {
	uc.mu.Lock()
	e := uc.pending[sessionID]
	delete(uc.pending, sessionID)
	uc.mu.Unlock()

	if !e.Cancel() {
		return domain.ErrNoPendingEffect
	}

	slog.Info("effect cancelled",
		slog.String("session_id", sessionID),
		slog.String("effect_id", e.ID),
	)
	return nil
}

func (uc *usecase) acquire(ctx context.Context, sessionID string) (string, error) {
	token, ok, err := uc.guard.TryAcquire(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("acquire session: %w", err)
	}
	if !ok {
		return "", domain.ErrSessionBusy
	}
	return token, nil
}

func (uc *usecase) release(sessionID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(uc.ctx), releaseTimeout)
	defer cancel()

	if err := uc.guard.Release(ctx, sessionID, token); err != nil {
		slog.Error("release session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (uc *usecase) run(ctx context.Context, sessionID string, req Request) domain.Message {
	l := slog.With(slog.String("session_id", sessionID))

	uc.append(ctx, l, sessionID, domain.Message{Text: echoText(req), IsUser: true})

	msg, err := uc.process(ctx, l, req)
	if err != nil {
		l.Error("task flow failed", slog.String("error", err.Error()))
		msg = errorMessage(err)
	}

	msg = uc.append(ctx, l, sessionID, msg)
	// The message is visible before its effect is armed.
	if msg.Action != "" {
		uc.arm(sessionID, msg.Action)
	}

	return msg
}

func (uc *usecase) process(ctx context.Context, l *slog.Logger, req Request) (domain.Message, error) {
	if err := req.Auth.Validate(); err != nil {
		return domain.Message{}, err
	}

	var sub domain.Submission = domain.Plain{Input: req.Input}
	if req.File != nil {
		ref, err := uc.uploader.Upload(ctx, *req.File)
		if err != nil {
			return domain.Message{}, err
		}
		l.Debug("artifact uploaded", slog.String("file_ref", ref))
		sub = domain.FileBatch{Input: req.Input, FileRef: ref}
	}

	frames, err := uc.collect(ctx, l, sub, req.Auth)
	if err != nil {
		return domain.Message{}, err
	}

	if n := extract.SucceededCount(frames); n > 1 {
		l.Warn("multiple succeeded frames, using the last", slog.Int("count", n))
	}

	return extract.Extract(frames), nil
}

// collect prefers the streaming endpoint and falls back to submit and poll.
func (uc *usecase) collect(ctx context.Context, l *slog.Logger, sub domain.Submission, auth domain.AuthContext) ([]domain.Frame, error) {
	body, err := uc.submitter.OpenStream(ctx, sub, auth)
	switch {
	case err == nil:
		defer body.Close()
		return uc.consume(ctx, l, body)
	case errors.Is(err, domain.ErrStreamUnavailable):
		l.Debug("stream unavailable, polling")
	default:
		return nil, err
	}

	task, err := uc.submitter.Submit(ctx, sub, auth)
	if err != nil {
		return nil, err
	}
	l.Info("task submitted", slog.String("task_id", task.ID))

	return uc.poller.Poll(ctx, task.ID)
}

func (uc *usecase) consume(ctx context.Context, l *slog.Logger, body io.Reader) ([]domain.Frame, error) {
	c := stream.NewConsumer(body)
	frames := slices.Collect(c.Frames())

	if slices.ContainsFunc(frames, func(f domain.Frame) bool { return f.Kind == domain.EventFinished }) {
		return frames, nil
	}

	if err := c.Err(); err != nil {
		l.Warn("stream interrupted", slog.String("error", err.Error()))
	}

	// Partial frames carry single fragments; the accumulated text stands for
	// the whole unfinished output.
	if text := c.Buffer(); text != "" {
		frames = append(frames, domain.Frame{Kind: domain.EventPartialOutput, Text: text})
	}

	if id := c.TaskID(); id != "" {
		l.Info("stream ended without result, polling", slog.String("task_id", id))

		polled, err := uc.poller.Poll(ctx, id)
		switch {
		case err == nil:
			return append(frames, polled...), nil
		case len(frames) == 0 || ctx.Err() != nil:
			return nil, err
		default:
			l.Warn("polling after stream failed, using partial output",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(frames) == 0 {
		if err := c.Err(); err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}

	return frames, nil
}

// arm schedules the effect for action, replacing the session's previous one.
func (uc *usecase) arm(sessionID string, action domain.Action) {
	e := uc.effects.Schedule(sessionID, action)
	if e == nil {
		return
	}

	uc.mu.Lock()
	prev := uc.pending[sessionID]
	uc.pending[sessionID] = e
	uc.mu.Unlock()

	if prev.Cancel() {
		slog.Debug("previous effect superseded",
			slog.String("session_id", sessionID),
			slog.String("effect_id", prev.ID),
		)
	}

	go func() {
		<-e.Done()
		uc.mu.Lock()
		if uc.pending[sessionID] == e {
			delete(uc.pending, sessionID)
		}
		uc.mu.Unlock()
	}()
}

func (uc *usecase) append(ctx context.Context, l *slog.Logger, sessionID string, msg domain.Message) domain.Message {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now()

	if err := uc.log.Append(context.WithoutCancel(ctx), sessionID, msg); err != nil {
		l.Error("append message",
			slog.Bool("is_user", msg.IsUser),
			slog.String("error", err.Error()),
		)
	}
	return msg
}

func echoText(req Request) string {
	if req.Input == "" && req.File != nil {
		return req.File.Name
	}
	return req.Input
}

func errorMessage(err error) domain.Message {
	var te *domain.TimeoutError
	if errors.As(err, &te) {
		return domain.Message{Text: "Still working: " + te.Error()}
	}
	return domain.Message{Text: "Something went wrong: " + err.Error()}
}
