package effect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/you-humble/linkassist/internal/domain"

	"github.com/google/uuid"
)

const (
	DefaultDelay   = 10 * time.Second
	performTimeout = 5 * time.Second
)

type Kind string

const (
	KindNavigate Kind = "navigate"
	KindRefresh  Kind = "refresh"
)

// Effect is what a performer receives when a scheduled effect fires.
type Effect struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Action    domain.Action `json:"action"`
	Kind      Kind          `json:"kind"`
	Route     string        `json:"route"`
	FiredAt   time.Time     `json:"fired_at"`
}

type Performer interface {
	Perform(ctx context.Context, e Effect) error
}

// ViewResolver reports which view the session is currently showing.
type ViewResolver interface {
	View(sessionID string) string
}

type Destination struct {
	View  string
	Route string
}

type Scheduler struct {
	delay     time.Duration
	performer Performer
	views     ViewResolver
	targets   map[domain.Action]Destination
}

// NewScheduler recognizes only domain.ActionNavigateToList, leading to dest.
func NewScheduler(delay time.Duration, dest Destination, performer Performer, views ViewResolver) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}

	return &Scheduler{
		delay:     delay,
		performer: performer,
		views:     views,
		targets: map[domain.Action]Destination{
			domain.ActionNavigateToList: dest,
		},
	}
}

func (s *Scheduler) Delay() time.Duration { return s.delay }

func (s *Scheduler) Recognized(action domain.Action) bool {
	_, ok := s.targets[action]
	return ok
}

// Schedule arms the effect for action. It returns nil for unrecognized actions.
func (s *Scheduler) Schedule(sessionID string, action domain.Action) *ScheduledEffect {
	dest, ok := s.targets[action]
	if !ok {
		if action != "" {
			slog.Debug("ignoring unrecognized action",
				slog.String("session_id", sessionID),
				slog.String("action", string(action)),
			)
		}
		return nil
	}

	e := &ScheduledEffect{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Action:    action,
		FireAt:    time.Now().Add(s.delay),
		dest:      dest,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	e.timer = time.AfterFunc(s.delay, func() { s.fire(e) })
	e.mu.Unlock()

	slog.Info("effect scheduled",
		slog.String("session_id", sessionID),
		slog.String("effect_id", e.ID),
		slog.String("action", string(action)),
		slog.Time("fire_at", e.FireAt),
	)

	return e
}

func (s *Scheduler) fire(e *ScheduledEffect) {
	e.mu.Lock()
	if e.state != statePending {
		e.mu.Unlock()
		return
	}
	e.state = stateFired
	e.mu.Unlock()
	defer close(e.done)

	out := Effect{
		ID:        e.ID,
		SessionID: e.SessionID,
		Action:    e.Action,
		Kind:      KindNavigate,
		Route:     e.dest.Route,
		FiredAt:   time.Now(),
	}
	if s.views != nil && s.views.View(e.SessionID) == e.dest.View {
		out.Kind = KindRefresh
	}

	ctx, cancel := context.WithTimeout(context.Background(), performTimeout)
	defer cancel()

	if err := s.performer.Perform(ctx, out); err != nil {
		slog.Error("perform effect",
			slog.String("session_id", e.SessionID),
			slog.String("effect_id", e.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("effect fired",
		slog.String("session_id", e.SessionID),
		slog.String("effect_id", e.ID),
		slog.String("kind", string(out.Kind)),
	)
}

type state int

const (
	statePending state = iota
	stateCancelled
	stateFired
)

// ScheduledEffect is a pending delayed effect. Its cancellation state is
// owned by the value and checked under mu when the timer expires.
type ScheduledEffect struct {
	ID        string
	SessionID string
	Action    domain.Action
	FireAt    time.Time

	dest Destination

	mu    sync.Mutex
	state state
	timer *time.Timer
	done  chan struct{}
}

// Cancel stops the effect if it has not fired yet. It reports whether this
// call cancelled it; later calls, or calls after expiry, are no-ops.
func (e *ScheduledEffect) Cancel() bool {
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != statePending {
		return false
	}
	e.state = stateCancelled
	e.timer.Stop()
	close(e.done)

	return true
}

func (e *ScheduledEffect) Pending() bool { return e.is(statePending) }
func (e *ScheduledEffect) Cancelled() bool { return e.is(stateCancelled) }
func (e *ScheduledEffect) Fired() bool { return e.is(stateFired) }

// Done is closed once the effect was cancelled or has finished firing.
func (e *ScheduledEffect) Done() <-chan struct{} { return e.done }

func (e *ScheduledEffect) is(s state) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == s
}
