package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/you-humble/linkassist/internal/domain"
	"github.com/you-humble/linkassist/internal/frame"
	"github.com/you-humble/linkassist/internal/poller"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 1 << 20

type Config struct {
	PlainURL       string
	FileBatchURL   string
	StatusURL      string
	StreamURL      string
	RequestTimeout time.Duration

	// StreamIdleTimeout bounds the gap between reads of a stream body and
	// defaults to RequestTimeout. StreamMaxDuration caps the whole stream;
	// zero means no cap.
	StreamIdleTimeout time.Duration
	StreamMaxDuration time.Duration
}

// Client talks to the external workflow runner.
type Client struct {
	cfg Config

	http   *http.Client
	stream *http.Client
}

func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.StreamIdleTimeout <= 0 {
		cfg.StreamIdleTimeout = cfg.RequestTimeout
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		stream: &http.Client{},
	}
}

type submitRequest struct {
	Input     string   `json:"input"`
	Token     string   `json:"token"`
	TeamID    string   `json:"teamId"`
	ProjectID string   `json:"projectId"`
	TagIDs    []string `json:"tagIds"`
	URLsFile  string   `json:"urls_file,omitempty"`
}

func (c *Client) StreamEnabled() bool { return c.cfg.StreamURL != "" }

// Submit starts one job. It is never retried: a job token is not an
// idempotency key.
func (c *Client) Submit(ctx context.Context, sub domain.Submission, auth domain.AuthContext) (domain.Task, error) {
	endpoint, body, err := c.prepare(sub, auth)
	if err != nil {
		return domain.Task{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Task{}, fmt.Errorf("build submit request: %w", err)
	}
	applyHeaders(req, auth.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Task{}, fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Task{}, fmt.Errorf("read submit response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Task{}, &domain.SubmitError{HTTPStatus: resp.StatusCode, Body: string(raw)}
	}

	id := parseTaskID(raw)
	if id == "" {
		return domain.Task{}, &domain.SubmitError{HTTPStatus: resp.StatusCode, Body: "empty task id"}
	}

	slog.Debug("job submitted",
		slog.String("task_id", id),
		slog.String("kind", string(sub.Kind())),
	)

	return domain.Task{ID: id, Kind: sub.Kind(), CreatedAt: time.Now()}, nil
}

// OpenStream submits through the streaming endpoint and returns the live
// response body. The caller must close it.
func (c *Client) OpenStream(ctx context.Context, sub domain.Submission, auth domain.AuthContext) (io.ReadCloser, error) {
	if !c.StreamEnabled() {
		return nil, domain.ErrStreamUnavailable
	}

	_, body, err := c.prepare(sub, auth)
	if err != nil {
		return nil, err
	}

	var (
		streamCtx context.Context
		cancel    context.CancelFunc
	)
	if c.cfg.StreamMaxDuration > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, c.cfg.StreamMaxDuration)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}
	idle := newIdleBody(c.cfg.StreamIdleTimeout, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.cfg.StreamURL, bytes.NewReader(body))
	if err != nil {
		idle.stop()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	applyHeaders(req, auth.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		idle.stop()
		if idle.expired() {
			return nil, fmt.Errorf("open stream: %w after %s", domain.ErrStreamIdle, c.cfg.StreamIdleTimeout)
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		idle.body = resp.Body
		return idle, nil
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented:
		resp.Body.Close()
		idle.stop()
		return nil, domain.ErrStreamUnavailable
	default:
		defer idle.stop()
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &domain.SubmitError{HTTPStatus: resp.StatusCode, Body: string(raw)}
	}
}

// idleBody cancels the stream request when no read completes within
// timeout. Each completed read restarts the clock.
type idleBody struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	fired   atomic.Bool
}

func newIdleBody(timeout time.Duration, cancel context.CancelFunc) *idleBody {
	b := &idleBody{timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.fired.Store(true)
		cancel()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF && b.expired() {
		return n, fmt.Errorf("%w: no data for %s", domain.ErrStreamIdle, b.timeout)
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	defer b.stop()
	return b.body.Close()
}

func (b *idleBody) expired() bool { return b.fired.Load() }

func (b *idleBody) stop() {
	b.timer.Stop()
	b.cancel()
}

// Status fetches one snapshot of the task: {completed, result: Frame[] | null}.
func (c *Client) Status(ctx context.Context, taskID string) (poller.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL(taskID), nil)
	if err != nil {
		return poller.Snapshot{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return poller.Snapshot{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return poller.Snapshot{}, fmt.Errorf("read status response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return poller.Snapshot{}, fmt.Errorf("status http %d: %s", resp.StatusCode, string(raw))
	}
	if !gjson.ValidBytes(raw) {
		return poller.Snapshot{}, fmt.Errorf("status response is not json")
	}

	snap := poller.Snapshot{Completed: gjson.GetBytes(raw, "completed").Bool()}
	if res := gjson.GetBytes(raw, "result"); res.IsArray() {
		snap.Frames = frame.DecodeLog([]byte(res.Raw))
	}

	return snap, nil
}

func (c *Client) prepare(sub domain.Submission, auth domain.AuthContext) (string, []byte, error) {
	if err := auth.Validate(); err != nil {
		return "", nil, err
	}

	req := submitRequest{
		Input:     sub.Text(),
		Token:     auth.Token,
		TeamID:    auth.TeamID,
		ProjectID: auth.ProjectID,
		TagIDs:    []string{},
	}

	var endpoint string
	switch s := sub.(type) {
	case domain.Plain:
		endpoint = c.cfg.PlainURL
	case domain.FileBatch:
		endpoint = c.cfg.FileBatchURL
		req.URLsFile = s.FileRef
	default:
		return "", nil, fmt.Errorf("unsupported submission %T", sub)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("marshal submit request: %w", err)
	}

	return endpoint, body, nil
}

func (c *Client) statusURL(taskID string) string {
	id := url.PathEscape(taskID)
	if strings.Contains(c.cfg.StatusURL, "{id}") {
		return strings.ReplaceAll(c.cfg.StatusURL, "{id}", id)
	}
	return strings.TrimRight(c.cfg.StatusURL, "/") + "/" + id
}

func applyHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// parseTaskID accepts the raw token or a JSON string literal.
func parseTaskID(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if r := gjson.Parse(s); gjson.Valid(s) && r.Type == gjson.String {
		return strings.TrimSpace(r.String())
	}
	return s
}
