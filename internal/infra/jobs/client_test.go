package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you-humble/linkassist/internal/domain"
)

var auth = domain.AuthContext{Token: "tok", TeamID: "team-1", ProjectID: "proj-1"}

type runner struct {
	srv    *httptest.Server
	calls  atomic.Int32
	paths  chan string
	bodies chan map[string]any
}

func newRunner(t *testing.T, h http.HandlerFunc) *runner {
	t.Helper()
	r := &runner{
		paths:  make(chan string, 8),
		bodies: make(chan map[string]any, 8),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.calls.Add(1)
		r.paths <- req.URL.Path
		if req.Method == http.MethodPost {
			var body map[string]any
			_ = json.NewDecoder(req.Body).Decode(&body)
			r.bodies <- body
		}
		h(w, req)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *runner) client() *Client {
	return New(Config{
		PlainURL:     r.srv.URL + "/jobs",
		FileBatchURL: r.srv.URL + "/jobs/batch",
		StatusURL:    r.srv.URL + "/jobs/status",
		StreamURL:    r.srv.URL + "/jobs/stream",
	})
}

func TestSubmitPreconditionsMakeNoRequest(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {})
	c := r.client()

	tests := []struct {
		name string
		auth domain.AuthContext
		want error
	}{
		{"no token", domain.AuthContext{TeamID: "t", ProjectID: "p"}, domain.ErrUnauthenticated},
		{"no team", domain.AuthContext{Token: "tok", ProjectID: "p"}, domain.ErrMissingContext},
		{"no project", domain.AuthContext{Token: "tok", TeamID: "t"}, domain.ErrMissingContext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), domain.Plain{Input: "hi"}, tt.auth)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit error = %v, want %v", err, tt.want)
			}
			if _, err := c.OpenStream(context.Background(), domain.Plain{Input: "hi"}, tt.auth); !errors.Is(err, tt.want) {
				t.Errorf("OpenStream error = %v, want %v", err, tt.want)
			}
		})
	}

	if n := r.calls.Load(); n != 0 {
		t.Errorf("expected no network calls, got %d", n)
	}
}

func TestSubmitPlain(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "  job-123\n")
	})

	task, err := r.client().Submit(context.Background(), domain.Plain{Input: "shorten this"}, auth)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.ID != "job-123" || task.Kind != domain.KindPlain || task.CreatedAt.IsZero() {
		t.Errorf("task = %+v", task)
	}

	if p := <-r.paths; p != "/jobs" {
		t.Errorf("path = %q, want /jobs", p)
	}
	body := <-r.bodies
	if body["input"] != "shorten this" || body["token"] != "tok" ||
		body["teamId"] != "team-1" || body["projectId"] != "proj-1" {
		t.Errorf("body = %+v", body)
	}
	if tags, ok := body["tagIds"].([]any); !ok || len(tags) != 0 {
		t.Errorf("tagIds = %#v, want empty array", body["tagIds"])
	}
	if _, ok := body["urls_file"]; ok {
		t.Error("plain submission must not carry urls_file")
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("expected exactly one request, got %d", n)
	}
}

func TestSubmitFileBatch(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"job-9"`)
	})

	sub := domain.FileBatch{Input: "import", FileRef: "https://cdn/1_urls.csv"}
	task, err := r.client().Submit(context.Background(), sub, auth)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if task.ID != "job-9" || task.Kind != domain.KindFileBatch {
		t.Errorf("task = %+v", task)
	}
	if p := <-r.paths; p != "/jobs/batch" {
		t.Errorf("path = %q, want /jobs/batch", p)
	}
	if body := <-r.bodies; body["urls_file"] != "https://cdn/1_urls.csv" {
		t.Errorf("urls_file = %v", body["urls_file"])
	}
}

func TestSubmitNon2xx(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "runner down")
	})

	_, err := r.client().Submit(context.Background(), domain.Plain{Input: "x"}, auth)

	var se *domain.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
	if se.HTTPStatus != http.StatusBadGateway || se.Body != "runner down" {
		t.Errorf("SubmitError = %+v", se)
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("submission must not be retried, got %d requests", n)
	}
}

func TestSubmitEmptyID(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {})

	_, err := r.client().Submit(context.Background(), domain.Plain{Input: "x"}, auth)
	var se *domain.SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		completed bool
		frames    int
	}{
		{"pending", `{"completed":false,"result":null}`, false, 0},
		{"completed", `{"completed":true,"result":[{"event":"started"},{"event":"finished","data":{"text":"ok","status":"succeeded"}}]}`, true, 2},
		{"completed with bad frame", `{"completed":true,"result":[{"event":"started"},{"bogus":1}]}`, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			snap, err := r.client().Status(context.Background(), "job 1")
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if snap.Completed != tt.completed || len(snap.Frames) != tt.frames {
				t.Errorf("snapshot = %+v", snap)
			}
			if p := <-r.paths; p != "/jobs/status/job 1" {
				t.Errorf("path = %q", p)
			}
		})
	}
}

func TestStatusErrors(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := r.client().Status(context.Background(), "x"); err == nil {
		t.Error("expected error for non-2xx status")
	}

	r = newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	})
	if _, err := r.client().Status(context.Background(), "x"); err == nil {
		t.Error("expected error for non-json status")
	}
}

func TestStatusURLTemplate(t *testing.T) {
	c := New(Config{StatusURL: "http://runner/jobs/{id}/status"})
	if got := c.statusURL("a/b"); got != "http://runner/jobs/a%2Fb/status" {
		t.Errorf("statusURL = %q", got)
	}
}

func TestOpenStream(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", req.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"started\"}\n\n")
	})

	rc, err := r.client().OpenStream(context.Background(), domain.Plain{Input: "x"}, auth)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "data: {\"event\":\"started\"}\n\n" {
		t.Errorf("stream body = %q", data)
	}
	if p := <-r.paths; p != "/jobs/stream" {
		t.Errorf("path = %q", p)
	}
}

func TestOpenStreamUnavailable(t *testing.T) {
	r := newRunner(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := r.client().OpenStream(context.Background(), domain.Plain{Input: "x"}, auth); !errors.Is(err, domain.ErrStreamUnavailable) {
		t.Errorf("expected ErrStreamUnavailable, got %v", err)
	}

	c := New(Config{PlainURL: "http://unused"})
	if c.StreamEnabled() {
		t.Error("stream should be disabled without stream url")
	}
	if _, err := c.OpenStream(context.Background(), domain.Plain{Input: "x"}, auth); !errors.Is(err, domain.ErrStreamUnavailable) {
		t.Errorf("expected ErrStreamUnavailable, got %v", err)
	}
}

func TestParseTaskID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "abc"},
		{" abc \n", "abc"},
		{`"abc"`, "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseTaskID([]byte(tt.in)); got != tt.want {
			t.Errorf("parseTaskID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	r := newRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"started\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-req.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	c := New(Config{
		PlainURL:       r.srv.URL + "/jobs",
		StreamURL:      r.srv.URL + "/jobs/stream",
		RequestTimeout: 100 * time.Millisecond,
	})

	rc, err := c.OpenStream(context.Background(), domain.Plain{Input: "x"}, auth)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rc.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(rc)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrStreamIdle) {
			t.Errorf("read error = %v, want ErrStreamIdle", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream was not cut off")
	}
}

func TestOpenStreamMaxDuration(t *testing.T) {
	release := make(chan struct{})
	r := newRunner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-req.Context().Done():
				return
			case <-release:
				return
			case <-ticker.C:
				_, _ = io.WriteString(w, "data: {\"event\":\"partial-output\",\"data\":{\"text\":\".\"}}\n\n")
				w.(http.Flusher).Flush()
			}
		}
	})
	t.Cleanup(func() { close(release) })

	c := New(Config{
		PlainURL:          r.srv.URL + "/jobs",
		StreamURL:         r.srv.URL + "/jobs/stream",
		StreamIdleTimeout: time.Second,
		StreamMaxDuration: 150 * time.Millisecond,
	})

	rc, err := c.OpenStream(context.Background(), domain.Plain{Input: "x"}, auth)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer rc.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(rc)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the stream to be cut off")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("endless stream was not capped")
	}
}
