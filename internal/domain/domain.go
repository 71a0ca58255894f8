package domain

import (
	"io"
	"time"
)

type TaskKind string

const (
	KindPlain     TaskKind = "plain"
	KindFileBatch TaskKind = "file-batch"
)

type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type EventKind string

const (
	EventStarted       EventKind = "started"
	EventPartialOutput EventKind = "partial-output"
	EventFinished      EventKind = "finished"
)

type FrameStatus string

const StatusSucceeded FrameStatus = "succeeded"

// Action is an opaque tag carried by a finished frame and interpreted by the
// effect scheduler.
type Action string

const ActionNavigateToList Action = "navigate-to-list"

// Frame is one unit of task progress. Status and Action are only set on
// finished frames.
type Frame struct {
	Kind   EventKind   `json:"event"`
	Text   string      `json:"text,omitempty"`
	Status FrameStatus `json:"status,omitempty"`
	Action Action      `json:"action,omitempty"`
}

func (f Frame) Succeeded() bool {
	return f.Kind == EventFinished && f.Status == StatusSucceeded
}

type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"is_user"`
	Action    Action    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthContext is what the session provider resolves for the current user.
type AuthContext struct {
	Token     string
	TeamID    string
	ProjectID string
}

func (a AuthContext) Validate() error {
	if a.Token == "" {
		return ErrUnauthenticated
	}
	if a.TeamID == "" || a.ProjectID == "" {
		return ErrMissingContext
	}
	return nil
}

// Upload is a user-supplied file blob.
type Upload struct {
	Name    string
	Content io.Reader
	Size    int64
}

// Submission is either Plain or FileBatch.
type Submission interface {
	Kind() TaskKind
	Text() string
	submission()
}

type Plain struct {
	Input string
}

func (Plain) Kind() TaskKind { return KindPlain }
func (p Plain) Text() string { return p.Input }
func (Plain) submission() {}

type FileBatch struct {
	Input   string
	FileRef string
}

func (FileBatch) Kind() TaskKind { return KindFileBatch }
func (f FileBatch) Text() string { return f.Input }
func (FileBatch) submission() {}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type SubmitResponse struct {
	SessionID string `json:"session_id"`
}
