package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("not authenticated")
	ErrMissingContext    = errors.New("team or project is not selected")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrStreamUnavailable = errors.New("streaming endpoint unavailable")
	ErrStreamIdle        = errors.New("stream stalled")
	ErrSessionBusy       = errors.New("a request is already in progress")
	ErrNoPendingEffect   = errors.New("no pending effect")
)

type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

type SubmitError struct {
	HTTPStatus int
	Body       string
}

func (e *SubmitError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("submit job: http %d", e.HTTPStatus)
	}
	return fmt.Sprintf("submit job: http %d: %s", e.HTTPStatus, e.Body)
}

type PollError struct {
	TaskID  string
	Attempt int
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll task %s (attempt %d): %v", e.TaskID, e.Attempt, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TimeoutError means the polling budget ran out. The job itself may still
// finish on the backend.
type TimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"task %s did not complete after %d status checks; it may still complete in the background, check the job list later",
		e.TaskID, e.Attempts,
	)
}
