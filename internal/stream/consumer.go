package stream

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/you-humble/linkassist/internal/domain"
	"github.com/you-humble/linkassist/internal/frame"
)

const (
	dataPrefix    = "data:"
	maxRecordSize = 1 << 20
)

// Consumer turns a `data: <json>\n\n` delimited body into frames. It owns the
// running text buffer for the lifetime of one stream and cannot be restarted.
type Consumer struct {
	sc *bufio.Scanner

	buf    strings.Builder
	cur    domain.Frame
	taskID string

	records int
	done    bool
	err     error
}

func NewConsumer(r io.Reader) *Consumer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	sc.Split(splitRecords)

	return &Consumer{sc: sc}
}

// Next advances to the next frame. It returns false when the stream is closed
// or a read error occurred; see Err.
func (c *Consumer) Next() bool {
	if c.done {
		return false
	}

	for c.sc.Scan() {
		c.records++

		payload, ok := dataPayload(c.sc.Bytes())
		if !ok {
			continue
		}

		ev, err := frame.Decode(payload)
		if err != nil {
			frame.LogSkipped(err, slog.Int("record", c.records))
			continue
		}

		if c.taskID == "" {
			c.taskID = ev.TaskID
		}

		c.cur = c.accumulate(ev.Frame)
		return true
	}

	c.done = true
	c.err = c.sc.Err()
	return false
}

func (c *Consumer) Frame() domain.Frame { return c.cur }

// Err returns the first read error, if any. A clean close is not an error.
func (c *Consumer) Err() error { return c.err }

// Buffer is the text accumulated since the last started or finished event.
func (c *Consumer) Buffer() string { return c.buf.String() }

// TaskID is the first task id announced by the stream, if any.
func (c *Consumer) TaskID() string { return c.taskID }

func (c *Consumer) Frames() iter.Seq[domain.Frame] {
	return func(yield func(domain.Frame) bool) {
		for c.Next() {
			if !yield(c.Frame()) {
				return
			}
		}
	}
}

func (c *Consumer) accumulate(f domain.Frame) domain.Frame {
	switch f.Kind {
	case domain.EventStarted:
		c.buf.Reset()
	case domain.EventPartialOutput:
		c.buf.WriteString(f.Text)
	case domain.EventFinished:
		if c.buf.Len() > 0 {
			f.Text = c.buf.String()
			c.buf.Reset()
		}
	}
	return f
}

func dataPayload(record []byte) ([]byte, bool) {
	record = bytes.TrimSpace(record)
	if !bytes.HasPrefix(record, []byte(dataPrefix)) {
		return nil, false
	}
	record = bytes.TrimPrefix(record, []byte(dataPrefix))
	return bytes.TrimPrefix(record, []byte(" ")), true
}

func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i, n := recordEnd(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func recordEnd(data []byte) (int, int) {
	lf := bytes.Index(data, []byte("\n\n"))
	crlf := bytes.Index(data, []byte("\r\n\r\n"))

	switch {
	case lf < 0:
		return crlf, 4
	case crlf < 0 || lf < crlf:
		return lf, 2
	default:
		return crlf, 4
	}
}
