// Package extract reduces a task's frame log to the single message shown to
// the user.
package extract

import "github.com/you-humble/linkassist/internal/domain"

const (
	SuccessNotice = "You will be taken to your links list in a few seconds."
	NoResultText  = "The task finished without producing a result."
)

// Extract applies, in order:
//  1. the last succeeded finished frame with text, plus SuccessNotice and its action;
//  2. the most recent frame of any kind with text, without action;
//  3. NoResultText.
//
// Frames are never reordered.
func Extract(frames []domain.Frame) domain.Message {
	if f, ok := lastSucceeded(frames); ok {
		return domain.Message{
			Text:   f.Text + "\n\n" + SuccessNotice,
			Action: f.Action,
		}
	}

	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Text != "" {
			return domain.Message{Text: frames[i].Text}
		}
	}

	return domain.Message{Text: NoResultText}
}

// SucceededCount reports how many frames qualify for rule 1 of Extract. More
// than one is unexpected.
func SucceededCount(frames []domain.Frame) int {
	n := 0
	for _, f := range frames {
		if f.Succeeded() && f.Text != "" {
			n++
		}
	}
	return n
}

func lastSucceeded(frames []domain.Frame) (domain.Frame, bool) {
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Succeeded() && frames[i].Text != "" {
			return frames[i], true
		}
	}
	return domain.Frame{}, false
}
