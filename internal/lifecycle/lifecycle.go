// Package lifecycle derives the approval, publication and window status of an
// opportunity. Everything here is a pure function of the opportunity and the
// instant it is evaluated at; nothing is stored.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/david/dispatch/internal/models"
)

// Clock returns the current time.
type Clock func() time.Time

// Fixed returns a Clock that always reports t.
func Fixed(t time.Time) Clock {
	return func() time.Time { return t }
}

type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusDraft           Status = "draft"
	StatusNotPublished    Status = "not_published"
	StatusOpen            Status = "open"
	StatusClosed          Status = "closed"
)

// Window is a time interval with optional bounds. A nil bound is unbounded.
// Both ends are exclusive.
type Window struct {
	OpensAt  *time.Time
	ClosesAt *time.Time
}

// IsOpen reports whether now falls strictly inside the window.
func (w Window) IsOpen(now time.Time) bool {
	if w.OpensAt != nil && !w.OpensAt.Before(now) {
		return false
	}
	if w.ClosesAt != nil && !w.ClosesAt.After(now) {
		return false
	}
	return true
}

func PublishWindow(o models.Opportunity) Window {
	return Window{OpensAt: o.PublishAt}
}

func SubmissionWindow(o models.Opportunity) Window {
	return Window{OpensAt: o.SubmissionsOpenAt, ClosesAt: o.SubmissionsCloseAt}
}

func QuestionWindow(o models.Opportunity) Window {
	return Window{OpensAt: o.QuestionsOpenAt, ClosesAt: o.QuestionsCloseAt}
}

func Approved(o models.Opportunity) bool {
	return o.ApprovedAt != nil
}

// Published is independent of approval: publishAt unset or already passed.
func Published(o models.Opportunity, now time.Time) bool {
	return PublishWindow(o).IsOpen(now)
}

// Posted means publicly visible.
func Posted(o models.Opportunity, now time.Time) bool {
	return Approved(o) && Published(o, now)
}

func OpenForSubmissions(o models.Opportunity, now time.Time) bool {
	return SubmissionWindow(o).IsOpen(now)
}

func OpenForQuestions(o models.Opportunity, now time.Time) bool {
	return o.EnableQuestions && QuestionWindow(o).IsOpen(now)
}

func SubmittedForApproval(o models.Opportunity) bool {
	return o.SubmittedAt != nil
}

// StatusKey evaluates the rules in order; the first match wins.
func StatusKey(o models.Opportunity, now time.Time) Status {
	switch {
	case !Approved(o) && SubmittedForApproval(o):
		return StatusPendingApproval
	case !Approved(o):
		return StatusDraft
	case !Posted(o, now):
		return StatusNotPublished
	case OpenForSubmissions(o, now):
		return StatusOpen
	default:
		return StatusClosed
	}
}

// PostedAt is the later of publishAt and approvedAt, ignoring whichever is
// unset. It returns nil when both are unset.
func PostedAt(o models.Opportunity) *time.Time {
	var latest *time.Time
	for _, t := range []*time.Time{o.PublishAt, o.ApprovedAt} {
		if t == nil {
			continue
		}
		if latest == nil || t.After(*latest) {
			v := *t
			latest = &v
		}
	}
	return latest
}

// StatusText is the short human description shown next to an opportunity.
func StatusText(o models.Opportunity, now time.Time) string {
	if !Approved(o) {
		return "Not approved"
	}
	if !Published(o, now) {
		return fmt.Sprintf("Approved, waiting for publish date (%s)", o.PublishAt.Format("Jan 2, 2006 3:04 PM"))
	}
	return "Posted"
}
