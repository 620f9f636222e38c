// Package reminders selects posted opportunities whose question or
// submission deadline is approaching and hands them to a notifier.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

// Config holds the lead time, in hours, for each reminder kind.
type Config struct {
	QuestionLeadHours   int
	SubmissionLeadHours int
}

func (c Config) LeadHours(kind models.DeadlineKind) int {
	if kind == models.DeadlineQuestions {
		return c.QuestionLeadHours
	}
	return c.SubmissionLeadHours
}

// Candidates narrows storage down to opportunities that may need a reminder:
// unflagged and with the relevant deadline before cutoff. The scanner
// re-checks each one with Due.
type Candidates interface {
	ReminderCandidates(ctx context.Context, kind models.DeadlineKind, cutoff time.Time) ([]models.Opportunity, error)
}

// Due reports whether o needs a reminder for kind at now.
func Due(o models.Opportunity, kind models.DeadlineKind, now time.Time, lead time.Duration) bool {
	if o.DeletedAt != nil || !lifecycle.Posted(o, now) || o.ReminderSent(kind) {
		return false
	}
	closesAt := o.SubmissionsCloseAt
	if kind == models.DeadlineQuestions {
		if !o.EnableQuestions {
			return false
		}
		closesAt = o.QuestionsCloseAt
	}
	return closesAt != nil && closesAt.Before(now.Add(lead))
}

type Scanner struct {
	src Candidates
}

func NewScanner(src Candidates) *Scanner {
	return &Scanner{src: src}
}

func (s *Scanner) NeedsQuestionDeadlineReminders(ctx context.Context, now time.Time, leadHours int) ([]models.Opportunity, error) {
	return s.Scan(ctx, models.DeadlineQuestions, now, leadHours)
}

func (s *Scanner) NeedsSubmissionDeadlineReminders(ctx context.Context, now time.Time, leadHours int) ([]models.Opportunity, error) {
	return s.Scan(ctx, models.DeadlineSubmissions, now, leadHours)
}

// Scan returns the opportunities that need a kind reminder at now. It neither
// notifies nor flips reminder flags.
func (s *Scanner) Scan(ctx context.Context, kind models.DeadlineKind, now time.Time, leadHours int) ([]models.Opportunity, error) {
	lead := time.Duration(leadHours) * time.Hour
	candidates, err := s.src.ReminderCandidates(ctx, kind, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("scan %s reminders: %w", kind, err)
	}
	due := make([]models.Opportunity, 0, len(candidates))
	for _, o := range candidates {
		if Due(o, kind, now, lead) {
			due = append(due, o)
		}
	}
	return due, nil
}

// Store persists the flipped reminder flag for a single opportunity without
// touching its other fields.
type Store interface {
	Candidates
	MarkReminderSent(ctx context.Context, id uuid.UUID, kind models.DeadlineKind) error
}

// Notifier delivers a deadline reminder for one opportunity.
type Notifier interface {
	NotifyDeadlineApproaching(ctx context.Context, o models.Opportunity, kind models.DeadlineKind) error
}

// RunStats summarizes one dispatcher run for a reminder kind.
type RunStats struct {
	Kind   models.DeadlineKind
	Found  int
	Sent   int
	Failed int
}

// Dispatcher sends reminders for the scanner's candidates.
//
// For each candidate it notifies and then immediately saves the flipped flag.
// If the process dies between the two, that opportunity is reminded again on
// the next run: delivery is at-least-once, with duplicates bounded to the
// candidates of a single run.
type Dispatcher struct {
	scanner  *Scanner
	store    Store
	notifier Notifier
	clock    lifecycle.Clock
	cfg      Config
	log      *zap.Logger
}

func NewDispatcher(store Store, notifier Notifier, clock lifecycle.Clock, cfg Config, log *zap.Logger) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		scanner:  NewScanner(store),
		store:    store,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
}

// Pending lists what a run would send, without sending anything.
func (d *Dispatcher) Pending(ctx context.Context, kind models.DeadlineKind) ([]models.Opportunity, error) {
	return d.scanner.Scan(ctx, kind, d.clock(), d.cfg.LeadHours(kind))
}

// Run sends question reminders, then submission reminders. Notification
// failures are collected and do not stop the run; a storage failure ends the
// run for that kind.
func (d *Dispatcher) Run(ctx context.Context) ([]RunStats, error) {
	var stats []RunStats
	var errs []error
	for _, kind := range []models.DeadlineKind{models.DeadlineQuestions, models.DeadlineSubmissions} {
		st, err := d.runKind(ctx, kind)
		stats = append(stats, st)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

func (d *Dispatcher) runKind(ctx context.Context, kind models.DeadlineKind) (RunStats, error) {
	st := RunStats{Kind: kind}
	due, err := d.Pending(ctx, kind)
	if err != nil {
		return st, err
	}
	st.Found = len(due)

	var errs []error
	for _, o := range due {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := d.notifier.NotifyDeadlineApproaching(ctx, o, kind); err != nil {
			st.Failed++
			d.log.Warn("deadline reminder failed",
				zap.String("opportunity_id", o.ID.String()),
				zap.String("kind", string(kind)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s: %w", o.ID, err))
			continue
		}
		if err := d.store.MarkReminderSent(ctx, o.ID, kind); err != nil {
			return st, fmt.Errorf("save reminder flag for %s: %w", o.ID, err)
		}
		st.Sent++
	}

	d.log.Info("deadline reminders sent",
		zap.String("kind", string(kind)),
		zap.Int("found", st.Found),
		zap.Int("sent", st.Sent),
		zap.Int("failed", st.Failed))
	return st, errors.Join(errs...)
}
