package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

// Source runs a normalized query against storage.
type Source interface {
	Query(ctx context.Context, q Query) (Result, error)
}

type Engine struct {
	src   Source
	clock lifecycle.Clock
}

func NewEngine(src Source, clock lifecycle.Clock) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{src: src, clock: clock}
}

// Index lists posted opportunities.
func (e *Engine) Index(ctx context.Context, p Params) (Result, error) {
	return e.List(ctx, ViewIndex, p)
}

// Feed lists posted opportunities, most recently updated first.
func (e *Engine) Feed(ctx context.Context, p Params) (Result, error) {
	return e.List(ctx, ViewFeed, p)
}

func (e *Engine) List(ctx context.Context, view View, p Params) (Result, error) {
	q, err := NewQuery(view, p, e.clock())
	if err != nil {
		return Result{}, err
	}
	res, err := e.src.Query(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("list %s opportunities: %w", view, err)
	}
	res.Filtered = q.Filtered()
	return res, nil
}

// PendingResult splits the approver queue.
type PendingResult struct {
	AwaitingApproval []models.Opportunity `json:"pending_approval"`
	AwaitingPublish  []models.Opportunity `json:"pending_publish"`
}

// Pending returns every unapproved opportunity and every approved one whose
// publish date has not arrived yet.
func (e *Engine) Pending(ctx context.Context) (PendingResult, error) {
	now := e.clock()
	res, err := e.src.Query(ctx, Query{
		View:   ViewPending,
		Status: StatusAll,
		Sort:   SortRecentlyUpdated,
		Now:    now,
	})
	if err != nil {
		return PendingResult{}, fmt.Errorf("list pending opportunities: %w", err)
	}

	out := PendingResult{
		AwaitingApproval: []models.Opportunity{},
		AwaitingPublish:  []models.Opportunity{},
	}
	for _, o := range res.Opportunities {
		switch {
		case !lifecycle.Approved(o):
			out.AwaitingApproval = append(out.AwaitingApproval, o)
		case !lifecycle.Published(o, now):
			out.AwaitingPublish = append(out.AwaitingPublish, o)
		}
	}
	return out, nil
}
