// Package filter composes the listing queries used to present opportunities:
// which base set a view starts from, how free text, categories and status
// narrow it, and how the result is ordered.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type View string

const (
	ViewIndex   View = "index"
	ViewPending View = "pending"
	ViewFeed    View = "feed"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	StatusAll    Status = "all"
)

type Sort string

const (
	SortRecentlyPosted  Sort = "posted"
	SortRecentlyUpdated Sort = "updated"
)

// ErrInvalidParam wraps every rejected listing parameter.
var ErrInvalidParam = errors.New("invalid listing parameter")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params are the raw listing parameters as submitted by a client.
type Params struct {
	Text        string
	CategoryIDs []string
	Status      string
	Sort        string
	Limit       int
	Offset      int
}

// Query is a normalized listing request evaluated at Now.
// A Limit of 0 means no limit.
type Query struct {
	View        View
	Text        string
	CategoryIDs []int64
	Status      Status
	Sort        Sort
	Now         time.Time
	Limit       int
	Offset      int
}

// NewQuery normalizes params for view.
func NewQuery(view View, p Params, now time.Time) (Query, error) {
	categories, err := ParseCategoryIDs(p.CategoryIDs)
	if err != nil {
		return Query{}, err
	}
	status, err := parseStatus(p.Status)
	if err != nil {
		return Query{}, err
	}
	sort, err := parseSort(p.Sort)
	if err != nil {
		return Query{}, err
	}
	if view == ViewFeed {
		sort = SortRecentlyUpdated
	}

	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	return Query{
		View:        view,
		Text:        strings.TrimSpace(p.Text),
		CategoryIDs: categories,
		Status:      status,
		Sort:        sort,
		Now:         now,
		Limit:       limit,
		Offset:      offset,
	}, nil
}

// Filtered reports whether the query narrows the listing beyond its defaults.
func (q Query) Filtered() bool {
	return q.Text != "" || q.Status != StatusOpen || len(q.CategoryIDs) > 0
}

// PostedOnly reports whether the view only shows posted opportunities.
func (q Query) PostedOnly() bool {
	return q.View != ViewPending
}

// ParseCategoryIDs drops blank entries (select widgets submit a stray empty
// value) and parses the rest.
func ParseCategoryIDs(raw []string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]struct{}, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: category id %q", ErrInvalidParam, v)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return StatusOpen, nil
	case StatusOpen, StatusClosed, StatusAll:
		return s, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrInvalidParam, raw)
	}
}

func parseSort(raw string) (Sort, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "posted", "posted_at", "recently_posted":
		return SortRecentlyPosted, nil
	case "updated", "updated_at", "recently_updated":
		return SortRecentlyUpdated, nil
	default:
		return "", fmt.Errorf("%w: sort %q", ErrInvalidParam, raw)
	}
}
