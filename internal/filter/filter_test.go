package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

type memorySource struct {
	docs []Document
	last Query
}

func (m *memorySource) Query(_ context.Context, q Query) (Result, error) {
	m.last = q
	return Apply(m.docs, q), nil
}

func ptr(t time.Time) *time.Time { return &t }

var now = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

func postedOpp(title string) models.Opportunity {
	return models.Opportunity{
		ID:         uuid.New(),
		Title:      title,
		ApprovedAt: ptr(now.Add(-48 * time.Hour)),
		UpdatedAt:  now.Add(-time.Hour),
	}
}

func TestOpenFilter_FollowsSubmissionWindow(t *testing.T) {
	o := postedOpp("Bridge inspection")
	q, err := NewQuery(ViewIndex, Params{}, now)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}

	if !q.Match(Document{Opportunity: o}) {
		t.Fatal("expected posted opportunity with open submissions to match")
	}

	o.SubmissionsCloseAt = ptr(now.Add(-time.Minute))
	if lifecycle.OpenForSubmissions(o, now) {
		t.Fatal("test setup: expected submissions to be closed")
	}
	if q.Match(Document{Opportunity: o}) {
		t.Fatal("expected closed opportunity to be excluded by the open filter")
	}

	closed, _ := NewQuery(ViewIndex, Params{Status: "closed"}, now)
	if !closed.Match(Document{Opportunity: o}) {
		t.Fatal("expected closed opportunity to match the closed filter")
	}
}

func TestIndex_ExcludesUnpostedAndDeleted(t *testing.T) {
	draft := postedOpp("Draft")
	draft.ApprovedAt = nil
	future := postedOpp("Future")
	future.PublishAt = ptr(now.Add(time.Hour))
	deleted := postedOpp("Deleted")
	deleted.DeletedAt = ptr(now)
	visible := postedOpp("Visible")

	q, _ := NewQuery(ViewIndex, Params{Status: "all"}, now)
	res := Apply([]Document{{Opportunity: draft}, {Opportunity: future}, {Opportunity: deleted}, {Opportunity: visible}}, q)

	if res.Total != 1 || res.Opportunities[0].Title != "Visible" {
		t.Fatalf("expected only the visible opportunity, got %+v", res.Opportunities)
	}

	pending, _ := NewQuery(ViewPending, Params{Status: "all"}, now)
	res = Apply([]Document{{Opportunity: draft}, {Opportunity: future}, {Opportunity: deleted}, {Opportunity: visible}}, pending)
	if res.Total != 3 {
		t.Fatalf("expected pending view to include all non-deleted opportunities, got %d", res.Total)
	}
}

func TestCategoryFilter(t *testing.T) {
	withBoth := postedOpp("Road Repair RFP")
	withBoth.CategoryIDs = []int64{3, 5}
	withThree := postedOpp("Road Repair RFP")
	withThree.CategoryIDs = []int64{3}

	q, err := NewQuery(ViewIndex, Params{CategoryIDs: []string{"", "5"}}, now)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	if len(q.CategoryIDs) != 1 || q.CategoryIDs[0] != 5 {
		t.Fatalf("expected blank category entries to be dropped, got %v", q.CategoryIDs)
	}
	if !q.Match(Document{Opportunity: withBoth}) {
		t.Fatal("expected categories [3,5] to match filter [5]")
	}
	if q.Match(Document{Opportunity: withThree}) {
		t.Fatal("expected categories [3] not to match filter [5]")
	}

	all, _ := NewQuery(ViewIndex, Params{CategoryIDs: []string{""}}, now)
	if !all.Match(Document{Opportunity: withThree}) {
		t.Fatal("expected empty category filter to match everything")
	}
}

func TestParseCategoryIDs_RejectsGarbage(t *testing.T) {
	if _, err := ParseCategoryIDs([]string{"5", "abc"}); err == nil {
		t.Fatal("expected error for non-numeric category id")
	}
}

func TestMatchText(t *testing.T) {
	o := postedOpp("Road Repair RFP")
	o.Description = "<p>Resurfacing of <strong>Main Street</strong></p>"
	o.ContactEmail = "procurement@city.gov"
	doc := Document{
		Opportunity:    o,
		DepartmentName: "Public Works",
		Questions: []models.Question{
			{QuestionText: "Is asphalt required?", AnswerText: "Concrete is acceptable."},
		},
	}

	tests := []struct {
		text string
		want bool
	}{
		{text: "", want: true},
		{text: "road", want: true},
		{text: "ROAD rep", want: true},
		{text: "main street", want: true},
		{text: "strong", want: false},
		{text: "procure", want: true},
		{text: "public", want: true},
		{text: "asphalt", want: true},
		{text: "concrete", want: true},
		{text: "road bridge", want: false},
		{text: "epair", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := MatchText(doc, tt.text); got != tt.want {
				t.Errorf("MatchText(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSort_RecentlyPostedDefault(t *testing.T) {
	jan := postedOpp("January")
	jan.ApprovedAt = ptr(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	feb := postedOpp("February")
	feb.ApprovedAt = ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	feb.PublishAt = ptr(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	src := &memorySource{docs: []Document{{Opportunity: jan}, {Opportunity: feb}}}
	res, err := NewEngine(src, lifecycle.Fixed(now)).Index(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if len(res.Opportunities) != 2 || res.Opportunities[0].Title != "February" {
		t.Fatalf("expected February first, got %+v", res.Opportunities)
	}
}

func TestLess_PostedAtNullsLast(t *testing.T) {
	unposted := models.Opportunity{ID: uuid.New(), UpdatedAt: now}
	posted := postedOpp("Posted")

	if Less(SortRecentlyPosted, unposted, posted) {
		t.Fatal("expected opportunity without posted_at to sort last")
	}
	if !Less(SortRecentlyPosted, posted, unposted) {
		t.Fatal("expected opportunity with posted_at to sort first")
	}
}

func TestFeed_ForcesRecentlyUpdated(t *testing.T) {
	older := postedOpp("Older update")
	older.ApprovedAt = ptr(now.Add(-time.Hour))
	older.UpdatedAt = now.Add(-10 * time.Hour)
	newer := postedOpp("Newer update")
	newer.ApprovedAt = ptr(now.Add(-100 * time.Hour))
	newer.UpdatedAt = now.Add(-time.Minute)

	src := &memorySource{docs: []Document{{Opportunity: older}, {Opportunity: newer}}}
	res, err := NewEngine(src, lifecycle.Fixed(now)).Feed(context.Background(), Params{Sort: "posted"})
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if src.last.Sort != SortRecentlyUpdated {
		t.Fatalf("expected feed to sort by updated, got %s", src.last.Sort)
	}
	if res.Opportunities[0].Title != "Newer update" {
		t.Fatalf("expected newer update first, got %s", res.Opportunities[0].Title)
	}
}

func TestFiltered(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   bool
	}{
		{name: "defaults", params: Params{}, want: false},
		{name: "explicit open", params: Params{Status: "open"}, want: false},
		{name: "blank text", params: Params{Text: "   "}, want: false},
		{name: "blank category", params: Params{CategoryIDs: []string{""}}, want: false},
		{name: "text", params: Params{Text: "roads"}, want: true},
		{name: "closed", params: Params{Status: "closed"}, want: true},
		{name: "all", params: Params{Status: "all"}, want: true},
		{name: "category", params: Params{CategoryIDs: []string{"2"}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQuery(ViewIndex, tt.params, now)
			if err != nil {
				t.Fatalf("NewQuery() error = %v", err)
			}
			if got := q.Filtered(); got != tt.want {
				t.Errorf("Filtered() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewQuery_RejectsUnknownStatus(t *testing.T) {
	if _, err := NewQuery(ViewIndex, Params{Status: "archived"}, now); !errors.Is(err, ErrInvalidParam) {
		t.Fatal("expected error for unknown status")
	}
}

func TestApply_Paginates(t *testing.T) {
	var docs []Document
	for i := 0; i < 5; i++ {
		o := postedOpp("Opp")
		o.ApprovedAt = ptr(now.Add(-time.Duration(i+1) * time.Hour))
		docs = append(docs, Document{Opportunity: o})
	}

	q, _ := NewQuery(ViewIndex, Params{Limit: 2, Offset: 4}, now)
	res := Apply(docs, q)
	if res.Total != 5 || len(res.Opportunities) != 1 {
		t.Fatalf("expected 1 of 5, got %d of %d", len(res.Opportunities), res.Total)
	}

	q.Offset = 10
	if res := Apply(docs, q); len(res.Opportunities) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(res.Opportunities))
	}
}

func TestEngine_Pending(t *testing.T) {
	draft := postedOpp("Draft")
	draft.ApprovedAt = nil
	waiting := postedOpp("Waiting")
	waiting.PublishAt = ptr(now.Add(24 * time.Hour))
	live := postedOpp("Live")

	src := &memorySource{docs: []Document{{Opportunity: draft}, {Opportunity: waiting}, {Opportunity: live}}}
	res, err := NewEngine(src, lifecycle.Fixed(now)).Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(res.AwaitingApproval) != 1 || res.AwaitingApproval[0].Title != "Draft" {
		t.Fatalf("unexpected awaiting approval: %+v", res.AwaitingApproval)
	}
	if len(res.AwaitingPublish) != 1 || res.AwaitingPublish[0].Title != "Waiting" {
		t.Fatalf("unexpected awaiting publish: %+v", res.AwaitingPublish)
	}
}
