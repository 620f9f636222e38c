package db

import (
	"strings"
	"testing"
	"time"

	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/models"
)

var testNow = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

func TestBuildListWhere_OpenIndex(t *testing.T) {
	q, err := filter.NewQuery(filter.ViewIndex, filter.Params{}, testNow)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	where, args := buildListWhere(q)

	mustContain := []string{
		"o.deleted_at IS NULL",
		"o.approved_at IS NOT NULL AND (o.publish_at IS NULL OR o.publish_at < $1)",
		"(o.submissions_open_at IS NULL OR o.submissions_open_at < $1)",
		"(o.submissions_close_at IS NULL OR o.submissions_close_at > $1)",
	}
	for _, token := range mustContain {
		if !strings.Contains(where, token) {
			t.Fatalf("open clause missing token %q: %s", token, where)
		}
	}
	if strings.Contains(where, "NOW()") {
		t.Fatalf("clause must use the query instant, not NOW(): %s", where)
	}
	if len(args) != 1 || args[0] != testNow {
		t.Fatalf("expected the instant as the only arg, got %v", args)
	}
}

func TestBuildListWhere_ClosedNegatesOpen(t *testing.T) {
	q, _ := filter.NewQuery(filter.ViewIndex, filter.Params{Status: "closed"}, testNow)
	where, _ := buildListWhere(q)
	if !strings.Contains(where, "AND NOT ((o.submissions_open_at") {
		t.Fatalf("closed clause should negate the open window: %s", where)
	}
	if !strings.Contains(where, "o.approved_at IS NOT NULL") {
		t.Fatalf("closed clause should still require posted: %s", where)
	}
}

func TestBuildListWhere_PendingHasNoPostedConstraint(t *testing.T) {
	where, args := buildListWhere(filter.Query{View: filter.ViewPending, Status: filter.StatusAll, Now: testNow})
	if where != "WHERE o.deleted_at IS NULL" {
		t.Fatalf("unexpected pending clause: %s", where)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
}

func TestBuildListWhere_ArgumentNumbering(t *testing.T) {
	q, err := filter.NewQuery(filter.ViewIndex, filter.Params{
		Text:        "Road rep",
		CategoryIDs: []string{"", "4", "9"},
		Status:      "all",
	}, testNow)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	where, args := buildListWhere(q)

	if !strings.Contains(where, "co.category_id = ANY($2)") {
		t.Fatalf("expected categories as $2: %s", where)
	}
	if !strings.Contains(where, "to_tsquery('simple', $3)") {
		t.Fatalf("expected text query as $3: %s", where)
	}
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	ids, ok := args[1].([]int64)
	if !ok || len(ids) != 2 || ids[0] != 4 || ids[1] != 9 {
		t.Fatalf("unexpected category args %v", args[1])
	}
	if args[2] != "road:* & rep:*" {
		t.Fatalf("unexpected tsquery %v", args[2])
	}
}

func TestPrefixTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"snow", "snow:*"},
		{"Snow & removal!", "snow:* & removal:*"},
		{"o'brien", "o:* & brien:*"},
		{"jane@city.gov", "jane:* & city:* & gov:*"},
		{"555-1234", "555:* & 1234:*"},
	}
	for _, tt := range tests {
		if got := prefixTSQuery(tt.in); got != tt.want {
			t.Errorf("prefixTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchDocument_SplitsLikeTerms(t *testing.T) {
	where, args := buildListWhere(filter.Query{View: filter.ViewPending, Status: filter.StatusAll, Text: "jane@city.gov", Now: testNow})

	for _, field := range []string{"o.title", "o.contact_name", "o.contact_email", "o.contact_phone"} {
		want := "regexp_replace(lower(" + field + "), '[^[:alnum:]]+', ' ', 'g')"
		if !strings.Contains(where, want) {
			t.Errorf("expected %s normalized before indexing: %s", field, where)
		}
	}
	if !strings.Contains(where, "regexp_replace(o.description, '<[^>]*>', ' ', 'g')") {
		t.Errorf("expected description tags stripped: %s", where)
	}
	if len(args) != 1 || args[0] != "jane:* & city:* & gov:*" {
		t.Errorf("unexpected tsquery args %v", args)
	}
}

func TestBuildOrderBy(t *testing.T) {
	posted := buildOrderBy(filter.SortRecentlyPosted)
	if !strings.Contains(posted, "GREATEST(o.publish_at, o.approved_at) DESC NULLS LAST") {
		t.Fatalf("posted sort should order by posted instant: %s", posted)
	}
	updated := buildOrderBy(filter.SortRecentlyUpdated)
	if strings.Contains(updated, "GREATEST") || !strings.HasPrefix(updated, " ORDER BY o.updated_at DESC") {
		t.Fatalf("unexpected updated sort: %s", updated)
	}
}

func TestAppendPagination(t *testing.T) {
	sql, args := appendPagination("SELECT 1", []interface{}{testNow}, 20, 40)
	if sql != "SELECT 1 LIMIT $2 OFFSET $3" {
		t.Fatalf("unexpected sql %q", sql)
	}
	if len(args) != 3 || args[1] != 20 || args[2] != 40 {
		t.Fatalf("unexpected args %v", args)
	}

	sql, args = appendPagination("SELECT 1", nil, 0, 0)
	if sql != "SELECT 1" || len(args) != 0 {
		t.Fatalf("unlimited query should not paginate: %q %v", sql, args)
	}
}

func TestBuildReminderCandidatesSQL(t *testing.T) {
	questions := buildReminderCandidatesSQL(models.DeadlineQuestions)
	for _, token := range []string{"o.question_deadline_reminder_sent = false", "o.questions_close_at < $1", "o.enable_questions = true", "o.deleted_at IS NULL"} {
		if !strings.Contains(questions, token) {
			t.Fatalf("question reminder sql missing %q: %s", token, questions)
		}
	}

	submissions := buildReminderCandidatesSQL(models.DeadlineSubmissions)
	if !strings.Contains(submissions, "o.submissions_close_at < $1") {
		t.Fatalf("submission reminder sql missing deadline: %s", submissions)
	}
	if strings.Contains(submissions, "enable_questions") {
		t.Fatalf("submission reminders must not depend on enable_questions: %s", submissions)
	}
}

func TestScanOpportunity_RejectsCorruptAdapterData(t *testing.T) {
	scan := func(dest ...interface{}) error {
		*dest[8].(*[]byte) = []byte(`{"email": `)
		return nil
	}
	if _, err := scanOpportunity(scan); err == nil || !strings.Contains(err.Error(), "decode adapter data") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
