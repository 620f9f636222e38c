package filter

import (
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

// Document is an opportunity together with the associated text that free-text
// search runs against.
type Document struct {
	Opportunity    models.Opportunity
	DepartmentName string
	Questions      []models.Question
}

// Match reports whether doc belongs in the result set of q.
func (q Query) Match(doc Document) bool {
	o := doc.Opportunity
	if o.DeletedAt != nil {
		return false
	}
	if q.PostedOnly() && !lifecycle.Posted(o, q.Now) {
		return false
	}
	switch q.Status {
	case StatusOpen:
		if !lifecycle.Posted(o, q.Now) || !lifecycle.OpenForSubmissions(o, q.Now) {
			return false
		}
	case StatusClosed:
		if !lifecycle.Posted(o, q.Now) || lifecycle.OpenForSubmissions(o, q.Now) {
			return false
		}
	}
	if !HasAnyCategory(o, q.CategoryIDs) {
		return false
	}
	return MatchText(doc, q.Text)
}

// HasAnyCategory is true when ids is empty or shares an id with o.
func HasAnyCategory(o models.Opportunity, ids []int64) bool {
	if len(ids) == 0 {
		return true
	}
	for _, want := range ids {
		for _, have := range o.CategoryIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// MatchText requires every term of text to prefix a word of the document.
func MatchText(doc Document, text string) bool {
	terms := Terms(text)
	if len(terms) == 0 {
		return true
	}
	words := Terms(searchableText(doc))
	for _, term := range terms {
		found := false
		for _, w := range words {
			if strings.HasPrefix(w, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Terms splits text into lower-cased words of letters and digits.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func searchableText(doc Document) string {
	o := doc.Opportunity
	parts := []string{
		o.Title,
		htmlToText(o.Description),
		o.ContactName,
		o.ContactEmail,
		o.ContactPhone,
		doc.DepartmentName,
	}
	for _, q := range doc.Questions {
		parts = append(parts, q.QuestionText, q.AnswerText)
	}
	return strings.Join(parts, " \n ")
}

func htmlToText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return doc.Text()
}

// Less orders a before b for the given sort.
func Less(sortBy Sort, a, b models.Opportunity) bool {
	if sortBy == SortRecentlyPosted {
		pa, pb := lifecycle.PostedAt(a), lifecycle.PostedAt(b)
		switch {
		case pa == nil && pb != nil:
			return false
		case pa != nil && pb == nil:
			return true
		case pa != nil && pb != nil && !pa.Equal(*pb):
			return pa.After(*pb)
		}
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return compareIDs(a.ID, b.ID) < 0
}

func compareIDs(a, b uuid.UUID) int {
	return strings.Compare(a.String(), b.String())
}

// Result is one page of a listing.
type Result struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
	Filtered      bool                 `json:"filtered"`
}

// Apply evaluates q against docs in memory.
func Apply(docs []Document, q Query) Result {
	matched := make([]models.Opportunity, 0, len(docs))
	for _, d := range docs {
		if q.Match(d) {
			matched = append(matched, d.Opportunity)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return Less(q.Sort, matched[i], matched[j])
	})

	total := len(matched)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < total {
		end = start + q.Limit
	}

	return Result{
		Opportunities: matched[start:end],
		Total:         total,
		Limit:         q.Limit,
		Offset:        q.Offset,
		Filtered:      q.Filtered(),
	}
}
