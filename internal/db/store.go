package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// selectCols is the column list for every opportunity query. Category ids
// are folded in from the join table.
const selectCols = `o.id, o.title, o.description, o.department_id,
	o.contact_name, o.contact_email, o.contact_phone,
	o.submission_adapter_name, o.submission_adapter_data,
	o.publish_at, o.submissions_open_at, o.submissions_close_at, o.submission_deadline_reminder_sent,
	o.enable_questions, o.questions_open_at, o.questions_close_at, o.question_deadline_reminder_sent,
	o.submitted_at, o.approved_at, o.approved_by_user_id, o.created_by_user_id,
	o.deleted_at, o.created_at, o.updated_at,
	ARRAY(SELECT co.category_id FROM categories_opportunities co WHERE co.opportunity_id = o.id ORDER BY co.category_id)`

// searchDocument is everything free-text search runs against: the
// opportunity's own text fields, its department name and its questions.
// Each field is reduced to lower-case runs of letters and digits first, the
// same words filter.Terms produces, so "jane@city.gov" indexes as jane, city
// and gov rather than as a single email token.
var searchDocument = "to_tsvector('simple', concat_ws(' ',\n\t" + strings.Join([]string{
	searchWords("o.title"),
	searchWords(`regexp_replace(o.description, '<[^>]*>', ' ', 'g')`),
	searchWords("o.contact_name"),
	searchWords("o.contact_email"),
	searchWords("o.contact_phone"),
	searchWords("(SELECT d.name FROM departments d WHERE d.id = o.department_id)"),
	searchWords("(SELECT string_agg(concat_ws(' ', q.question_text, q.answer_text), ' ') FROM questions q WHERE q.opportunity_id = o.id)"),
}, ",\n\t") + "))"

func searchWords(expr string) string {
	return fmt.Sprintf("regexp_replace(lower(%s), '[^[:alnum:]]+', ' ', 'g')", expr)
}

func scanOpportunity(scan func(dest ...interface{}) error) (models.Opportunity, error) {
	var o models.Opportunity
	var description, contactName, contactEmail, contactPhone *string
	var adapterName string
	var adapterRaw []byte

	err := scan(
		&o.ID, &o.Title, &description, &o.DepartmentID,
		&contactName, &contactEmail, &contactPhone,
		&adapterName, &adapterRaw,
		&o.PublishAt, &o.SubmissionsOpenAt, &o.SubmissionsCloseAt, &o.SubmissionDeadlineReminderSent,
		&o.EnableQuestions, &o.QuestionsOpenAt, &o.QuestionsCloseAt, &o.QuestionDeadlineReminderSent,
		&o.SubmittedAt, &o.ApprovedAt, &o.ApprovedByUserID, &o.CreatedByUserID,
		&o.DeletedAt, &o.CreatedAt, &o.UpdatedAt,
		&o.CategoryIDs,
	)
	if err != nil {
		return o, err
	}

	// Assign nullable strings
	if description != nil {
		o.Description = *description
	}
	if contactName != nil {
		o.ContactName = *contactName
	}
	if contactEmail != nil {
		o.ContactEmail = *contactEmail
	}
	if contactPhone != nil {
		o.ContactPhone = *contactPhone
	}
	o.SubmissionAdapterKind = models.AdapterKind(adapterName)
	if len(adapterRaw) > 0 {
		if err := json.Unmarshal(adapterRaw, &o.SubmissionAdapterData); err != nil {
			return models.Opportunity{}, fmt.Errorf("decode adapter data for %s: %w", o.ID, err)
		}
	}
	if o.CategoryIDs == nil {
		o.CategoryIDs = []int64{}
	}

	return o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Find returns a live opportunity. Soft-deleted rows are reported as ErrNotFound.
func (s *Store) Find(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM opportunities o
		WHERE o.id = $1 AND o.deleted_at IS NULL
	`, selectCols)

	o, err := scanOpportunity(s.pool.QueryRow(ctx, sql, id).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Opportunity{}, ErrNotFound
	}
	if err != nil {
		return models.Opportunity{}, fmt.Errorf("find opportunity %s: %w", id, err)
	}
	return o, nil
}

// Save upserts o and replaces its category links. Reminder flags are OR-ed
// with the stored values so a stale copy never clears them.
func (s *Store) Save(ctx context.Context, o models.Opportunity) error {
	data := o.SubmissionAdapterData
	if data == nil {
		data = map[string]string{}
	}
	adapterRaw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode adapter data: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO opportunities (
			id, title, description, department_id,
			contact_name, contact_email, contact_phone,
			submission_adapter_name, submission_adapter_data,
			publish_at, submissions_open_at, submissions_close_at, submission_deadline_reminder_sent,
			enable_questions, questions_open_at, questions_close_at, question_deadline_reminder_sent,
			submitted_at, approved_at, approved_by_user_id, created_by_user_id,
			deleted_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			department_id = EXCLUDED.department_id,
			contact_name = EXCLUDED.contact_name,
			contact_email = EXCLUDED.contact_email,
			contact_phone = EXCLUDED.contact_phone,
			submission_adapter_name = EXCLUDED.submission_adapter_name,
			submission_adapter_data = EXCLUDED.submission_adapter_data,
			publish_at = EXCLUDED.publish_at,
			submissions_open_at = EXCLUDED.submissions_open_at,
			submissions_close_at = EXCLUDED.submissions_close_at,
			submission_deadline_reminder_sent = opportunities.submission_deadline_reminder_sent OR EXCLUDED.submission_deadline_reminder_sent,
			enable_questions = EXCLUDED.enable_questions,
			questions_open_at = EXCLUDED.questions_open_at,
			questions_close_at = EXCLUDED.questions_close_at,
			question_deadline_reminder_sent = opportunities.question_deadline_reminder_sent OR EXCLUDED.question_deadline_reminder_sent,
			submitted_at = EXCLUDED.submitted_at,
			approved_at = EXCLUDED.approved_at,
			approved_by_user_id = EXCLUDED.approved_by_user_id,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at
	`,
		o.ID, o.Title, nullString(o.Description), o.DepartmentID,
		nullString(o.ContactName), nullString(o.ContactEmail), nullString(o.ContactPhone),
		string(o.SubmissionAdapterKind), string(adapterRaw),
		o.PublishAt, o.SubmissionsOpenAt, o.SubmissionsCloseAt, o.SubmissionDeadlineReminderSent,
		o.EnableQuestions, o.QuestionsOpenAt, o.QuestionsCloseAt, o.QuestionDeadlineReminderSent,
		o.SubmittedAt, o.ApprovedAt, o.ApprovedByUserID, o.CreatedByUserID,
		o.DeletedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert opportunity %s: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM categories_opportunities WHERE opportunity_id = $1", o.ID); err != nil {
		return fmt.Errorf("clear categories of %s: %w", o.ID, err)
	}
	if len(o.CategoryIDs) > 0 {
		if _, err := tx.Exec(ctx, `
			INSERT INTO categories_opportunities (category_id, opportunity_id)
			SELECT unnest($1::bigint[]), $2
			ON CONFLICT DO NOTHING
		`, o.CategoryIDs, o.ID); err != nil {
			return fmt.Errorf("link categories of %s: %w", o.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// CascadeDelete removes the questions and subscriptions of an opportunity.
func (s *Store) CascadeDelete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM questions WHERE opportunity_id = $1", id); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM opportunities_users WHERE opportunity_id = $1", id); err != nil {
		return fmt.Errorf("delete subscriptions: %w", err)
	}
	return tx.Commit(ctx)
}

// ToggleSubscription removes an existing subscription or creates a missing
// one, reporting whether the user is subscribed afterwards.
func (s *Store) ToggleSubscription(ctx context.Context, userID, opportunityID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM opportunities_users
		WHERE user_id = $1 AND opportunity_id = $2
	`, userID, opportunityID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities_users (user_id, opportunity_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, opportunity_id) DO NOTHING
	`, userID, opportunityID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Query runs a listing query. The predicates mirror filter.Query.Match.
func (s *Store) Query(ctx context.Context, q filter.Query) (filter.Result, error) {
	where, args := buildListWhere(q)

	var total int
	countSQL := "SELECT COUNT(*) FROM opportunities o " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return filter.Result{}, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM opportunities o %s", selectCols, where)
	selectSQL += buildOrderBy(q.Sort)
	selectSQL, args = appendPagination(selectSQL, args, q.Limit, q.Offset)

	opps, err := s.queryOpportunities(ctx, selectSQL, args...)
	if err != nil {
		return filter.Result{}, err
	}

	return filter.Result{
		Opportunities: opps,
		Total:         total,
		Limit:         q.Limit,
		Offset:        q.Offset,
		Filtered:      q.Filtered(),
	}, nil
}

func (s *Store) queryOpportunities(ctx context.Context, sql string, args ...interface{}) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		opps = append(opps, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return opps, nil
}

// buildListWhere translates q into a WHERE clause and its positional args.
// The evaluation instant is always passed as an argument, never NOW(), so
// SQL and in-memory filtering agree for the same query.
func buildListWhere(q filter.Query) (string, []interface{}) {
	where := "WHERE o.deleted_at IS NULL"
	var args []interface{}
	argIdx := 1

	nowArg := 0
	now := func() int {
		if nowArg == 0 {
			args = append(args, q.Now)
			nowArg = argIdx
			argIdx++
		}
		return nowArg
	}

	if q.PostedOnly() || q.Status == filter.StatusOpen || q.Status == filter.StatusClosed {
		where += buildPostedConstraint(now())
	}
	switch q.Status {
	case filter.StatusOpen:
		where += " AND " + openForSubmissionsExpr(now())
	case filter.StatusClosed:
		where += " AND NOT " + openForSubmissionsExpr(now())
	}

	if len(q.CategoryIDs) > 0 {
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM categories_opportunities co
			WHERE co.opportunity_id = o.id AND co.category_id = ANY($%d)
		)`, argIdx)
		args = append(args, q.CategoryIDs)
		argIdx++
	}

	if tsq := prefixTSQuery(q.Text); tsq != "" {
		where += fmt.Sprintf(" AND %s @@ to_tsquery('simple', $%d)", searchDocument, argIdx)
		args = append(args, tsq)
		argIdx++
	}

	return where, args
}

func buildPostedConstraint(nowArg int) string {
	return fmt.Sprintf(" AND o.approved_at IS NOT NULL AND (o.publish_at IS NULL OR o.publish_at < $%d)", nowArg)
}

// openForSubmissionsExpr never evaluates to NULL, so it can be negated safely.
func openForSubmissionsExpr(nowArg int) string {
	return fmt.Sprintf("((o.submissions_open_at IS NULL OR o.submissions_open_at < $%d) AND (o.submissions_close_at IS NULL OR o.submissions_close_at > $%d))", nowArg, nowArg)
}

// prefixTSQuery turns free text into an AND of prefix terms: "road rep"
// becomes "road:* & rep:*".
func prefixTSQuery(text string) string {
	terms := filter.Terms(text)
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t + ":*"
	}
	return strings.Join(parts, " & ")
}

func buildOrderBy(sort filter.Sort) string {
	if sort == filter.SortRecentlyPosted {
		// GREATEST ignores NULLs, giving the later of the two instants.
		return " ORDER BY GREATEST(o.publish_at, o.approved_at) DESC NULLS LAST, o.updated_at DESC, o.id::text ASC"
	}
	return " ORDER BY o.updated_at DESC, o.id::text ASC"
}

func appendPagination(sql string, args []interface{}, limit, offset int) (string, []interface{}) {
	argIdx := len(args) + 1
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		sql += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}
	return sql, args
}

// reminderColumns returns the flag and deadline columns for kind.
func reminderColumns(kind models.DeadlineKind) (flag, closesAt string) {
	if kind == models.DeadlineQuestions {
		return "question_deadline_reminder_sent", "questions_close_at"
	}
	return "submission_deadline_reminder_sent", "submissions_close_at"
}

func buildReminderCandidatesSQL(kind models.DeadlineKind) string {
	flag, closesAt := reminderColumns(kind)
	sql := fmt.Sprintf(`
		SELECT %s
		FROM opportunities o
		WHERE o.deleted_at IS NULL
		  AND o.approved_at IS NOT NULL
		  AND o.%s = false
		  AND o.%s IS NOT NULL
		  AND o.%s < $1`, selectCols, flag, closesAt, closesAt)
	if kind == models.DeadlineQuestions {
		sql += "\n\t\t  AND o.enable_questions = true"
	}
	return sql + fmt.Sprintf("\n\t\tORDER BY o.%s ASC", closesAt)
}

// ReminderCandidates returns approved, unflagged opportunities whose kind
// deadline falls before cutoff. Publication is checked by the caller.
func (s *Store) ReminderCandidates(ctx context.Context, kind models.DeadlineKind, cutoff time.Time) ([]models.Opportunity, error) {
	return s.queryOpportunities(ctx, buildReminderCandidatesSQL(kind), cutoff)
}

// MarkReminderSent sets a single reminder flag without touching updated_at.
func (s *Store) MarkReminderSent(ctx context.Context, id uuid.UUID, kind models.DeadlineKind) error {
	flag, _ := reminderColumns(kind)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("UPDATE opportunities SET %s = true WHERE id = $1", flag), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
