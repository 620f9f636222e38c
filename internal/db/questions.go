package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/dispatch/internal/models"
)

const questionCols = "id, opportunity_id, question_text, answer_text, answered_at, created_at"

func scanQuestion(scan func(dest ...interface{}) error) (models.Question, error) {
	var q models.Question
	var answer *string
	if err := scan(&q.ID, &q.OpportunityID, &q.QuestionText, &answer, &q.AnsweredAt, &q.CreatedAt); err != nil {
		return q, err
	}
	if answer != nil {
		q.AnswerText = *answer
	}
	return q, nil
}

// ListQuestions returns the questions of an opportunity, unanswered first and
// oldest first within each group.
func (s *Store) ListQuestions(ctx context.Context, opportunityID uuid.UUID) ([]models.Question, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM questions
		WHERE opportunity_id = $1
		ORDER BY (answered_at IS NOT NULL) ASC, created_at ASC, id ASC
	`, questionCols), opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) FindQuestion(ctx context.Context, id int64) (models.Question, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM questions WHERE id = $1", questionCols), id)
	q, err := scanQuestion(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Question{}, ErrNotFound
	}
	return q, err
}

// CreateQuestion inserts q and returns it with its id set.
func (s *Store) CreateQuestion(ctx context.Context, q models.Question) (models.Question, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO questions (opportunity_id, question_text, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, q.OpportunityID, q.QuestionText, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		return models.Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *Store) AnswerQuestion(ctx context.Context, id int64, answer string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET answer_text = $2, answered_at = $3 WHERE id = $1
	`, id, answer, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM departments ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}
