package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

// QuestionRepository persists the public questions asked about an opportunity.
type QuestionRepository interface {
	ListQuestions(ctx context.Context, opportunityID uuid.UUID) ([]models.Question, error)
	FindQuestion(ctx context.Context, id int64) (models.Question, error)
	CreateQuestion(ctx context.Context, q models.Question) (models.Question, error)
	AnswerQuestion(ctx context.Context, id int64, answer string, at time.Time) error
}

type QuestionService struct {
	opps      Repository
	questions QuestionRepository
	clock     lifecycle.Clock
	log       *zap.Logger
}

func NewQuestionService(opps Repository, questions QuestionRepository, clock lifecycle.Clock, log *zap.Logger) *QuestionService {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QuestionService{opps: opps, questions: questions, clock: clock, log: log}
}

// List returns the questions of a live opportunity, unanswered first.
func (s *QuestionService) List(ctx context.Context, opportunityID uuid.UUID) ([]models.Question, error) {
	if _, err := s.opps.Find(ctx, opportunityID); err != nil {
		return nil, err
	}
	return s.questions.ListQuestions(ctx, opportunityID)
}

// Ask records a question. The opportunity must be posted and inside its
// question window.
func (s *QuestionService) Ask(ctx context.Context, opportunityID uuid.UUID, text string) (models.Question, error) {
	o, err := s.opps.Find(ctx, opportunityID)
	if err != nil {
		return models.Question{}, err
	}
	now := s.clock()
	if !lifecycle.Posted(o, now) || !lifecycle.OpenForQuestions(o, now) {
		return models.Question{}, ErrQuestionsClosed
	}

	text = strings.TrimSpace(text)
	if text == "" {
		verr := &ValidationError{}
		verr.add("question_text", "can't be blank")
		return models.Question{}, verr
	}

	q, err := s.questions.CreateQuestion(ctx, models.Question{
		OpportunityID: opportunityID,
		QuestionText:  text,
		CreatedAt:     now,
	})
	if err != nil {
		return models.Question{}, fmt.Errorf("create question: %w", err)
	}
	s.log.Info("question asked",
		zap.String("opportunity_id", opportunityID.String()),
		zap.Int64("question_id", q.ID))
	return q, nil
}

// Answer stores the answer text. Answering again replaces the answer.
func (s *QuestionService) Answer(ctx context.Context, questionID int64, text string) (models.Question, error) {
	q, err := s.questions.FindQuestion(ctx, questionID)
	if err != nil {
		return models.Question{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		verr := &ValidationError{}
		verr.add("answer_text", "can't be blank")
		return models.Question{}, verr
	}

	now := s.clock()
	if err := s.questions.AnswerQuestion(ctx, questionID, text, now); err != nil {
		return models.Question{}, fmt.Errorf("answer question %d: %w", questionID, err)
	}
	q.AnswerText = text
	q.AnsweredAt = &now
	return q, nil
}
