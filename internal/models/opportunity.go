package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AdapterKind names the submission channel an opportunity routes proposals through.
type AdapterKind string

const (
	AdapterNone       AdapterKind = "None"
	AdapterEmail      AdapterKind = "Email"
	AdapterScreendoor AdapterKind = "Screendoor"
)

// DeadlineKind identifies which deadline a reminder is about.
type DeadlineKind string

const (
	DeadlineQuestions   DeadlineKind = "questions"
	DeadlineSubmissions DeadlineKind = "submissions"
)

type Opportunity struct {
	ID                             uuid.UUID         `json:"id"`
	Title                          string            `json:"title"`
	Description                    string            `json:"description"` // Sanitized HTML
	DepartmentID                   *int64            `json:"department_id"`
	ContactName                    string            `json:"contact_name"`
	ContactEmail                   string            `json:"contact_email"`
	ContactPhone                   string            `json:"contact_phone"`
	SubmissionAdapterKind          AdapterKind       `json:"submission_adapter_name"`
	SubmissionAdapterData          map[string]string `json:"submission_adapter_data"`
	PublishAt                      *time.Time        `json:"publish_at"`
	SubmissionsOpenAt              *time.Time        `json:"submissions_open_at"`
	SubmissionsCloseAt             *time.Time        `json:"submissions_close_at"`
	EnableQuestions                bool              `json:"enable_questions"`
	QuestionsOpenAt                *time.Time        `json:"questions_open_at"`
	QuestionsCloseAt               *time.Time        `json:"questions_close_at"`
	SubmittedAt                    *time.Time        `json:"submitted_at"`
	ApprovedAt                     *time.Time        `json:"approved_at"`
	ApprovedByUserID               *uuid.UUID        `json:"approved_by_user_id"`
	SubmissionDeadlineReminderSent bool              `json:"submission_deadline_reminder_sent"`
	QuestionDeadlineReminderSent   bool              `json:"question_deadline_reminder_sent"`
	DeletedAt                      *time.Time        `json:"-"`
	CreatedByUserID                uuid.UUID         `json:"created_by_user_id"`
	CategoryIDs                    []int64           `json:"category_ids"`
	CreatedAt                      time.Time         `json:"created_at"`
	UpdatedAt                      time.Time         `json:"updated_at"`
}

// HasContactInfo reports whether any contact field is filled in.
func (o Opportunity) HasContactInfo() bool {
	return strings.TrimSpace(o.ContactName) != "" ||
		strings.TrimSpace(o.ContactEmail) != "" ||
		strings.TrimSpace(o.ContactPhone) != ""
}

// ReminderSent returns the reminder flag for the given deadline.
func (o Opportunity) ReminderSent(kind DeadlineKind) bool {
	if kind == DeadlineQuestions {
		return o.QuestionDeadlineReminderSent
	}
	return o.SubmissionDeadlineReminderSent
}

// MarkReminderSent flips the reminder flag for kind. Flags never go back to false.
func (o *Opportunity) MarkReminderSent(kind DeadlineKind) {
	if kind == DeadlineQuestions {
		o.QuestionDeadlineReminderSent = true
		return
	}
	o.SubmissionDeadlineReminderSent = true
}

type Question struct {
	ID            int64      `json:"id"`
	OpportunityID uuid.UUID  `json:"opportunity_id"`
	QuestionText  string     `json:"question_text"`
	AnswerText    string     `json:"answer_text"`
	AnsweredAt    *time.Time `json:"answered_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (q Question) Answered() bool {
	return q.AnsweredAt != nil
}

type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
