// Package workflow mutates opportunities through their approval lifecycle:
// creation, edits, approval, requests for approval and soft deletion.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
	"github.com/david/dispatch/internal/submission"
)

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	// DefaultAdapter is used when a new opportunity names no submission adapter.
	DefaultAdapter models.AdapterKind
	Adapters       *submission.Registry
}

// IDGenerator returns identifiers for new opportunities.
type IDGenerator func() uuid.UUID

type Service struct {
	repo      Repository
	users     UserDirectory
	notifier  Notifier
	clock     lifecycle.Clock
	idGen     IDGenerator
	adapters  *submission.Registry
	defKind   models.AdapterKind
	sanitizer *bluemonday.Policy
	log       *zap.Logger
}

func NewService(repo Repository, users UserDirectory, notifier Notifier, clock lifecycle.Clock, cfg ServiceConfig, log *zap.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	if cfg.DefaultAdapter == "" {
		cfg.DefaultAdapter = models.AdapterEmail
	}
	if cfg.Adapters == nil {
		cfg.Adapters = submission.Default
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		users:     users,
		notifier:  notifier,
		clock:     clock,
		idGen:     uuid.New,
		adapters:  cfg.Adapters,
		defKind:   cfg.DefaultAdapter,
		sanitizer: bluemonday.UGCPolicy(),
		log:       log,
	}
}

// WithIDGenerator replaces the id source, for tests.
func (s *Service) WithIDGenerator(gen IDGenerator) *Service {
	s.idGen = gen
	return s
}

// Input holds the editable fields of an opportunity.
type Input struct {
	Title                 string             `json:"title"`
	Description           string             `json:"description"`
	DepartmentID          *int64             `json:"department_id"`
	ContactName           string             `json:"contact_name"`
	ContactEmail          string             `json:"contact_email"`
	ContactPhone          string             `json:"contact_phone"`
	SubmissionAdapterKind models.AdapterKind `json:"submission_adapter_name"`
	SubmissionAdapterData map[string]string  `json:"submission_adapter_data"`
	PublishAt             *time.Time         `json:"publish_at"`
	SubmissionsOpenAt     *time.Time         `json:"submissions_open_at"`
	SubmissionsCloseAt    *time.Time         `json:"submissions_close_at"`
	EnableQuestions       bool               `json:"enable_questions"`
	QuestionsOpenAt       *time.Time         `json:"questions_open_at"`
	QuestionsCloseAt      *time.Time         `json:"questions_close_at"`
	CategoryIDs           []int64            `json:"category_ids"`
}

// InputFrom copies the editable fields of o, so partial updates can be
// decoded on top of the stored values.
func InputFrom(o models.Opportunity) Input {
	return Input{
		Title:                 o.Title,
		Description:           o.Description,
		DepartmentID:          o.DepartmentID,
		ContactName:           o.ContactName,
		ContactEmail:          o.ContactEmail,
		ContactPhone:          o.ContactPhone,
		SubmissionAdapterKind: o.SubmissionAdapterKind,
		SubmissionAdapterData: maps.Clone(o.SubmissionAdapterData),
		PublishAt:             o.PublishAt,
		SubmissionsOpenAt:     o.SubmissionsOpenAt,
		SubmissionsCloseAt:    o.SubmissionsCloseAt,
		EnableQuestions:       o.EnableQuestions,
		QuestionsOpenAt:       o.QuestionsOpenAt,
		QuestionsCloseAt:      o.QuestionsCloseAt,
		CategoryIDs:           o.CategoryIDs,
	}
}

func (s *Service) apply(o *models.Opportunity, in Input) {
	o.Title = strings.TrimSpace(in.Title)
	o.Description = s.sanitizer.Sanitize(in.Description)
	o.DepartmentID = in.DepartmentID
	o.ContactName = strings.TrimSpace(in.ContactName)
	o.ContactEmail = strings.TrimSpace(in.ContactEmail)
	o.ContactPhone = strings.TrimSpace(in.ContactPhone)
	o.SubmissionAdapterKind = in.SubmissionAdapterKind
	if in.SubmissionAdapterData != nil {
		o.SubmissionAdapterData = in.SubmissionAdapterData
	}
	o.PublishAt = in.PublishAt
	o.SubmissionsOpenAt = in.SubmissionsOpenAt
	o.SubmissionsCloseAt = in.SubmissionsCloseAt
	o.EnableQuestions = in.EnableQuestions
	o.QuestionsOpenAt = in.QuestionsOpenAt
	o.QuestionsCloseAt = in.QuestionsCloseAt
	o.CategoryIDs = in.CategoryIDs
}

// Create builds a new, unapproved opportunity owned by creator.
func (s *Service) Create(ctx context.Context, in Input, creator models.User) (models.Opportunity, error) {
	now := s.clock()
	o := models.Opportunity{
		ID:              s.idGen(),
		CreatedByUserID: creator.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.apply(&o, in)
	s.applyCreateDefaults(&o, creator)

	if err := s.Validate(o); err != nil {
		return models.Opportunity{}, err
	}
	if err := s.repo.Save(ctx, o); err != nil {
		return models.Opportunity{}, fmt.Errorf("save opportunity: %w", err)
	}
	s.log.Info("opportunity created",
		zap.String("opportunity_id", o.ID.String()),
		zap.String("created_by", creator.ID.String()))
	return o, nil
}

func (s *Service) applyCreateDefaults(o *models.Opportunity, creator models.User) {
	if o.SubmissionAdapterKind == "" {
		o.SubmissionAdapterKind = s.defKind
		if s.defKind == models.AdapterEmail {
			o.SubmissionAdapterData = map[string]string{
				"email": creator.Email,
				"name":  creator.Name,
			}
		}
	}
	if o.ContactName == "" {
		o.ContactName = creator.Name
	}
	if o.ContactEmail == "" {
		o.ContactEmail = creator.Email
	}
}

// Update replaces the editable fields of an existing opportunity.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in Input) (models.Opportunity, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	s.apply(&o, in)
	if err := s.Validate(o); err != nil {
		return models.Opportunity{}, err
	}
	return o, s.save(ctx, &o)
}

// Validate checks the invariants every persisted opportunity must hold.
func (s *Service) Validate(o models.Opportunity) error {
	verr := &ValidationError{}
	if strings.TrimSpace(o.Title) == "" {
		verr.add("title", "can't be blank")
	}
	if o.CreatedByUserID == uuid.Nil {
		verr.add("created_by_user", "can't be blank")
	}
	if !s.adapters.Known(o.SubmissionAdapterKind) {
		verr.add("submission_adapter", "is not a known adapter")
	} else if a, err := s.adapters.Build(o.SubmissionAdapterKind, o.SubmissionAdapterData, o); err != nil || !a.Valid() {
		verr.add("submission_adapter", "is invalid")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Adapter resolves the submission adapter of o, falling back to None.
func (s *Service) Adapter(o models.Opportunity) submission.Adapter {
	return s.adapters.Resolve(o.SubmissionAdapterKind, o.SubmissionAdapterData, o)
}

func (s *Service) save(ctx context.Context, o *models.Opportunity) error {
	o.UpdatedAt = s.clock()
	if err := s.repo.Save(ctx, *o); err != nil {
		return fmt.Errorf("save opportunity %s: %w", o.ID, err)
	}
	return nil
}

// Approve stamps the opportunity as approved now. Approving twice only
// refreshes the timestamp.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver models.User) (models.Opportunity, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	now := s.clock()
	o.ApprovedAt = &now
	if approver.ID != uuid.Nil {
		approverID := approver.ID
		o.ApprovedByUserID = &approverID
	}
	if err := s.save(ctx, &o); err != nil {
		return models.Opportunity{}, err
	}
	s.log.Info("opportunity approved", zap.String("opportunity_id", id.String()), zap.String("approver", approver.ID.String()))
	return o, nil
}

func (s *Service) Unapprove(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	o.ApprovedAt = nil
	o.ApprovedByUserID = nil
	if err := s.save(ctx, &o); err != nil {
		return models.Opportunity{}, err
	}
	s.log.Info("opportunity unapproved", zap.String("opportunity_id", id.String()))
	return o, nil
}

// ToggleApproval approves an unapproved opportunity and unapproves an approved one.
func (s *Service) ToggleApproval(ctx context.Context, id uuid.UUID, approver models.User) (models.Opportunity, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	if lifecycle.Approved(o) {
		return s.Unapprove(ctx, id)
	}
	return s.Approve(ctx, id, approver)
}

// SubmitForApproval records the request and notifies every approver and
// admin. A second request is refused with ErrAlreadySubmitted and changes
// nothing. Failed notifications do not stop the others; they are joined into
// the returned error alongside the recorded opportunity.
func (s *Service) SubmitForApproval(ctx context.Context, id uuid.UUID) (models.Opportunity, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return models.Opportunity{}, err
	}
	if lifecycle.SubmittedForApproval(o) {
		return o, ErrAlreadySubmitted
	}

	// Listed before saving so a directory failure leaves the request
	// unrecorded and retryable.
	approvers, err := s.users.ApproversAndAdmins(ctx)
	if err != nil {
		return models.Opportunity{}, fmt.Errorf("list approvers: %w", err)
	}

	now := s.clock()
	o.SubmittedAt = &now
	if err := s.save(ctx, &o); err != nil {
		return models.Opportunity{}, err
	}

	var errs []error
	for _, u := range approvers {
		if err := s.notifier.NotifyApprovalRequested(ctx, u, o); err != nil {
			errs = append(errs, fmt.Errorf("notify %s of approval request: %w", u.Email, err))
		}
	}
	s.log.Info("approval requested",
		zap.String("opportunity_id", id.String()),
		zap.Int("recipients", len(approvers)),
		zap.Int("failed", len(errs)))
	return o, errors.Join(errs...)
}

// SoftDelete marks the opportunity deleted and asks the repository to remove
// its dependents.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return err
	}
	now := s.clock()
	o.DeletedAt = &now
	if err := s.save(ctx, &o); err != nil {
		return err
	}
	if err := s.repo.CascadeDelete(ctx, id); err != nil {
		return fmt.Errorf("delete dependents of %s: %w", id, err)
	}
	s.log.Info("opportunity deleted", zap.String("opportunity_id", id.String()))
	return nil
}

// ToggleSubscription subscribes user to deadline reminders for the
// opportunity, or unsubscribes when already subscribed. It reports the new
// subscription state.
func (s *Service) ToggleSubscription(ctx context.Context, id uuid.UUID, user models.User) (bool, error) {
	if _, err := s.repo.Find(ctx, id); err != nil {
		return false, err
	}
	subscribed, err := s.repo.ToggleSubscription(ctx, user.ID, id)
	if err != nil {
		return false, fmt.Errorf("toggle subscription: %w", err)
	}
	return subscribed, nil
}
