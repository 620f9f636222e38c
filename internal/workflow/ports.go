package workflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/david/dispatch/internal/models"
)

// Repository persists opportunities.
type Repository interface {
	Find(ctx context.Context, id uuid.UUID) (models.Opportunity, error)
	Save(ctx context.Context, o models.Opportunity) error
	// CascadeDelete removes the questions and subscriptions owned by the
	// opportunity.
	CascadeDelete(ctx context.Context, id uuid.UUID) error
	ToggleSubscription(ctx context.Context, userID, opportunityID uuid.UUID) (bool, error)
}

// UserDirectory finds the people who receive approval requests.
type UserDirectory interface {
	ApproversAndAdmins(ctx context.Context) ([]models.User, error)
}

// Notifier delivers approval requests. Delivery may be deferred.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, user models.User, o models.Opportunity) error
}
