package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser     Role = "user"
	RoleStaff    Role = "staff"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanApprove reports whether the user receives approval requests.
func (u User) CanApprove() bool {
	return u.Role == RoleApprover || u.Role == RoleAdmin
}

// IsStaff reports whether the user may create opportunities.
func (u User) IsStaff() bool {
	return u.Role == RoleStaff || u.CanApprove()
}
