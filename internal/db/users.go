package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/david/dispatch/internal/models"
)

var ErrDuplicate = errors.New("already exists")

const userCols = "u.id, u.email, u.name, u.role, u.password_hash, u.created_at"

func scanUser(scan func(dest ...interface{}) error) (models.User, error) {
	var u models.User
	var role string
	if err := scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return u, err
	}
	u.Role = models.Role(role)
	return u, nil
}

func (s *Store) queryUsers(ctx context.Context, sql string, args ...interface{}) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) findUser(ctx context.Context, where string, arg interface{}) (models.User, error) {
	sql := fmt.Sprintf("SELECT %s FROM users u WHERE %s", userCols, where)
	u, err := scanUser(s.pool.QueryRow(ctx, sql, arg).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	return s.findUser(ctx, "u.id = $1", id)
}

// UserByEmail matches case-insensitively.
func (s *Store) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findUser(ctx, "lower(u.email) = lower($1)", strings.TrimSpace(email))
}

// CreateUser inserts u and returns it with its id and creation time set.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, strings.TrimSpace(u.Email), u.Name, string(u.Role), u.PasswordHash).Scan(&u.ID, &u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.User{}, ErrDuplicate
	}
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// ApproversAndAdmins lists everyone who receives approval requests.
func (s *Store) ApproversAndAdmins(ctx context.Context) ([]models.User, error) {
	return s.queryUsers(ctx, fmt.Sprintf(`
		SELECT %s FROM users u
		WHERE u.role IN ('approver', 'admin')
		ORDER BY u.email
	`, userCols))
}

// Subscribers lists the users subscribed to an opportunity's reminders.
func (s *Store) Subscribers(ctx context.Context, opportunityID uuid.UUID) ([]models.User, error) {
	return s.queryUsers(ctx, fmt.Sprintf(`
		SELECT %s FROM users u
		JOIN opportunities_users ou ON ou.user_id = u.id
		WHERE ou.opportunity_id = $1
		ORDER BY ou.created_at
	`, userCols), opportunityID)
}
