package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/david/dispatch/internal/models"
)

type contextKey string

const UserKey contextKey = "user"

func bearerToken(c echo.Context) (string, bool) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

func (s *Service) authenticate(c echo.Context, token string) error {
	userID, err := s.ParseToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
	}
	// Loaded per request so role changes apply without a new token.
	user, err := s.users.UserByID(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unknown user")
	}
	user.PasswordHash = ""
	c.Set(string(UserKey), user)
	return nil
}

// Middleware validates the JWT token and adds the user to the context
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}
		token, ok := bearerToken(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}
		if err := s.authenticate(c, token); err != nil {
			return err
		}
		return next(c)
	}
}

// Optional authenticates when a token is present and lets anonymous
// requests through.
func (s *Service) Optional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token, ok := bearerToken(c); ok {
			if err := s.authenticate(c, token); err != nil {
				return err
			}
		}
		return next(c)
	}
}

// RequireStaff must run after Middleware.
func RequireStaff(next echo.HandlerFunc) echo.HandlerFunc {
	return requireRole(models.User.IsStaff, next)
}

// RequireApprover must run after Middleware.
func RequireApprover(next echo.HandlerFunc) echo.HandlerFunc {
	return requireRole(models.User.CanApprove, next)
}

func requireRole(allowed func(models.User) bool, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := CurrentUser(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
		}
		if !allowed(user) {
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
		}
		return next(c)
	}
}

// CurrentUser helper to retrieve the signed-in user
func CurrentUser(c echo.Context) (models.User, error) {
	user, ok := c.Get(string(UserKey)).(models.User)
	if !ok {
		return models.User{}, errors.New("user not found in context")
	}
	return user, nil
}
