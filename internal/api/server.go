package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/auth"
	"github.com/david/dispatch/internal/db"
	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
	"github.com/david/dispatch/internal/submission"
	"github.com/david/dispatch/internal/workflow"
)

// Store is the storage the HTTP layer runs on. Both db.Store and
// db.MemoryStore satisfy it.
type Store interface {
	workflow.Repository
	workflow.UserDirectory
	workflow.QuestionRepository
	filter.Source
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
}

type Deps struct {
	Store       Store
	Auth        *auth.Service
	Notifier    workflow.Notifier
	Adapters    *submission.Registry
	Clock       lifecycle.Clock
	Log         *zap.Logger
	CORSOrigins []string
}

type Server struct {
	Store       Store
	AuthService *auth.Service
	Workflow    *workflow.Service
	Questions   *workflow.QuestionService
	Filter      *filter.Engine
	Echo        *echo.Echo

	clock lifecycle.Clock
	log   *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Adapters == nil {
		d.Adapters = submission.Default
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow configured frontend origins, defaulting to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	allowedOrigins = append(allowedOrigins, d.CORSOrigins...)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Store:       d.Store,
		AuthService: d.Auth,
		Workflow: workflow.NewService(d.Store, d.Store, d.Notifier, d.Clock, workflow.ServiceConfig{
			Adapters: d.Adapters,
		}, d.Log.Named("workflow")),
		Questions: workflow.NewQuestionService(d.Store, d.Store, d.Clock, d.Log.Named("questions")),
		Filter:    filter.NewEngine(d.Store, d.Clock),
		Echo:      e,
		clock:     d.Clock,
		log:       d.Log,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/categories", s.handleListCategories)
	api.GET("/departments", s.handleListDepartments)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	requireUser := s.AuthService.Middleware
	opps := api.Group("/opportunities")
	opps.GET("", s.handleIndex)
	opps.GET("/feed", s.handleFeed)
	opps.GET("/pending", s.handlePending, requireUser, auth.RequireApprover)
	opps.GET("/:id", s.handleShow, s.AuthService.Optional)
	opps.GET("/:id/submit", s.handleSubmitPage, s.AuthService.Optional)
	opps.GET("/:id/questions", s.handleListQuestions, s.AuthService.Optional)
	opps.POST("/:id/questions", s.handleAskQuestion, requireUser)
	opps.POST("/:id/subscribe", s.handleSubscribe, requireUser)

	// Staff Routes
	opps.POST("", s.handleCreate, requireUser, auth.RequireStaff)
	opps.PATCH("/:id", s.handleUpdate, requireUser, auth.RequireStaff)
	opps.DELETE("/:id", s.handleDelete, requireUser, auth.RequireStaff)
	opps.POST("/:id/request_approval", s.handleRequestApproval, requireUser, auth.RequireStaff)
	opps.POST("/:id/approve", s.handleApprove, requireUser, auth.RequireApprover)
	api.POST("/questions/:id/answer", s.handleAnswerQuestion, requireUser, auth.RequireStaff)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidCreds):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Email and password are required"})
		}
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return s.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListCategories(c echo.Context) error {
	categories, err := s.Store.ListCategories(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, categories)
}

func (s *Server) handleListDepartments(c echo.Context) error {
	departments, err := s.Store.ListDepartments(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, departments)
}

// errorResponse maps domain errors to status codes. Anything unrecognized
// is logged and reported as a 500 without details.
func (s *Server) errorResponse(c echo.Context, err error) error {
	var verr *workflow.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"error": "Validation failed", "fields": verr.Fields})
	case errors.Is(err, db.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	case errors.Is(err, filter.ErrInvalidParam):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrAlreadySubmitted), errors.Is(err, workflow.ErrQuestionsClosed):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	s.log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}
