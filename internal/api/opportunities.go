package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/auth"
	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
	"github.com/david/dispatch/internal/submission"
	"github.com/david/dispatch/internal/workflow"
)

// opportunityView adds the derived lifecycle state to an opportunity.
type opportunityView struct {
	models.Opportunity
	StatusKey          lifecycle.Status  `json:"status_key"`
	StatusText         string            `json:"status_text"`
	Posted             bool              `json:"posted"`
	OpenForSubmissions bool              `json:"open_for_submissions"`
	OpenForQuestions   bool              `json:"open_for_questions"`
	HasContactInfo     bool              `json:"has_contact_info"`
	Submittable        bool              `json:"submittable"`
	SubmissionPage     *submission.Page  `json:"submission_page,omitempty"`
	Questions          []models.Question `json:"questions,omitempty"`
}

func (s *Server) view(o models.Opportunity) opportunityView {
	now := s.clock()
	adapter := s.Workflow.Adapter(o)
	v := opportunityView{
		Opportunity:        o,
		StatusKey:          lifecycle.StatusKey(o, now),
		StatusText:         lifecycle.StatusText(o, now),
		Posted:             lifecycle.Posted(o, now),
		OpenForSubmissions: lifecycle.OpenForSubmissions(o, now),
		OpenForQuestions:   lifecycle.OpenForQuestions(o, now),
		HasContactInfo:     o.HasContactInfo(),
		Submittable:        adapter.Submittable(),
	}
	if page, ok := adapter.SubmissionPage(); ok {
		v.SubmissionPage = &page
	}
	return v
}

type listResponse struct {
	Opportunities []opportunityView `json:"opportunities"`
	Total         int               `json:"total"`
	Limit         int               `json:"limit"`
	Offset        int               `json:"offset"`
	Filtered      bool              `json:"filtered"`
}

func (s *Server) listResponse(res filter.Result) listResponse {
	views := make([]opportunityView, 0, len(res.Opportunities))
	for _, o := range res.Opportunities {
		views = append(views, s.view(o))
	}
	return listResponse{
		Opportunities: views,
		Total:         res.Total,
		Limit:         res.Limit,
		Offset:        res.Offset,
		Filtered:      res.Filtered,
	}
}

// listParams reads the listing query string. Malformed numbers fall back to
// the defaults.
func listParams(c echo.Context) filter.Params {
	text := c.QueryParam("q")
	if text == "" {
		text = c.QueryParam("text")
	}
	qp := c.QueryParams()
	categories := append(append([]string{}, qp["category_ids"]...), qp["category_ids[]"]...)
	if v := c.QueryParam("categories"); v != "" {
		categories = append(categories, strings.Split(v, ",")...)
	}

	p := filter.Params{
		Text:        text,
		CategoryIDs: categories,
		Status:      c.QueryParam("status"),
		Sort:        c.QueryParam("sort"),
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		p.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		p.Offset = o
	}
	return p
}

func (s *Server) handleIndex(c echo.Context) error {
	res, err := s.Filter.Index(c.Request().Context(), listParams(c))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, s.listResponse(res))
}

func (s *Server) handleFeed(c echo.Context) error {
	res, err := s.Filter.Feed(c.Request().Context(), listParams(c))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, s.listResponse(res))
}

func (s *Server) handlePending(c echo.Context) error {
	res, err := s.Filter.Pending(c.Request().Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	resp := map[string][]opportunityView{
		"pending_approval": {},
		"pending_publish":  {},
	}
	for _, o := range res.AwaitingApproval {
		resp["pending_approval"] = append(resp["pending_approval"], s.view(o))
	}
	for _, o := range res.AwaitingPublish {
		resp["pending_publish"] = append(resp["pending_publish"], s.view(o))
	}
	return c.JSON(http.StatusOK, resp)
}

func parseID(c echo.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	return id, err == nil
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
}

// findVisible loads an opportunity the current user may see. Unposted
// opportunities are visible to staff only.
func (s *Server) findVisible(c echo.Context) (models.Opportunity, bool, error) {
	id, ok := parseID(c)
	if !ok {
		return models.Opportunity{}, false, nil
	}
	o, err := s.Store.Find(c.Request().Context(), id)
	if err != nil {
		return models.Opportunity{}, false, err
	}
	if !lifecycle.Posted(o, s.clock()) {
		user, err := auth.CurrentUser(c)
		if err != nil || !user.IsStaff() {
			return models.Opportunity{}, false, nil
		}
	}
	return o, true, nil
}

func (s *Server) handleShow(c echo.Context) error {
	o, ok, err := s.findVisible(c)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if !ok {
		return notFound(c)
	}

	v := s.view(o)
	if o.EnableQuestions {
		questions, err := s.Store.ListQuestions(c.Request().Context(), o.ID)
		if err != nil {
			return s.errorResponse(c, err)
		}
		v.Questions = questions
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleSubmitPage(c echo.Context) error {
	o, ok, err := s.findVisible(c)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if !ok {
		return notFound(c)
	}
	page, ok := s.Workflow.Adapter(o).SubmissionPage()
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleCreate(c echo.Context) error {
	user, err := auth.CurrentUser(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
	}
	var in workflow.Input
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	o, err := s.Workflow.Create(c.Request().Context(), in, user)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, s.view(o))
}

// handleUpdate decodes the body on top of the stored fields, so omitted
// fields keep their values.
func (s *Server) handleUpdate(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	existing, err := s.Store.Find(c.Request().Context(), id)
	if err != nil {
		return s.errorResponse(c, err)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	in := workflow.InputFrom(existing)
	// Adapter data is replaced as a whole, never merged key by key.
	replaceAdapter := replacesAdapterData(body)
	if replaceAdapter {
		in.SubmissionAdapterData = nil
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if replaceAdapter && in.SubmissionAdapterData == nil {
		in.SubmissionAdapterData = map[string]string{}
	}

	o, err := s.Workflow.Update(c.Request().Context(), id, in)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, s.view(o))
}

func replacesAdapterData(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields["submission_adapter_data"]
	return ok
}

func (s *Server) handleDelete(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	if err := s.Workflow.SoftDelete(c.Request().Context(), id); err != nil {
		return s.errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRequestApproval(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	o, err := s.Workflow.SubmitForApproval(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrAlreadySubmitted) || !lifecycle.SubmittedForApproval(o) {
			return s.errorResponse(c, err)
		}
		// Recorded, but an approver could not be notified.
		s.log.Warn("approval request notification failed",
			zap.String("opportunity_id", id.String()),
			zap.Error(err))
	}
	return c.JSON(http.StatusOK, s.view(o))
}

func (s *Server) handleApprove(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	user, err := auth.CurrentUser(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
	}
	o, err := s.Workflow.ToggleApproval(c.Request().Context(), id, user)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, s.view(o))
}

func (s *Server) handleSubscribe(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	user, err := auth.CurrentUser(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Not signed in")
	}
	subscribed, err := s.Workflow.ToggleSubscription(c.Request().Context(), id, user)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"subscribed": subscribed})
}

func (s *Server) handleListQuestions(c echo.Context) error {
	o, ok, err := s.findVisible(c)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if !ok {
		return notFound(c)
	}
	if !o.EnableQuestions {
		return c.JSON(http.StatusOK, []models.Question{})
	}
	questions, err := s.Questions.List(c.Request().Context(), o.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, questions)
}

type questionRequest struct {
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
}

func (s *Server) handleAskQuestion(c echo.Context) error {
	id, ok := parseID(c)
	if !ok {
		return notFound(c)
	}
	var req questionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	q, err := s.Questions.Ask(c.Request().Context(), id, req.QuestionText)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (s *Server) handleAnswerQuestion(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return notFound(c)
	}
	var req questionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	q, err := s.Questions.Answer(c.Request().Context(), id, req.AnswerText)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, q)
}
