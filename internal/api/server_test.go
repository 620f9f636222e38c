package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/dispatch/internal/auth"
	"github.com/david/dispatch/internal/db"
	"github.com/david/dispatch/internal/lifecycle"
	"github.com/david/dispatch/internal/models"
)

var now = time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	recipients []string
}

func (n *recordingNotifier) NotifyApprovalRequested(_ context.Context, u models.User, _ models.Opportunity) error {
	n.recipients = append(n.recipients, u.Email)
	return nil
}

type testEnv struct {
	srv      *Server
	store    *db.MemoryStore
	notifier *recordingNotifier
	tokens   map[models.Role]string
	users    map[models.Role]models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := db.NewMemoryStore()
	authSvc, err := auth.NewService(store, "test-secret", nil)
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	env := &testEnv{
		store:    store,
		notifier: &recordingNotifier{},
		tokens:   map[models.Role]string{},
		users:    map[models.Role]models.User{},
	}
	for _, role := range []models.Role{models.RoleUser, models.RoleStaff, models.RoleApprover, models.RoleAdmin} {
		u, err := store.CreateUser(context.Background(), models.User{
			Email: string(role) + "@city.gov",
			Name:  strings.ToUpper(string(role[:1])) + string(role[1:]),
			Role:  role,
		})
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
		token, err := authSvc.GenerateToken(u)
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		env.users[role] = u
		env.tokens[role] = token
	}
	env.srv = NewServer(Deps{
		Store:    store,
		Auth:     authSvc,
		Notifier: env.notifier,
		Clock:    lifecycle.Fixed(now),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, role models.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	rec := httptest.NewRecorder()
	e.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) seed(t *testing.T, mutate func(*models.Opportunity)) models.Opportunity {
	t.Helper()
	approved := now.Add(-24 * time.Hour)
	o := models.Opportunity{
		ID:                    uuid.New(),
		Title:                 "Road Repair RFP",
		CreatedByUserID:       e.users[models.RoleStaff].ID,
		SubmissionAdapterKind: models.AdapterEmail,
		SubmissionAdapterData: map[string]string{"email": "bids@city.gov"},
		ApprovedAt:            &approved,
		UpdatedAt:             now.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&o)
	}
	if err := e.store.Save(context.Background(), o); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return o
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateRequestApprovalApproveFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/opportunities", models.RoleUser, `{"title":"Snow Removal"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("vendor create status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/opportunities", models.RoleStaff, `{"title":"Snow Removal","description":"<p>Plow</p><script>x</script>"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created opportunityView
	decode(t, rec, &created)
	if created.StatusKey != lifecycle.StatusDraft {
		t.Fatalf("expected draft, got %s", created.StatusKey)
	}
	if created.SubmissionAdapterKind != models.AdapterEmail || created.ContactEmail != "staff@city.gov" {
		t.Fatalf("expected creator defaults, got %+v", created.Opportunity)
	}
	if strings.Contains(created.Description, "script") {
		t.Fatalf("expected sanitized description, got %q", created.Description)
	}

	path := "/api/v1/opportunities/" + created.ID.String()

	rec = env.do(t, http.MethodPost, path+"/request_approval", models.RoleStaff, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("request_approval status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.notifier.recipients) != 2 {
		t.Fatalf("expected approver and admin notified, got %v", env.notifier.recipients)
	}

	rec = env.do(t, http.MethodPost, path+"/request_approval", models.RoleStaff, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second request_approval status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, path+"/approve", models.RoleStaff, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff approve status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodPost, path+"/approve", models.RoleApprover, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	var approved opportunityView
	decode(t, rec, &approved)
	if approved.StatusKey != lifecycle.StatusOpen || !approved.Posted {
		t.Fatalf("expected open after approval, got %s", approved.StatusKey)
	}
	if approved.ApprovedByUserID == nil || *approved.ApprovedByUserID != env.users[models.RoleApprover].ID {
		t.Fatal("expected approver recorded")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/opportunities", "", "")
	var list listResponse
	decode(t, rec, &list)
	if list.Total != 1 || list.Opportunities[0].ID != created.ID {
		t.Fatalf("expected approved opportunity in index, got %+v", list)
	}
}

func TestCreateValidationError(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/opportunities", models.RoleStaff, `{"title":"  ","submission_adapter_name":"Fax"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	decode(t, rec, &body)
	got := map[string]bool{}
	for _, f := range body.Fields {
		got[f.Field] = true
	}
	if !got["title"] || !got["submission_adapter"] {
		t.Fatalf("expected title and submission_adapter errors, got %+v", body.Fields)
	}
}

func TestUpdateKeepsOmittedFields(t *testing.T) {
	env := newTestEnv(t)
	o := env.seed(t, func(o *models.Opportunity) { o.ContactPhone = "555-0100" })

	rec := env.do(t, http.MethodPatch, "/api/v1/opportunities/"+o.ID.String(), models.RoleStaff, `{"title":"Road Repair RFP (amended)"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var v opportunityView
	decode(t, rec, &v)
	if v.Title != "Road Repair RFP (amended)" || v.ContactPhone != "555-0100" {
		t.Fatalf("unexpected update result %+v", v.Opportunity)
	}
	if v.SubmissionAdapterData["email"] != "bids@city.gov" {
		t.Fatalf("expected adapter data kept, got %v", v.SubmissionAdapterData)
	}
}

func TestUpdateReplacesAdapterData(t *testing.T) {
	env := newTestEnv(t)
	o := env.seed(t, func(o *models.Opportunity) {
		o.SubmissionAdapterData = map[string]string{"email": "bids@city.gov", "name": "Bids Desk"}
	})

	body := `{"submission_adapter_name":"Screendoor","submission_adapter_data":{"project_id":"42"}}`
	rec := env.do(t, http.MethodPatch, "/api/v1/opportunities/"+o.ID.String(), models.RoleStaff, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var v opportunityView
	decode(t, rec, &v)
	if len(v.SubmissionAdapterData) != 1 || v.SubmissionAdapterData["project_id"] != "42" {
		t.Fatalf("expected only project_id in adapter data, got %v", v.SubmissionAdapterData)
	}

	stored, err := env.store.Find(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if _, ok := stored.SubmissionAdapterData["email"]; ok {
		t.Fatalf("expected email key dropped, got %v", stored.SubmissionAdapterData)
	}
}

func TestShowVisibility(t *testing.T) {
	env := newTestEnv(t)
	draft := env.seed(t, func(o *models.Opportunity) { o.ApprovedAt = nil })
	posted := env.seed(t, nil)

	tests := []struct {
		name string
		id   string
		role models.Role
		want int
	}{
		{name: "posted is public", id: posted.ID.String(), want: http.StatusOK},
		{name: "draft hidden from public", id: draft.ID.String(), want: http.StatusNotFound},
		{name: "draft hidden from vendor", id: draft.ID.String(), role: models.RoleUser, want: http.StatusNotFound},
		{name: "draft visible to staff", id: draft.ID.String(), role: models.RoleStaff, want: http.StatusOK},
		{name: "malformed id", id: "not-a-uuid", want: http.StatusNotFound},
		{name: "unknown id", id: uuid.NewString(), want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/opportunities/"+tt.id, tt.role, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSubmitPage(t *testing.T) {
	env := newTestEnv(t)
	email := env.seed(t, nil)
	none := env.seed(t, func(o *models.Opportunity) {
		o.SubmissionAdapterKind = models.AdapterNone
		o.SubmissionAdapterData = nil
	})

	rec := env.do(t, http.MethodGet, "/api/v1/opportunities/"+email.ID.String()+"/submit", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("email submit page status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mailto:bids@city.gov") {
		t.Fatalf("expected mailto link, got %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/opportunities/"+none.ID.String()+"/submit", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("none submit page status = %d, want 404", rec.Code)
	}
}

func TestIndexRejectsBadParams(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"status=archived", "sort=alphabetical", "category_ids=abc"} {
		rec := env.do(t, http.MethodGet, "/api/v1/opportunities?"+q, "", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestPendingRequiresApprover(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, func(o *models.Opportunity) { o.ApprovedAt = nil })
	future := now.Add(48 * time.Hour)
	env.seed(t, func(o *models.Opportunity) { o.PublishAt = &future })
	env.seed(t, nil)

	if rec := env.do(t, http.MethodGet, "/api/v1/opportunities/pending", models.RoleStaff, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("staff pending status = %d, want 403", rec.Code)
	}
	rec := env.do(t, http.MethodGet, "/api/v1/opportunities/pending", models.RoleAdmin, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin pending status = %d", rec.Code)
	}
	var body map[string][]opportunityView
	decode(t, rec, &body)
	if len(body["pending_approval"]) != 1 || len(body["pending_publish"]) != 1 {
		t.Fatalf("unexpected pending split: %d awaiting approval, %d awaiting publish",
			len(body["pending_approval"]), len(body["pending_publish"]))
	}
}

func TestSubscribeAndDelete(t *testing.T) {
	env := newTestEnv(t)
	o := env.seed(t, nil)
	path := "/api/v1/opportunities/" + o.ID.String()

	if rec := env.do(t, http.MethodPost, path+"/subscribe", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous subscribe status = %d, want 401", rec.Code)
	}
	rec := env.do(t, http.MethodPost, path+"/subscribe", models.RoleUser, "")
	var body map[string]bool
	decode(t, rec, &body)
	if !body["subscribed"] {
		t.Fatalf("expected subscribed, got %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodDelete, path, models.RoleStaff, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, path, models.RoleStaff, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted opportunity status = %d, want 404", rec.Code)
	}
	subs, _ := env.store.Subscribers(context.Background(), o.ID)
	if len(subs) != 0 {
		t.Fatalf("expected subscriptions removed, got %d", len(subs))
	}
}

func TestQuestions(t *testing.T) {
	env := newTestEnv(t)
	closes := now.Add(24 * time.Hour)
	o := env.seed(t, func(o *models.Opportunity) {
		o.EnableQuestions = true
		o.QuestionsCloseAt = &closes
	})
	path := "/api/v1/opportunities/" + o.ID.String() + "/questions"

	rec := env.do(t, http.MethodPost, path, models.RoleUser, `{"question_text":"Is a bond required?"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ask status = %d: %s", rec.Code, rec.Body.String())
	}
	var q models.Question
	decode(t, rec, &q)

	answerPath := "/api/v1/questions/" + strconv.FormatInt(q.ID, 10) + "/answer"
	if rec := env.do(t, http.MethodPost, answerPath, models.RoleUser, `{"answer_text":"No"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("vendor answer status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, answerPath, models.RoleStaff, `{"answer_text":"No"}`); rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/opportunities/"+o.ID.String(), "", "")
	var v opportunityView
	decode(t, rec, &v)
	if len(v.Questions) != 1 || v.Questions[0].AnswerText != "No" || !v.OpenForQuestions {
		t.Fatalf("unexpected questions on show: %+v", v.Questions)
	}

	closed := env.seed(t, nil)
	rec = env.do(t, http.MethodPost, "/api/v1/opportunities/"+closed.ID.String()+"/questions", models.RoleUser, `{"question_text":"Hello?"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("closed questions status = %d, want 409", rec.Code)
	}
}
