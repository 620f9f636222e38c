package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/dispatch/internal/filter"
	"github.com/david/dispatch/internal/models"
)

// MemoryStore is an in-process Store used by tests and the development
// server. Listing queries go through filter.Apply, so it is also the
// reference for what the SQL builder must return.
type MemoryStore struct {
	mu            sync.RWMutex
	opportunities map[uuid.UUID]models.Opportunity
	users         map[uuid.UUID]models.User
	subscriptions map[uuid.UUID]map[uuid.UUID]time.Time // opportunity -> user -> subscribed at
	questions     map[int64]models.Question
	departments   map[int64]models.Department
	categories    map[int64]models.Category
	nextID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		opportunities: map[uuid.UUID]models.Opportunity{},
		users:         map[uuid.UUID]models.User{},
		subscriptions: map[uuid.UUID]map[uuid.UUID]time.Time{},
		questions:     map[int64]models.Question{},
		departments:   map[int64]models.Department{},
		categories:    map[int64]models.Category{},
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func cloneOpportunity(o models.Opportunity) models.Opportunity {
	if o.SubmissionAdapterData != nil {
		data := make(map[string]string, len(o.SubmissionAdapterData))
		for k, v := range o.SubmissionAdapterData {
			data[k] = v
		}
		o.SubmissionAdapterData = data
	}
	o.CategoryIDs = append([]int64{}, o.CategoryIDs...)
	return o
}

func (m *MemoryStore) Find(_ context.Context, id uuid.UUID) (models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.opportunities[id]
	if !ok || o.DeletedAt != nil {
		return models.Opportunity{}, ErrNotFound
	}
	return cloneOpportunity(o), nil
}

func (m *MemoryStore) Save(_ context.Context, o models.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.opportunities[o.ID]; ok {
		o.QuestionDeadlineReminderSent = o.QuestionDeadlineReminderSent || prev.QuestionDeadlineReminderSent
		o.SubmissionDeadlineReminderSent = o.SubmissionDeadlineReminderSent || prev.SubmissionDeadlineReminderSent
		o.CreatedAt = prev.CreatedAt
	}
	m.opportunities[o.ID] = cloneOpportunity(o)
	return nil
}

func (m *MemoryStore) CascadeDelete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for qid, q := range m.questions {
		if q.OpportunityID == id {
			delete(m.questions, qid)
		}
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *MemoryStore) ToggleSubscription(_ context.Context, userID, opportunityID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscriptions[opportunityID]
	if _, ok := subs[userID]; ok {
		delete(subs, userID)
		return false, nil
	}
	if subs == nil {
		subs = map[uuid.UUID]time.Time{}
		m.subscriptions[opportunityID] = subs
	}
	subs[userID] = time.Now()
	return true, nil
}

func (m *MemoryStore) Query(_ context.Context, q filter.Query) (filter.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]filter.Document, 0, len(m.opportunities))
	for _, o := range m.opportunities {
		doc := filter.Document{Opportunity: cloneOpportunity(o), Questions: m.questionsOf(o.ID)}
		if o.DepartmentID != nil {
			doc.DepartmentName = m.departments[*o.DepartmentID].Name
		}
		docs = append(docs, doc)
	}
	return filter.Apply(docs, q), nil
}

func (m *MemoryStore) ReminderCandidates(_ context.Context, kind models.DeadlineKind, cutoff time.Time) ([]models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Opportunity
	for _, o := range m.opportunities {
		if o.DeletedAt != nil || o.ApprovedAt == nil || o.ReminderSent(kind) {
			continue
		}
		closesAt := o.SubmissionsCloseAt
		if kind == models.DeadlineQuestions {
			if !o.EnableQuestions {
				continue
			}
			closesAt = o.QuestionsCloseAt
		}
		if closesAt != nil && closesAt.Before(cutoff) {
			out = append(out, cloneOpportunity(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryStore) MarkReminderSent(_ context.Context, id uuid.UUID, kind models.DeadlineKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.opportunities[id]
	if !ok {
		return ErrNotFound
	}
	o.MarkReminderSent(kind)
	m.opportunities[id] = o
	return nil
}

// Users

func (m *MemoryStore) UserByID(_ context.Context, id uuid.UUID) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = strings.TrimSpace(email)
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = strings.TrimSpace(u.Email)
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return models.User{}, ErrDuplicate
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) ApproversAndAdmins(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, u := range m.users {
		if u.CanApprove() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryStore) Subscribers(_ context.Context, opportunityID uuid.UUID) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type sub struct {
		user models.User
		at   time.Time
	}
	var subs []sub
	for userID, at := range m.subscriptions[opportunityID] {
		if u, ok := m.users[userID]; ok {
			subs = append(subs, sub{user: u, at: at})
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].at.Equal(subs[j].at) {
			return subs[i].at.Before(subs[j].at)
		}
		return subs[i].user.Email < subs[j].user.Email
	})
	out := make([]models.User, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.user)
	}
	return out, nil
}

// Questions

// questionsOf must be called with the lock held.
func (m *MemoryStore) questionsOf(id uuid.UUID) []models.Question {
	var out []models.Question
	for _, q := range m.questions {
		if q.OpportunityID == id {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Answered() != out[j].Answered() {
			return !out[i].Answered()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListQuestions(_ context.Context, opportunityID uuid.UUID) ([]models.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.questionsOf(opportunityID)
	if out == nil {
		out = []models.Question{}
	}
	return out, nil
}

func (m *MemoryStore) FindQuestion(_ context.Context, id int64) (models.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return models.Question{}, ErrNotFound
	}
	return q, nil
}

func (m *MemoryStore) CreateQuestion(_ context.Context, q models.Question) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = m.id()
	m.questions[q.ID] = q
	return q, nil
}

func (m *MemoryStore) AnswerQuestion(_ context.Context, id int64, answer string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return ErrNotFound
	}
	q.AnswerText = answer
	q.AnsweredAt = &at
	m.questions[id] = q
	return nil
}

// Lookups

func (m *MemoryStore) AddDepartment(name string) models.Department {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := models.Department{ID: m.id(), Name: name}
	m.departments[d.ID] = d
	return d
}

func (m *MemoryStore) AddCategory(name string) models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := models.Category{ID: m.id(), Name: name}
	m.categories[c.ID] = c
	return c
}

func (m *MemoryStore) ListDepartments(_ context.Context) ([]models.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Department, 0, len(m.departments))
	for _, d := range m.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListCategories(_ context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
