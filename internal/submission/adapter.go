// Package submission holds the strategies that decide where proposals for an
// opportunity are sent and how the submit page presents them.
package submission

import (
	"errors"
	"fmt"

	"github.com/david/dispatch/internal/models"
)

var ErrUnknownKind = errors.New("unknown submission adapter")

// Page describes the public submission page of an opportunity.
type Page struct {
	ViewProposalsURL      string `json:"view_proposals_url,omitempty"`
	ViewProposalsLinkText string `json:"view_proposals_link_text,omitempty"`
	SubmitProposalsURL    string `json:"submit_proposals_url,omitempty"`
	Instructions          string `json:"submit_proposals_instructions,omitempty"`
}

// Adapter is implemented by every submission channel.
type Adapter interface {
	Kind() models.AdapterKind
	// SubmissionPage returns false when the channel has no submit page.
	SubmissionPage() (Page, bool)
	Submittable() bool
	Valid() bool
}

// Constructor builds an adapter from its stored data.
type Constructor func(data map[string]string, opp models.Opportunity) (Adapter, error)

// Registry maps adapter kinds to constructors.
type Registry struct {
	constructors map[models.AdapterKind]Constructor
	order        []models.AdapterKind
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[models.AdapterKind]Constructor)}
}

func (r *Registry) Register(kind models.AdapterKind, c Constructor) {
	if _, exists := r.constructors[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.constructors[kind] = c
}

// Kinds lists registered kinds in registration order.
func (r *Registry) Kinds() []models.AdapterKind {
	out := make([]models.AdapterKind, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Known(kind models.AdapterKind) bool {
	_, ok := r.constructors[kind]
	return ok
}

// Build constructs the adapter registered for kind.
func (r *Registry) Build(kind models.AdapterKind, data map[string]string, opp models.Opportunity) (Adapter, error) {
	c, ok := r.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	a, err := c(data, opp)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", kind, err)
	}
	if a == nil {
		return nil, fmt.Errorf("build %s adapter: constructor returned nil", kind)
	}
	return a, nil
}

// Resolve is Build with the None adapter substituted for any failure, so
// callers always get something usable.
func (r *Registry) Resolve(kind models.AdapterKind, data map[string]string, opp models.Opportunity) Adapter {
	a, err := r.Build(kind, data, opp)
	if err != nil {
		return None{}
	}
	return a
}

// Options tunes the built-in adapters.
type Options struct {
	ScreendoorBaseURL string
}

// NewDefaultRegistry returns a registry with every built-in channel.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(models.AdapterNone, newNone)
	r.Register(models.AdapterScreendoor, screendoorConstructor(opts.ScreendoorBaseURL))
	r.Register(models.AdapterEmail, newEmail)
	return r
}

var Default = NewDefaultRegistry(Options{})

// ForOpportunity resolves the adapter stored on opp using the default registry.
func ForOpportunity(opp models.Opportunity) Adapter {
	return Default.Resolve(opp.SubmissionAdapterKind, opp.SubmissionAdapterData, opp)
}
