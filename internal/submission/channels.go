package submission

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/david/dispatch/internal/models"
)

const DefaultScreendoorBaseURL = "https://screendoor.dobt.co"

// None is the inert channel: no submit page, never submittable.
type None struct{}

func newNone(map[string]string, models.Opportunity) (Adapter, error) {
	return None{}, nil
}

func (None) Kind() models.AdapterKind     { return models.AdapterNone }
func (None) SubmissionPage() (Page, bool) { return Page{}, false }
func (None) Submittable() bool            { return false }
func (None) Valid() bool                  { return true }

// Email routes proposals to a single inbox.
type Email struct {
	Address string
	Name    string
	Title   string
}

func newEmail(data map[string]string, opp models.Opportunity) (Adapter, error) {
	return Email{
		Address: strings.TrimSpace(data["email"]),
		Name:    strings.TrimSpace(data["name"]),
		Title:   opp.Title,
	}, nil
}

func (Email) Kind() models.AdapterKind { return models.AdapterEmail }

func (e Email) SubmissionPage() (Page, bool) {
	recipient := e.Address
	if e.Name != "" {
		recipient = fmt.Sprintf("%s (%s)", e.Name, e.Address)
	}
	mailto := "mailto:" + e.Address
	if e.Title != "" {
		mailto += "?subject=" + url.PathEscape("Proposal: "+e.Title)
	}
	return Page{
		SubmitProposalsURL: mailto,
		Instructions:       fmt.Sprintf("Email your proposal and any attachments to %s.", recipient),
	}, true
}

func (e Email) Submittable() bool { return e.Address != "" }
func (e Email) Valid() bool       { return e.Address != "" }

// Screendoor routes proposals to a Screendoor intake project.
type Screendoor struct {
	BaseURL   string
	ProjectID string
	EmbedCode string
}

func screendoorConstructor(baseURL string) Constructor {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultScreendoorBaseURL
	}
	return func(data map[string]string, _ models.Opportunity) (Adapter, error) {
		if _, err := url.Parse(baseURL); err != nil {
			return nil, fmt.Errorf("screendoor base url: %w", err)
		}
		return Screendoor{
			BaseURL:   baseURL,
			ProjectID: strings.TrimSpace(data["project_id"]),
			EmbedCode: strings.TrimSpace(data["embed_code"]),
		}, nil
	}
}

func (Screendoor) Kind() models.AdapterKind { return models.AdapterScreendoor }

func (s Screendoor) SubmissionPage() (Page, bool) {
	if s.ProjectID == "" {
		return Page{}, false
	}
	project := s.BaseURL + "/projects/" + url.PathEscape(s.ProjectID)
	return Page{
		ViewProposalsURL:      project + "/responses",
		ViewProposalsLinkText: "View responses on Screendoor",
		SubmitProposalsURL:    project + "/form",
		Instructions:          "Fill out the form below to submit your proposal.",
	}, true
}

func (s Screendoor) Submittable() bool { return s.ProjectID != "" }
func (s Screendoor) Valid() bool       { return s.ProjectID != "" }
