// Package notify turns workflow and reminder events into emails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/dispatch/internal/models"
)

// Email is a rendered message ready for a Sender.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, e Email) error
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, e Email) error {
	s.log.Info("email",
		zap.String("to", e.To),
		zap.String("subject", e.Subject),
		zap.String("body", e.TextBody))
	return nil
}

// SubscriberDirectory lists the users following an opportunity.
type SubscriberDirectory interface {
	Subscribers(ctx context.Context, opportunityID uuid.UUID) ([]models.User, error)
}

type Config struct {
	SiteName string
	BaseURL  string
}

// Mailer implements the approval and deadline notifiers on top of a Sender.
type Mailer struct {
	sender Sender
	subs   SubscriberDirectory
	cfg    Config
	log    *zap.Logger
}

func NewMailer(sender Sender, subs SubscriberDirectory, cfg Config, log *zap.Logger) *Mailer {
	if cfg.SiteName == "" {
		cfg.SiteName = "Dispatch"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{sender: sender, subs: subs, cfg: cfg, log: log}
}

func (m *Mailer) opportunityURL(o models.Opportunity) string {
	return fmt.Sprintf("%s/opportunities/%s", m.cfg.BaseURL, o.ID)
}

// NotifyApprovalRequested asks user to review o.
func (m *Mailer) NotifyApprovalRequested(ctx context.Context, user models.User, o models.Opportunity) error {
	if strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("user %s has no email address", user.ID)
	}
	e := buildApprovalRequest(approvalData{
		SiteName:  m.cfg.SiteName,
		Recipient: user.Name,
		Title:     o.Title,
		URL:       m.opportunityURL(o),
		Summary:   summarize(o.Description, 280),
	})
	e.To = user.Email
	if err := m.sender.Send(ctx, e); err != nil {
		return fmt.Errorf("send approval request: %w", err)
	}
	return nil
}

// NotifyDeadlineApproaching emails every subscriber of o. For question
// deadlines the opportunity contact is included so someone is prompted to
// answer outstanding questions.
func (m *Mailer) NotifyDeadlineApproaching(ctx context.Context, o models.Opportunity, kind models.DeadlineKind) error {
	subs, err := m.subs.Subscribers(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("list subscribers of %s: %w", o.ID, err)
	}

	recipients := make([]string, 0, len(subs)+1)
	seen := map[string]bool{}
	addRecipient := func(addr string) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			return
		}
		seen[key] = true
		recipients = append(recipients, addr)
	}
	for _, u := range subs {
		addRecipient(u.Email)
	}
	if kind == models.DeadlineQuestions {
		addRecipient(o.ContactEmail)
	}
	if len(recipients) == 0 {
		m.log.Debug("no reminder recipients", zap.String("opportunity_id", o.ID.String()))
		return nil
	}

	closesAt := o.SubmissionsCloseAt
	if kind == models.DeadlineQuestions {
		closesAt = o.QuestionsCloseAt
	}
	data := deadlineData{
		SiteName: m.cfg.SiteName,
		Title:    o.Title,
		URL:      m.opportunityURL(o),
		Deadline: deadlineLabel(kind),
	}
	if closesAt != nil {
		data.ClosesAt = closesAt.Format("January 2, 2006 at 3:04 PM MST")
	}

	var errs []error
	for _, to := range recipients {
		e := buildDeadlineReminder(data)
		e.To = to
		if err := m.sender.Send(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("send reminder to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func deadlineLabel(kind models.DeadlineKind) string {
	if kind == models.DeadlineQuestions {
		return "question"
	}
	return "submission"
}

// summarize returns the plain text of an HTML fragment, cut at max runes.
func summarize(html string, max int) string {
	if html == "" {
		return ""
	}
	text := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return strings.TrimSpace(string(r[:max])) + "..."
}
