package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

type approvalData struct {
	SiteName  string
	Recipient string
	Title     string
	URL       string
	Summary   string
}

type deadlineData struct {
	SiteName string
	Title    string
	URL      string
	Deadline string // "question" or "submission"
	ClosesAt string
}

var (
	approvalTmpl = template.Must(template.New("approval").Parse(approvalHTMLTemplate))
	deadlineTmpl = template.Must(template.New("deadline").Parse(deadlineHTMLTemplate))
)

func buildApprovalRequest(data approvalData) Email {
	return Email{
		Subject:  fmt.Sprintf("[%s] Approval requested: %s", data.SiteName, data.Title),
		TextBody: buildApprovalText(data),
		HTMLBody: render(approvalTmpl, data),
	}
}

func buildApprovalText(data approvalData) string {
	var buf bytes.Buffer
	if data.Recipient != "" {
		buf.WriteString(fmt.Sprintf("Hi %s,\n\n", data.Recipient))
	}
	buf.WriteString(fmt.Sprintf("\"%s\" has been submitted for approval.\n\n", data.Title))
	if data.Summary != "" {
		buf.WriteString(data.Summary + "\n\n")
	}
	buf.WriteString("Review it here:\n")
	buf.WriteString(data.URL + "\n")
	return buf.String()
}

func buildDeadlineReminder(data deadlineData) Email {
	return Email{
		Subject:  fmt.Sprintf("[%s] The %s deadline for %s is approaching", data.SiteName, data.Deadline, data.Title),
		TextBody: buildDeadlineText(data),
		HTMLBody: render(deadlineTmpl, data),
	}
}

func buildDeadlineText(data deadlineData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("The %s deadline for \"%s\" is approaching", data.Deadline, data.Title))
	if data.ClosesAt != "" {
		buf.WriteString(": " + data.ClosesAt)
	}
	buf.WriteString(".\n\n")
	buf.WriteString(data.URL + "\n")
	return buf.String()
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	_ = t.Execute(&buf, data)
	return buf.String()
}

const approvalHTMLTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Approval requested</title></head>
<body style="margin: 0; padding: 24px; font-family: Arial, sans-serif; color: #374151;">
  <h1 style="font-size: 20px; color: #1f2937;">{{.SiteName}}</h1>
  {{if .Recipient}}<p>Hi {{.Recipient}},</p>{{end}}
  <p><strong>{{.Title}}</strong> has been submitted for approval.</p>
  {{if .Summary}}<p style="color: #6b7280;">{{.Summary}}</p>{{end}}
  <p><a href="{{.URL}}" style="color: #4f46e5;">Review the opportunity</a></p>
</body>
</html>`

const deadlineHTMLTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Deadline approaching</title></head>
<body style="margin: 0; padding: 24px; font-family: Arial, sans-serif; color: #374151;">
  <h1 style="font-size: 20px; color: #1f2937;">{{.SiteName}}</h1>
  <p>The {{.Deadline}} deadline for <strong>{{.Title}}</strong> is approaching{{if .ClosesAt}}: {{.ClosesAt}}{{end}}.</p>
  <p><a href="{{.URL}}" style="color: #4f46e5;">View the opportunity</a></p>
</body>
</html>`
