// Package notify sends workflow emails over SMTP. Notifications are
// fire-and-forget: a delivery failure is logged by the caller and never
// blocks or rolls back a workflow transition.
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends workflow notifications.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if SMTP settings are present. Unconfigured
// deployments run without notifications.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// StepPending tells the next assignee their step is now actionable.
func (s *Service) StepPending(to, assigneeName, docTitle, stepName string) error {
	subject := fmt.Sprintf("Action needed: %s", docTitle)
	html, err := renderTemplate(stepPendingTemplate, map[string]string{
		"AssigneeName": assigneeName,
		"DocTitle":     docTitle,
		"StepName":     stepName,
	})
	if err != nil {
		return fmt.Errorf("render step-pending template: %w", err)
	}
	return s.sendHTML([]string{to}, subject, html)
}

// DocumentApproved tells the submitter the full sequence completed.
func (s *Service) DocumentApproved(to, submitterName, docTitle string) error {
	subject := fmt.Sprintf("Approved: %s", docTitle)
	html, err := renderTemplate(approvedTemplate, map[string]string{
		"SubmitterName": submitterName,
		"DocTitle":      docTitle,
	})
	if err != nil {
		return fmt.Errorf("render approved template: %w", err)
	}
	return s.sendHTML([]string{to}, subject, html)
}

// DocumentRejected tells the submitter a step rejected the document, with
// the reviewer's reason.
func (s *Service) DocumentRejected(to, submitterName, docTitle, stepName, reason string) error {
	subject := fmt.Sprintf("Rejected: %s", docTitle)
	html, err := renderTemplate(rejectedTemplate, map[string]string{
		"SubmitterName": submitterName,
		"DocTitle":      docTitle,
		"StepName":      stepName,
		"Reason":        reason,
	})
	if err != nil {
		return fmt.Errorf("render rejected template: %w", err)
	}
	return s.sendHTML([]string{to}, subject, html)
}

func (s *Service) sendHTML(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("notify: smtp not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("notify").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const stepPendingTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
    <h2>Hi {{.AssigneeName}},</h2>
    <p>The document <strong>{{.DocTitle}}</strong> has reached your step
    (<em>{{.StepName}}</em>) and is waiting for your signature or decision.</p>
    <p>Please review it in the approval dashboard.</p>
</body>
</html>`

const approvedTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
    <h2>Hi {{.SubmitterName}},</h2>
    <p>Your document <strong>{{.DocTitle}}</strong> has completed every
    approval step and is now approved.</p>
</body>
</html>`

const rejectedTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
    <h2>Hi {{.SubmitterName}},</h2>
    <p>Your document <strong>{{.DocTitle}}</strong> was rejected at the
    <em>{{.StepName}}</em> step.</p>
    <p>Reason given:</p>
    <blockquote style="border-left: 3px solid #cc0000; padding-left: 12px; color: #555;">{{.Reason}}</blockquote>
</body>
</html>`
