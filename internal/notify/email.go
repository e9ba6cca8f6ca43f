// Package notify sends operator email alerts for critical findings.
// Delivery is best-effort: an alert failure never fails the task run
// that produced it.
package notify

import (
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/event"
)

type EmailAlerter struct {
	cfg config.Email
}

func NewEmailAlerter(cfg config.Email) *EmailAlerter {
	return &EmailAlerter{cfg: cfg}
}

func (a *EmailAlerter) Enabled() bool {
	return a.cfg.Configured()
}

// AlertCritical emails one digest for the critical findings of a task
// run. No-op when email is not configured or nothing is critical.
func (a *EmailAlerter) AlertCritical(taskName string, findings []event.Finding) error {
	if !a.Enabled() {
		return nil
	}

	critical := make([]event.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Severity == event.SeverityCritical {
			critical = append(critical, f)
		}
	}

	if len(critical) == 0 {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Task %s reported %d critical finding(s):\n\n", taskName, len(critical))
	for _, f := range critical {
		fmt.Fprintf(&body, "- %s\n", f.Summary)
	}

	from := mail.NewEmail(a.cfg.FromName, a.cfg.FromAddress)
	to := mail.NewEmail("", a.cfg.Recipient)
	subject := fmt.Sprintf("[outpost] %d critical finding(s) from %s", len(critical), taskName)
	email := mail.NewSingleEmail(from, subject, to, body.String(), body.String())

	client := sendgrid.NewSendClient(a.cfg.APIKey)
	response, err := client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	return nil
}
