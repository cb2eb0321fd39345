package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

const (
	KindTransition  = "transition"
	KindRemediation = "remediation"
	KindReminder    = "reminder"
)

var messageTemplates = template.Must(template.New("messages").Parse(`
{{define "transition.subject"}}[{{.Action.ActionCode}}] {{.Action.Title}} is now {{.Action.Status.Label}}{{end}}
{{define "transition.body"}}Action {{.Action.ActionCode}} "{{.Action.Title}}" moved from {{.From.Label}} to {{.Action.Status.Label}}.
You are responsible for the next step.{{if .Link}}
{{.Link}}{{end}}{{end}}
{{define "remediation.subject"}}[{{.Action.ActionCode}}] Follow-up action {{.Remediation.ActionCode}} created{{end}}
{{define "remediation.body"}}Action {{.Action.ActionCode}} "{{.Action.Title}}" was closed as not compliant.
Follow-up action {{.Remediation.ActionCode}} was opened in Draft.{{if .Link}}
{{.Link}}{{end}}{{end}}
{{define "reminder.subject"}}[{{.Action.ActionCode}}] {{.Reminder.Label}} due in {{.Reminder.DaysLeft}} days{{end}}
{{define "reminder.body"}}{{.Reminder.Label}} for action {{.Action.ActionCode}} "{{.Action.Title}}" is due on {{.Reminder.DueDate.Format "2006-01-02"}} ({{.Reminder.DaysLeft}} days left).{{if .Link}}
{{.Link}}{{end}}{{end}}
`))

// Reminder describes one due-date obligation being reminded.
type Reminder struct {
	Key       string
	Label     string
	Recipient string
	DueDate   time.Time
	DaysLeft  int
}

type messageData struct {
	Action      *actions.Action
	From        actions.Status
	Remediation *actions.Action
	Reminder    Reminder
	Link        string
}

// Notifier renders workflow messages and sends them. Transition and
// remediation notices never fail the caller: they return the text to record
// on the action instead.
type Notifier struct {
	sender    Sender
	publicURL string
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(sender Sender, cfg *Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Notifier{sender: sender, publicURL: cfg.PublicURL, logger: logger}
}

// Transition notifies the party responsible for a's new status.
func (n *Notifier) Transition(ctx context.Context, a *actions.Action, from actions.Status) string {
	to := a.ResponsibleParty()
	if to == "" {
		return fmt.Sprintf("could not notify the responsible party for %s: no recipient set", a.Status.Label())
	}
	err := n.send(ctx, KindTransition, to, messageData{Action: a, From: from})
	if err != nil {
		n.logger.Warn("transition notification failed", "actionId", a.ActionCode, "to", to, "error", err)
		return fmt.Sprintf("could not notify %s: %v", to, err)
	}
	return fmt.Sprintf("Notified %s: %s → %s", to, from.Label(), a.Status.Label())
}

// Remediation tells the creator of original that bis was opened.
func (n *Notifier) Remediation(ctx context.Context, original, bis *actions.Action) string {
	to := original.Creator.Email
	if to == "" {
		return "could not notify the creator: no email on record"
	}
	err := n.send(ctx, KindRemediation, to, messageData{Action: original, Remediation: bis})
	if err != nil {
		n.logger.Warn("remediation notification failed", "actionId", original.ActionCode, "to", to, "error", err)
		return fmt.Sprintf("could not notify %s: %v", to, err)
	}
	return fmt.Sprintf("Notified %s of follow-up action %s", to, bis.ActionCode)
}

// Reminder sends a due-date reminder and returns the comment to record on
// success.
func (n *Notifier) Reminder(ctx context.Context, a *actions.Action, r Reminder) (string, error) {
	if err := n.send(ctx, KindReminder, r.Recipient, messageData{Action: a, Reminder: r}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Reminder sent to %s: %s due on %s (%d days left)",
		r.Recipient, strings.ToLower(r.Label), r.DueDate.Format("2006-01-02"), r.DaysLeft), nil
}

func (n *Notifier) send(ctx context.Context, kind, to string, data messageData) error {
	if n.publicURL != "" {
		data.Link = n.publicURL + "/actions/" + data.Action.ID
	}
	subject, err := render(kind+".subject", data)
	if err != nil {
		return err
	}
	body, err := render(kind+".body", data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		Kind:       kind,
		To:         []string{to},
		Subject:    subject,
		Body:       body,
		ActionID:   data.Action.ID,
		ActionCode: data.Action.ActionCode,
	})
}

func render(name string, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
