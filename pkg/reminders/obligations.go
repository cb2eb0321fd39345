package reminders

import (
	"time"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// Reminder keys stored in Action.RemindersSent.
const (
	KeyAnalysis     = "analysis"
	KeyVerification = "verification"
	KeyClosure      = "closure"
	keyProposedPfx  = "pa_"
)

// ProposedActionKey returns the reminder key of a proposed action.
func ProposedActionKey(id string) string { return keyProposedPfx + id }

// Obligation is one dated duty on an action.
type Obligation struct {
	Key       string
	Label     string
	Recipient string
	DueDate   *time.Time
}

// Obligations lists the dated duties of a at its current status.
func Obligations(a *actions.Action) []Obligation {
	switch a.Status {
	case actions.StatusPendingAnalysis:
		return []Obligation{{
			Key:       KeyAnalysis,
			Label:     "Analysis",
			Recipient: a.ResponsibleGroupID,
			DueDate:   a.AnalysisDueDate,
		}}

	case actions.StatusPendingVerification:
		var verifier string
		if a.Analysis != nil {
			verifier = a.Analysis.VerificationResponsibleUserEmail
		}
		out := []Obligation{{
			Key:       KeyVerification,
			Label:     "Verification",
			Recipient: verifier,
			DueDate:   a.VerificationDueDate,
		}}
		for _, pa := range a.ProposedActions {
			if pa.Status == actions.ProposedImplemented || pa.Status == actions.ProposedImplementedLate {
				continue
			}
			out = append(out, Obligation{
				Key:       ProposedActionKey(pa.ID),
				Label:     "Proposed action \"" + pa.Description + "\"",
				Recipient: pa.ResponsibleUserEmail,
				DueDate:   pa.DueDate,
			})
		}
		return out

	case actions.StatusPendingClosure:
		return []Obligation{{
			Key:       KeyClosure,
			Label:     "Closure",
			Recipient: a.Creator.Email,
			DueDate:   a.ClosureDueDate,
		}}
	}
	return nil
}

// daysLeft counts calendar days in UTC from now until due.
func daysLeft(now, due time.Time) int {
	n := now.UTC()
	d := due.UTC()
	from := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
