// Package reminders scans open actions for obligations that fall due soon
// and reminds the responsible party exactly once per obligation.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/notify"
)

// Notifier delivers a reminder and returns the comment to record.
type Notifier interface {
	Reminder(ctx context.Context, a *actions.Action, r notify.Reminder) (string, error)
}

// ScanConfig parameterizes a single scan.
type ScanConfig struct {
	DaysUntilDue int
}

// ScanError is a per-obligation failure. The scan carries on after it.
type ScanError struct {
	ActionID   string `json:"actionId"`
	ActionCode string `json:"actionCode"`
	Key        string `json:"key,omitempty"`
	Error      string `json:"error"`
}

// ReminderItem is a reminder that was sent, or would be sent in a dry run.
type ReminderItem struct {
	ActionID   string    `json:"actionId"`
	ActionCode string    `json:"actionCode"`
	Key        string    `json:"key"`
	Recipient  string    `json:"recipient"`
	DueDate    time.Time `json:"dueDate"`
	DaysLeft   int       `json:"daysLeft"`
}

// ScanResult summarizes a scan.
type ScanResult struct {
	CheckedActions int            `json:"checkedActions"`
	SentReminders  int            `json:"sentReminders"`
	DryRun         bool           `json:"dryRun"`
	Reminders      []ReminderItem `json:"reminders,omitempty"`
	Errors         []ScanError    `json:"errors,omitempty"`
}

// Scanner finds due obligations and sends their reminders.
type Scanner struct {
	svc      *actions.Service
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(svc *actions.Service, notifier Notifier, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// Run scans every open action once. An obligation is reminded when it has
// a recipient and a due date strictly in the future, has not been reminded
// before, and is due within cfg.DaysUntilDue days. Overdue obligations are
// not reminded.
//
// In a dry run nothing is sent or written; SentReminders counts the
// reminders that would be sent.
func (s *Scanner) Run(ctx context.Context, cfg ScanConfig, dryRun bool) (*ScanResult, error) {
	open, err := s.svc.List(ctx, actions.ListFilter{Statuses: actions.OpenStatuses})
	if err != nil {
		return nil, fmt.Errorf("list open actions: %w", err)
	}

	now := s.now()
	res := &ScanResult{DryRun: dryRun}
	for _, a := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.CheckedActions++

		for _, ob := range Obligations(a) {
			if ob.Recipient == "" || ob.DueDate == nil || !ob.DueDate.After(now) {
				continue
			}
			if a.ReminderSent(ob.Key) {
				continue
			}
			left := daysLeft(now, *ob.DueDate)
			if left > cfg.DaysUntilDue {
				continue
			}

			item := ReminderItem{
				ActionID:   a.ID,
				ActionCode: a.ActionCode,
				Key:        ob.Key,
				Recipient:  ob.Recipient,
				DueDate:    *ob.DueDate,
				DaysLeft:   left,
			}
			if dryRun {
				res.SentReminders++
				res.Reminders = append(res.Reminders, item)
				continue
			}

			marked, err := s.remind(ctx, a, ob, left, now)
			if err != nil {
				s.logger.Warn("reminder failed", "actionId", a.ActionCode, "key", ob.Key, "error", err)
				res.Errors = append(res.Errors, ScanError{ActionID: a.ID, ActionCode: a.ActionCode, Key: ob.Key, Error: err.Error()})
				continue
			}
			if marked {
				res.SentReminders++
				res.Reminders = append(res.Reminders, item)
			}
		}
	}

	s.logger.Info("reminder scan finished",
		"checked", res.CheckedActions,
		"sent", res.SentReminders,
		"errors", len(res.Errors),
		"dryRun", dryRun)
	return res, nil
}

// remind sends one reminder and then marks it. It reports false when a
// concurrent scan marked the key first.
func (s *Scanner) remind(ctx context.Context, a *actions.Action, ob Obligation, left int, now time.Time) (bool, error) {
	text, err := s.notifier.Reminder(ctx, a, notify.Reminder{
		Key:       ob.Key,
		Label:     ob.Label,
		Recipient: ob.Recipient,
		DueDate:   *ob.DueDate,
		DaysLeft:  left,
	})
	if err != nil {
		return false, fmt.Errorf("send reminder: %w", err)
	}

	marked, moved := false, false
	updated, err := s.svc.Store().Update(ctx, a.ID, func(cur *actions.Action) error {
		if cur.ReminderSent(ob.Key) {
			return actions.ErrNoChange
		}
		if !stillOwed(cur, ob) {
			moved = true
			return actions.ErrNoChange
		}
		cur.MarkReminderSent(ob.Key)
		cur.Comments = append(cur.Comments, actions.Comment{
			ID:        uuid.New().String(),
			Author:    actions.SystemAuthor,
			Kind:      actions.CommentSystem,
			Text:      text,
			CreatedAt: now,
		})
		marked = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark reminder: %w", err)
	}
	if moved {
		return false, fmt.Errorf("%w: now %s", errObligationMoved, updated.Status.Label())
	}
	if marked {
		s.svc.RecordEvent(updated, "action.reminder.sent", actions.SystemAuthor, map[string]any{
			"key":       ob.Key,
			"recipient": ob.Recipient,
			"daysLeft":  left,
		})
	}
	return marked, nil
}

// errObligationMoved reports a reminder that went out for an obligation the
// action no longer has, e.g. after a concurrent transition. Nothing is
// recorded on the action.
var errObligationMoved = errors.New("reminder sent but obligation no longer applies")

// stillOwed reports whether a still carries ob with the same recipient.
func stillOwed(a *actions.Action, ob Obligation) bool {
	for _, cur := range Obligations(a) {
		if cur.Key == ob.Key {
			return cur.Recipient == ob.Recipient
		}
	}
	return false
}
