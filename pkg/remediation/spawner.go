// Package remediation opens the follow-up ("BIS") action when an action is
// closed as not compliant.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// Notifier tells the original's creator about the new action.
type Notifier interface {
	Remediation(ctx context.Context, original, bis *actions.Action) string
}

// Spawner creates at most one remediation action per original.
type Spawner struct {
	svc      *actions.Service
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewSpawner creates a Spawner and registers it with svc.
func NewSpawner(svc *actions.Service, notifier Notifier, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	sp := &Spawner{
		svc:      svc,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	svc.SetRemediationSpawner(sp)
	return sp
}

// Spawn returns the remediation action for original, creating it if it does
// not exist yet. created reports whether this call created it.
func (s *Spawner) Spawn(ctx context.Context, original *actions.Action) (*actions.Action, bool, error) {
	store := s.svc.Store()

	existing, err := store.FindByOriginal(ctx, original.ID)
	if err != nil {
		return nil, false, fmt.Errorf("look up remediation: %w", err)
	}
	if existing != nil {
		s.logger.Info("remediation already exists", "actionId", original.ActionCode, "remediation", existing.ActionCode)
		return existing, false, nil
	}

	bis, err := s.svc.CreateAction(ctx, newRemediation(original))
	if err != nil {
		// A concurrent spawn may have won the unique index on the original id.
		if winner, lookupErr := store.FindByOriginal(ctx, original.ID); lookupErr == nil && winner != nil {
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create remediation: %w", err)
	}

	s.logger.Info("remediation created", "actionId", original.ActionCode, "remediation", bis.ActionCode)
	s.svc.RecordEvent(bis, "action.remediation.created", actions.SystemAuthor, map[string]any{
		"originalActionId":   original.ID,
		"originalActionCode": original.ActionCode,
	})

	texts := []string{fmt.Sprintf("Closed as not compliant. Follow-up action %s created.", bis.ActionCode)}
	if s.notifier != nil {
		if text := s.notifier.Remediation(ctx, original, bis); text != "" {
			texts = append(texts, text)
		}
	}
	now := s.now()
	_, err = store.Update(ctx, original.ID, func(a *actions.Action) error {
		for _, text := range texts {
			a.Comments = append(a.Comments, actions.Comment{
				ID:        uuid.New().String(),
				Author:    actions.SystemAuthor,
				Kind:      actions.CommentSystem,
				Text:      text,
				CreatedAt: now,
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, actions.ErrNotFound) {
		s.logger.Error("failed to record remediation on original", "actionId", original.ActionCode, "remediation", bis.ActionCode, "error", err)
	}
	return bis, true, nil
}

func newRemediation(original *actions.Action) actions.NewAction {
	desc := fmt.Sprintf("Follow-up of %s \"%s\", closed as not compliant.", original.ActionCode, original.Title)
	if original.Closure != nil && strings.TrimSpace(original.Closure.Notes) != "" {
		desc += "\n\nClosure notes:\n" + original.Closure.Notes
	}
	return actions.NewAction{
		Title:               original.Title + " (BIS)",
		Description:         desc,
		TypeID:              original.TypeID,
		CategoryID:          original.CategoryID,
		SubcategoryID:       original.SubcategoryID,
		Status:              actions.StatusDraft,
		Creator:             original.Creator,
		ResponsibleGroupID:  original.ResponsibleGroupID,
		CenterID:            original.CenterID,
		AffectedAreaIDs:     append([]string(nil), original.AffectedAreaIDs...),
		OriginalActionID:    original.ID,
		OriginalActionTitle: original.Title,
	}
}
