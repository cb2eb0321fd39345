package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/audit"
)

// PermissionEngine computes reader and author lists for an action entering
// a status.
type PermissionEngine interface {
	Compute(ctx context.Context, a *Action, target Status) (Access, error)
}

// MasterData supplies classification names and workflow offsets.
type MasterData interface {
	ClassificationNames(ctx context.Context, typeID, categoryID, subcategoryID string) (Classification, error)
	WorkflowSettings(ctx context.Context) (WorkflowSettings, error)
}

// Notifier informs the newly responsible party of a status change. The
// returned text is recorded on the action as a system comment whether or
// not delivery succeeded.
type Notifier interface {
	Transition(ctx context.Context, a *Action, from Status) string
}

// RemediationSpawner creates the follow-up action for a non-compliant
// closure. created is false when an existing remediation was returned.
type RemediationSpawner interface {
	Spawn(ctx context.Context, original *Action) (remediation *Action, created bool, err error)
}

// EventRecorder persists system audit events.
type EventRecorder interface {
	Append(event *audit.EventRecord) error
}

// SystemAuthor is the author of generated comments.
var SystemAuthor = Person{ID: "system", Name: "System"}

// Service is the transition controller. All mutations of an action go
// through it.
type Service struct {
	store    *Store
	machine  *StateMachine
	perms    PermissionEngine
	master   MasterData
	notifier Notifier
	spawner  RemediationSpawner
	events   EventRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(store *Store, perms PermissionEngine, master MasterData, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		machine:  NewStateMachine(),
		perms:    perms,
		master:   master,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRemediationSpawner wires the spawner invoked after non-compliant
// closures. Without one, such closures only log.
func (s *Service) SetRemediationSpawner(sp RemediationSpawner) {
	s.spawner = sp
}

// SetEventRecorder wires the audit event store.
func (s *Service) SetEventRecorder(r EventRecorder) {
	s.events = r
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Store returns the underlying document store.
func (s *Service) Store() *Store { return s.store }

// Get returns an action by id.
func (s *Service) Get(ctx context.Context, id string) (*Action, error) {
	return s.store.Get(ctx, id)
}

// GetByCode returns an action by its AM-YYNNN code.
func (s *Service) GetByCode(ctx context.Context, code string) (*Action, error) {
	return s.store.GetByCode(ctx, code)
}

// List returns actions matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Action, error) {
	return s.store.List(ctx, filter)
}

// CreateAction validates and stores a new action. It is the single creation
// path for user-submitted and remediation actions.
func (s *Service) CreateAction(ctx context.Context, in NewAction) (*Action, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}

	names, err := s.master.ClassificationNames(ctx, in.TypeID, in.CategoryID, in.SubcategoryID)
	if err != nil {
		return nil, fmt.Errorf("resolve classification: %w", err)
	}
	settings, err := s.settings(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	analysisDue := now.AddDate(0, 0, settings.AnalysisDueDays)
	implementationDue := now.AddDate(0, 0, settings.ImplementationDueDays)
	verificationDue := implementationDue.AddDate(0, 0, settings.VerificationDueDays)

	a := &Action{
		ID:                    uuid.New().String(),
		Title:                 in.Title,
		Description:           in.Description,
		TypeID:                in.TypeID,
		TypeName:              names.TypeName,
		CategoryID:            in.CategoryID,
		CategoryName:          names.CategoryName,
		SubcategoryID:         in.SubcategoryID,
		SubcategoryName:       names.SubcategoryName,
		Status:                in.Status,
		Creator:               in.Creator,
		ResponsibleGroupID:    in.ResponsibleGroupID,
		CenterID:              in.CenterID,
		AffectedAreaIDs:       in.AffectedAreaIDs,
		AnalysisDueDate:       &analysisDue,
		ImplementationDueDate: &implementationDue,
		VerificationDueDate:   &verificationDue,
		RemindersSent:         map[string]bool{},
		OriginalActionID:      in.OriginalActionID,
		OriginalActionTitle:   in.OriginalActionTitle,
		CreatedAt:             now,
	}

	access, err := s.perms.Compute(ctx, a, a.Status)
	if err != nil {
		return nil, fmt.Errorf("compute permissions: %w", err)
	}
	a.Readers, a.Authors = access.Readers, access.Authors
	if !access.RuleFound && len(a.Readers) == 0 {
		a.Readers = []string{a.Creator.Email}
		a.Authors = []string{a.Creator.Email}
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("action created", "actionId", a.ActionCode, "id", a.ID, "status", a.Status, "type", a.TypeID)
	s.record(a, "action.created", in.Creator, "", a.Status, nil)

	if a.Status == StatusPendingAnalysis {
		if updated := s.notifyTransition(ctx, a, StatusDraft); updated != nil {
			a = updated
		}
	}
	return a, nil
}

// ApplyTransition saves the command's patch and, if the status changes,
// recomputes access, notifies the next responsible party and, for a
// non-compliant closure, spawns the remediation action.
//
// If the remediation cannot be created the closure stays committed: the
// updated action is returned together with an error wrapping
// ErrRemediationFailed.
func (s *Service) ApplyTransition(ctx context.Context, cmd TransitionCommand) (*Action, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	snap, err := s.store.Get(ctx, cmd.ActionID)
	if err != nil {
		return nil, err
	}
	from := snap.Status
	target := InferTarget(from, cmd)
	if err := s.machine.ValidateTransition(from, target); err != nil {
		return nil, err
	}
	statusChanged := target != from

	settings, err := s.settings(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	// Permission lookups hit the catalog, so they run before the write
	// against the snapshot with the patch applied.
	var access Access
	if statusChanged {
		projected := snap.Clone()
		applyPatch(projected, cmd, settings, now)
		projected.Status = target
		access, err = s.perms.Compute(ctx, projected, target)
		if err != nil {
			return nil, fmt.Errorf("compute permissions: %w", err)
		}
	}

	updated, err := s.store.Update(ctx, cmd.ActionID, func(cur *Action) error {
		if cur.Status != from {
			return fmt.Errorf("status changed to %s while saving: %w", cur.Status.Label(), ErrConflict)
		}
		if statusChanged && !sameAccessInputs(cur, snap) {
			return fmt.Errorf("responsible fields changed while saving: %w", ErrConflict)
		}
		applyPatch(cur, cmd, settings, now)
		if statusChanged {
			cur.Status = target
			if access.RuleFound {
				cur.Readers, cur.Authors = access.Readers, access.Authors
			}
			if target == StatusPendingClosure {
				due := now.AddDate(0, 0, settings.ClosureDueDays)
				cur.ClosureDueDate = &due
			}
		}
		for _, text := range cmd.Comments {
			cur.Comments = append(cur.Comments, newComment(cmd.Actor, CommentUser, text, now))
		}
		for _, text := range cmd.AuditNotes {
			cur.Comments = append(cur.Comments, newComment(cmd.Actor, CommentAdmin, text, now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !statusChanged {
		return updated, nil
	}

	s.logger.Info("action transitioned", "actionId", updated.ActionCode, "from", from, "to", target, "actor", cmd.Actor.Email)
	s.record(updated, "action.transitioned", cmd.Actor, from, target, nil)

	if n := s.notifyTransition(ctx, updated, from); n != nil {
		updated = n
	}

	if target == StatusFinalized && updated.Closure.NonCompliant() {
		return s.remediate(ctx, updated)
	}
	return updated, nil
}

// sameAccessInputs reports whether a and b agree on every field roles are
// resolved from.
func sameAccessInputs(a, b *Action) bool {
	return a.Creator == b.Creator &&
		a.ResponsibleGroupID == b.ResponsibleGroupID &&
		a.CenterID == b.CenterID &&
		slices.Equal(a.AffectedAreaIDs, b.AffectedAreaIDs)
}

// remediate runs the spawner after a committed non-compliant closure.
func (s *Service) remediate(ctx context.Context, closed *Action) (*Action, error) {
	if s.spawner == nil {
		s.logger.Error("non-compliant closure without remediation spawner", "actionId", closed.ActionCode)
		return closed, fmt.Errorf("%w: no spawner configured for %s", ErrRemediationFailed, closed.ActionCode)
	}

	bis, created, err := s.spawner.Spawn(ctx, closed)
	if err != nil {
		s.logger.Error("REMEDIATION FAILED: closure committed without follow-up action, reconcile manually",
			"actionId", closed.ActionCode, "id", closed.ID, "error", err)
		return closed, fmt.Errorf("%w: %s: %w", ErrRemediationFailed, closed.ActionCode, err)
	}
	s.logger.Info("remediation action linked", "actionId", closed.ActionCode, "remediation", bis.ActionCode, "created", created)

	fresh, err := s.store.Get(ctx, closed.ID)
	if err != nil {
		return closed, nil
	}
	return fresh, nil
}

// notifyTransition sends the transition notice after commit and records the
// outcome in a separate small write. Returns nil if the comment could not be
// saved.
func (s *Service) notifyTransition(ctx context.Context, a *Action, from Status) *Action {
	if s.notifier == nil {
		return nil
	}
	text := s.notifier.Transition(ctx, a, from)
	if text == "" {
		return nil
	}
	updated, err := s.store.AppendComment(ctx, a.ID, newComment(SystemAuthor, CommentSystem, text, s.now()))
	if err != nil {
		s.logger.Error("failed to record notification outcome", "actionId", a.ActionCode, "error", err)
		return nil
	}
	return updated
}

// UpdateProposedActionStatus changes the status of one proposed action and
// logs the change on the action.
func (s *Service) UpdateProposedActionStatus(ctx context.Context, cmd ProposedActionStatusCommand) (*Action, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	return s.store.Update(ctx, cmd.ActionID, func(a *Action) error {
		if a.Status == StatusFinalized {
			return &TransitionError{Code: "ACTION_TRANSITION_DENIED", From: a.Status, To: a.Status, Message: "finalized actions cannot be modified"}
		}
		pa, ok := a.ProposedAction(cmd.ProposedActionID)
		if !ok {
			return fmt.Errorf("proposed action %s: %w", cmd.ProposedActionID, ErrNotFound)
		}
		if pa.Status == cmd.Status {
			return ErrNoChange
		}
		pa.Status = cmd.Status
		pa.StatusUpdatedAt = &now
		a.Comments = append(a.Comments, newComment(cmd.Actor, CommentSystem,
			fmt.Sprintf("Proposed action %q marked as %s", pa.Description, cmd.Status), now))
		return nil
	})
}

// ToggleFollow adds the user to the followers, or removes them if present.
func (s *Service) ToggleFollow(ctx context.Context, cmd FollowCommand) (*Action, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, cmd.ActionID, func(a *Action) error {
		if i := slices.Index(a.Followers, cmd.UserID); i >= 0 {
			a.Followers = slices.Delete(a.Followers, i, i+1)
		} else {
			a.Followers = append(a.Followers, cmd.UserID)
		}
		return nil
	})
}

// AddComment appends a user comment.
func (s *Service) AddComment(ctx context.Context, cmd CommentCommand) (*Action, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.store.AppendComment(ctx, cmd.ActionID, newComment(cmd.Author, CommentUser, cmd.Text, s.now()))
}

// AddAttachment appends attachment metadata.
func (s *Service) AddAttachment(ctx context.Context, cmd AttachmentCommand) (*Action, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	return s.store.Update(ctx, cmd.ActionID, func(a *Action) error {
		a.Attachments = append(a.Attachments, Attachment{
			ID:         uuid.New().String(),
			FileName:   cmd.FileName,
			URL:        cmd.URL,
			UploadedBy: cmd.UploadedBy,
			UploadedAt: now,
		})
		return nil
	})
}

// Execute dispatches a typed command.
func (s *Service) Execute(ctx context.Context, cmd Command) (*Action, error) {
	switch c := cmd.(type) {
	case TransitionCommand:
		return s.ApplyTransition(ctx, c)
	case CommentCommand:
		return s.AddComment(ctx, c)
	case AttachmentCommand:
		return s.AddAttachment(ctx, c)
	case ProposedActionStatusCommand:
		return s.UpdateProposedActionStatus(ctx, c)
	case FollowCommand:
		return s.ToggleFollow(ctx, c)
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func (s *Service) settings(ctx context.Context) (WorkflowSettings, error) {
	if s.master == nil {
		return DefaultWorkflowSettings(), nil
	}
	w, err := s.master.WorkflowSettings(ctx)
	if err != nil {
		return WorkflowSettings{}, fmt.Errorf("load workflow settings: %w", err)
	}
	return w.WithDefaults(), nil
}

func (s *Service) record(a *Action, eventType string, actor Person, from, to Status, meta map[string]any) {
	if s.events == nil {
		return
	}
	ev := &audit.EventRecord{
		ID:         uuid.New().String(),
		EventType:  eventType,
		Actor:      actorName(actor),
		ActionID:   a.ID,
		ActionCode: a.ActionCode,
		FromStatus: string(from),
		ToStatus:   string(to),
		Outcome:    "success",
		Metadata:   meta,
		CreatedAt:  s.now(),
	}
	if err := s.events.Append(ev); err != nil {
		s.logger.Error("failed to write audit event", "eventType", eventType, "actionId", a.ActionCode, "error", err)
	}
}

// RecordEvent lets collaborators write audit events through the service.
func (s *Service) RecordEvent(a *Action, eventType string, actor Person, meta map[string]any) {
	s.record(a, eventType, actor, "", a.Status, meta)
}

// applyPatch merges the command payload into a. It is used both on the
// projected copy for permission computation and inside the transaction.
func applyPatch(a *Action, cmd TransitionCommand, settings WorkflowSettings, now time.Time) {
	if cmd.Title != nil {
		a.Title = *cmd.Title
	}
	if cmd.Description != nil {
		a.Description = *cmd.Description
	}
	if cmd.ResponsibleGroupID != nil {
		a.ResponsibleGroupID = *cmd.ResponsibleGroupID
	}
	if cmd.CenterID != nil {
		a.CenterID = *cmd.CenterID
	}
	if cmd.AffectedAreaIDs != nil {
		a.AffectedAreaIDs = slices.Clone(cmd.AffectedAreaIDs)
	}

	if cmd.Analysis != nil {
		an := *cmd.Analysis
		if an.AnalyzedBy == nil && cmd.Actor != (Person{}) {
			actor := cmd.Actor
			an.AnalyzedBy = &actor
		}
		if an.AnalyzedAt == nil {
			an.AnalyzedAt = &now
		}
		a.Analysis = &an
	}
	if cmd.Verification != nil {
		v := *cmd.Verification
		if v.VerifiedBy == nil && cmd.Actor != (Person{}) {
			actor := cmd.Actor
			v.VerifiedBy = &actor
		}
		if v.VerifiedAt == nil {
			v.VerifiedAt = &now
		}
		a.Verification = &v
	}
	if cmd.Closure != nil {
		c := *cmd.Closure
		if c.ClosedBy == nil && cmd.Actor != (Person{}) {
			actor := cmd.Actor
			c.ClosedBy = &actor
		}
		if c.ClosedAt == nil {
			c.ClosedAt = &now
		}
		a.Closure = &c
	}

	if cmd.ProposedActions != nil {
		a.ProposedActions = mergeProposedActions(a.ProposedActions, cmd.ProposedActions)
		rollUpDueDates(a, settings)
	}
}

// mergeProposedActions replaces the list, keeping the recorded status of
// entries that already existed and assigning ids to new ones.
func mergeProposedActions(existing, incoming []ProposedAction) []ProposedAction {
	out := make([]ProposedAction, 0, len(incoming))
	for _, pa := range incoming {
		if pa.ID == "" {
			pa.ID = uuid.New().String()
		}
		if pa.Status == "" {
			pa.Status = ProposedPending
			for _, old := range existing {
				if old.ID == pa.ID {
					pa.Status = old.Status
					pa.StatusUpdatedAt = old.StatusUpdatedAt
					break
				}
			}
		}
		out = append(out, pa)
	}
	return out
}

// rollUpDueDates sets the implementation due date to the latest proposed
// action due date and the verification due date after it.
func rollUpDueDates(a *Action, settings WorkflowSettings) {
	var latest *time.Time
	for i := range a.ProposedActions {
		d := a.ProposedActions[i].DueDate
		if d == nil {
			continue
		}
		if latest == nil || d.After(*latest) {
			t := *d
			latest = &t
		}
	}
	if latest == nil {
		return
	}
	verification := latest.AddDate(0, 0, settings.VerificationDueDays)
	a.ImplementationDueDate = latest
	a.VerificationDueDate = &verification
}

func newComment(author Person, kind CommentKind, text string, now time.Time) Comment {
	return Comment{
		ID:        uuid.New().String(),
		Author:    author,
		Kind:      kind,
		Text:      text,
		CreatedAt: now,
	}
}

func actorName(p Person) string {
	switch {
	case p.Email != "":
		return p.Email
	case p.ID != "":
		return p.ID
	}
	return "anonymous"
}

// IsRetryable reports whether err is a concurrency conflict the caller may
// retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
