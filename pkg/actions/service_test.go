package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advance moves a to target through every intermediate stage.
func advance(t *testing.T, env *testEnv, id string, target Status) *Action {
	t.Helper()
	ctx := context.Background()
	actor := Person{Email: "worker@example.com"}
	var a *Action
	var err error
	a, err = env.svc.Get(ctx, id)
	require.NoError(t, err)
	for a.Status != target {
		cmd := TransitionCommand{ActionID: id, Actor: actor}
		switch a.Status {
		case StatusDraft:
			cmd.Target = StatusPendingAnalysis
		case StatusPendingAnalysis:
			cmd.Analysis = &Analysis{Description: "root cause", VerificationResponsibleUserEmail: "verifier@example.com"}
		case StatusPendingVerification:
			cmd.Verification = &Verification{Notes: "checked"}
		case StatusPendingClosure:
			cmd.Closure = &Closure{Notes: "ok", IsCompliant: boolPtr(true)}
		}
		a, err = env.svc.ApplyTransition(ctx, cmd)
		require.NoError(t, err)
	}
	return a
}

func TestCreateAction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	a, err := env.svc.CreateAction(ctx, newTestAction(""))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, a.Status)
	assert.Equal(t, "AM-26001", a.ActionCode)
	assert.Equal(t, "Type nc", a.TypeName)
	assert.Equal(t, []string{"ana@example.com"}, a.Readers)
	assert.Equal(t, testNow.AddDate(0, 0, 30), *a.AnalysisDueDate)
	assert.Equal(t, testNow.AddDate(0, 0, 75), *a.ImplementationDueDate)
	assert.Equal(t, testNow.AddDate(0, 0, 90), *a.VerificationDueDate)
	assert.Empty(t, a.Comments)
	assert.Empty(t, env.notifier.calls, "drafts notify nobody")

	t.Run("submitted directly for analysis", func(t *testing.T) {
		a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
		require.NoError(t, err)
		assert.Equal(t, "AM-26002", a.ActionCode)
		assert.Equal(t, []string{"pending_analysis@example.com"}, a.Authors)
		require.Len(t, a.Comments, 1)
		assert.Equal(t, CommentSystem, a.Comments[0].Kind)
	})

	t.Run("validation", func(t *testing.T) {
		in := newTestAction("")
		in.Title = " "
		_, err := env.svc.CreateAction(ctx, in)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "title", verr.Field)

		in = newTestAction(StatusFinalized)
		_, err = env.svc.CreateAction(ctx, in)
		require.ErrorAs(t, err, &verr)

		in = newTestAction("")
		in.TypeID = "unknown"
		_, err = env.svc.CreateAction(ctx, in)
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "typeId", verr.Field)
	})
}

func TestDraftToPendingAnalysis(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	draft, err := env.svc.CreateAction(ctx, newTestAction(StatusDraft))
	require.NoError(t, err)
	commentsBefore := len(draft.Comments)

	got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID:           draft.ID,
		Actor:              Person{Email: "ana@example.com"},
		Target:             StatusPendingAnalysis,
		ResponsibleGroupID: strPtr("maintenance@example.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPendingAnalysis, got.Status)
	assert.Equal(t, "maintenance@example.com", got.ResponsibleGroupID)
	assert.Equal(t, []string{"ana@example.com", "pending_analysis@example.com"}, got.Readers)
	assert.Equal(t, []string{"pending_analysis@example.com"}, got.Authors)
	require.Len(t, got.Comments, commentsBefore+1)
	last := got.Comments[len(got.Comments)-1]
	assert.Equal(t, CommentSystem, last.Kind)
	assert.Equal(t, "Notified maintenance@example.com: Draft → Pending Analysis", last.Text)
	assert.Equal(t, []Status{StatusPendingAnalysis}, env.notifier.calls)

	stored, err := env.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, stored.Version)
}

func TestTransitionRejectedBeforeWrite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	draft, err := env.svc.CreateAction(ctx, newTestAction(StatusDraft))
	require.NoError(t, err)

	_, err = env.svc.ApplyTransition(ctx, TransitionCommand{ActionID: draft.ID, Target: StatusPendingClosure, Title: strPtr("changed")})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "ACTION_INVALID_TRANSITION", terr.Code)

	stored, err := env.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.Version, stored.Version)
	assert.Equal(t, draft.Title, stored.Title)

	_, err = env.svc.ApplyTransition(ctx, TransitionCommand{ActionID: "missing", Target: StatusPendingAnalysis})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionConflictsWhenResponsibleFieldsMove(t *testing.T) {
	ctx := context.Background()

	t.Run("responsible group changed concurrently", func(t *testing.T) {
		env := newTestEnv(t)
		draft, err := env.svc.CreateAction(ctx, newTestAction(StatusDraft))
		require.NoError(t, err)

		env.perms.during = func() {
			_, err := env.store.Update(ctx, draft.ID, func(a *Action) error {
				a.ResponsibleGroupID = "other@example.com"
				return nil
			})
			require.NoError(t, err)
		}
		_, err = env.svc.ApplyTransition(ctx, TransitionCommand{ActionID: draft.ID, Target: StatusPendingAnalysis})
		require.ErrorIs(t, err, ErrConflict)

		stored, err := env.svc.Get(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusDraft, stored.Status)
		assert.Equal(t, "other@example.com", stored.ResponsibleGroupID)
	})

	t.Run("unrelated concurrent comment", func(t *testing.T) {
		env := newTestEnv(t)
		draft, err := env.svc.CreateAction(ctx, newTestAction(StatusDraft))
		require.NoError(t, err)

		env.perms.during = func() {
			_, err := env.store.AppendComment(ctx, draft.ID, Comment{ID: "c1", Kind: CommentUser, Text: "meanwhile"})
			require.NoError(t, err)
		}
		got, err := env.svc.ApplyTransition(ctx, TransitionCommand{ActionID: draft.ID, Target: StatusPendingAnalysis})
		require.NoError(t, err)
		assert.Equal(t, StatusPendingAnalysis, got.Status)
	})
}

func TestSameStatusSaveKeepsAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	draft, err := env.svc.CreateAction(ctx, newTestAction(StatusDraft))
	require.NoError(t, err)

	got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID: draft.ID,
		Title:    strPtr("Leaking valve, line 3"),
		Comments: []string{"added detail"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, "Leaking valve, line 3", got.Title)
	assert.Equal(t, draft.Readers, got.Readers)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, CommentUser, got.Comments[0].Kind)
	assert.Empty(t, env.notifier.calls)
}

func TestMissingPermissionRuleKeepsLists(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.perms.missing[StatusPendingVerification] = true

	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)
	before := a.Readers

	got := advance(t, env, a.ID, StatusPendingVerification)
	assert.Equal(t, StatusPendingVerification, got.Status)
	assert.Equal(t, before, got.Readers)
	assert.NotEmpty(t, got.Authors)
}

func TestProposedActionDueDateRollUp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)

	day := func(n int) *time.Time {
		d := testNow.AddDate(0, 0, n)
		return &d
	}
	got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID: a.ID,
		Analysis: &Analysis{Description: "cause", VerificationResponsibleUserEmail: "v@example.com"},
		ProposedActions: []ProposedAction{
			{Description: "replace gasket", DueDate: day(5)},
			{Description: "train staff", DueDate: day(20)},
			{Description: "update procedure", DueDate: day(12)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPendingVerification, got.Status)
	assert.Equal(t, *day(20), *got.ImplementationDueDate)
	assert.Equal(t, *day(35), *got.VerificationDueDate)
	require.Len(t, got.ProposedActions, 3)
	for _, pa := range got.ProposedActions {
		assert.NotEmpty(t, pa.ID)
		assert.Equal(t, ProposedPending, pa.Status)
	}
	require.NotNil(t, got.Analysis.AnalyzedAt)
	assert.Equal(t, "v@example.com", got.ResponsibleParty())
}

func TestPendingClosureSetsDueDateAndCreatorAuthor(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)

	got := advance(t, env, a.ID, StatusPendingClosure)
	require.NotNil(t, got.ClosureDueDate)
	assert.Equal(t, testNow.AddDate(0, 0, 15), *got.ClosureDueDate)
	assert.Equal(t, "ana@example.com", got.ResponsibleParty())
}

func TestNonCompliantClosureSpawnsRemediation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)
	advance(t, env, a.ID, StatusPendingClosure)

	got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID: a.ID,
		Actor:    Person{Email: "ana@example.com"},
		Closure:  &Closure{Notes: "gasket still leaks", IsCompliant: boolPtr(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, got.Status)
	assert.True(t, got.Closure.NonCompliant())
	assert.Equal(t, 1, env.spawner.calls)

	t.Run("compliant closure does not spawn", func(t *testing.T) {
		b, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
		require.NoError(t, err)
		advance(t, env, b.ID, StatusFinalized)
		assert.Equal(t, 1, env.spawner.calls)
	})

	t.Run("finalized is terminal", func(t *testing.T) {
		_, err := env.svc.ApplyTransition(ctx, TransitionCommand{ActionID: a.ID, Target: StatusFinalized})
		var terr *TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "ACTION_TRANSITION_DENIED", terr.Code)
		assert.Equal(t, 1, env.spawner.calls)
	})
}

func TestRemediationFailureKeepsClosure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.spawner.err = errSpawn
	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)
	advance(t, env, a.ID, StatusPendingClosure)

	got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID: a.ID,
		Closure:  &Closure{Notes: "no", IsCompliant: boolPtr(false)},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemediationFailed))
	assert.True(t, errors.Is(err, errSpawn))
	require.NotNil(t, got)
	assert.Equal(t, StatusFinalized, got.Status)

	stored, err := env.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, stored.Status)
}

func TestNarrowCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a, err := env.svc.CreateAction(ctx, newTestAction(StatusPendingAnalysis))
	require.NoError(t, err)
	a, err = env.svc.ApplyTransition(ctx, TransitionCommand{
		ActionID:        a.ID,
		Target:          StatusPendingAnalysis,
		ProposedActions: []ProposedAction{{Description: "replace gasket"}},
	})
	require.NoError(t, err)
	paID := a.ProposedActions[0].ID

	t.Run("proposed action status", func(t *testing.T) {
		got, err := env.svc.Execute(ctx, ProposedActionStatusCommand{ActionID: a.ID, ProposedActionID: paID, Status: ProposedImplemented})
		require.NoError(t, err)
		pa, _ := got.ProposedAction(paID)
		assert.Equal(t, ProposedImplemented, pa.Status)
		assert.Contains(t, got.Comments[len(got.Comments)-1].Text, "marked as implemented")

		again, err := env.svc.UpdateProposedActionStatus(ctx, ProposedActionStatusCommand{ActionID: a.ID, ProposedActionID: paID, Status: ProposedImplemented})
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version)

		_, err = env.svc.UpdateProposedActionStatus(ctx, ProposedActionStatusCommand{ActionID: a.ID, ProposedActionID: "nope", Status: ProposedImplemented})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("resubmitting the list keeps recorded status", func(t *testing.T) {
		got, err := env.svc.ApplyTransition(ctx, TransitionCommand{
			ActionID:        a.ID,
			ProposedActions: []ProposedAction{{ID: paID, Description: "replace gasket"}, {Description: "new step"}},
		})
		require.NoError(t, err)
		pa, _ := got.ProposedAction(paID)
		assert.Equal(t, ProposedImplemented, pa.Status)
		assert.Len(t, got.ProposedActions, 2)
	})

	t.Run("follow toggles", func(t *testing.T) {
		got, err := env.svc.Execute(ctx, FollowCommand{ActionID: a.ID, UserID: "u9"})
		require.NoError(t, err)
		assert.Equal(t, []string{"u9"}, got.Followers)
		got, err = env.svc.ToggleFollow(ctx, FollowCommand{ActionID: a.ID, UserID: "u9"})
		require.NoError(t, err)
		assert.Empty(t, got.Followers)
	})

	t.Run("comment and attachment", func(t *testing.T) {
		got, err := env.svc.Execute(ctx, CommentCommand{ActionID: a.ID, Author: Person{Email: "x@example.com"}, Text: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Comments[len(got.Comments)-1].Text)

		got, err = env.svc.Execute(ctx, AttachmentCommand{ActionID: a.ID, FileName: "photo.jpg", URL: "https://files/1"})
		require.NoError(t, err)
		require.Len(t, got.Attachments, 1)
		assert.NotEmpty(t, got.Attachments[0].ID)

		_, err = env.svc.Execute(ctx, CommentCommand{ActionID: a.ID, Text: ""})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}
