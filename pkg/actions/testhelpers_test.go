package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(setupTestDB(t))
	require.NoError(t, store.AutoMigrate())
	return store
}

// fakePerms grants the creator plus one fixed address per status. Statuses
// listed in missing behave as if no rule existed.
type fakePerms struct {
	missing map[Status]bool
	// during runs once inside the next Compute call.
	during func()
}

func (f *fakePerms) Compute(_ context.Context, a *Action, target Status) (Access, error) {
	if hook := f.during; hook != nil {
		f.during = nil
		hook()
	}
	if target == StatusDraft {
		return Access{Readers: []string{a.Creator.Email}, Authors: []string{a.Creator.Email}, RuleFound: true}, nil
	}
	if f.missing[target] {
		return Access{Readers: a.Readers, Authors: a.Authors}, nil
	}
	owner := string(target) + "@example.com"
	return Access{
		Readers:   []string{a.Creator.Email, owner},
		Authors:   []string{owner},
		RuleFound: true,
	}, nil
}

type fakeMaster struct {
	settings WorkflowSettings
}

func (f *fakeMaster) ClassificationNames(_ context.Context, typeID, categoryID, _ string) (Classification, error) {
	if typeID == "unknown" {
		return Classification{}, &ValidationError{Field: "typeId", Message: "unknown action type"}
	}
	return Classification{TypeName: "Type " + typeID, CategoryName: "Category " + categoryID}, nil
}

func (f *fakeMaster) WorkflowSettings(context.Context) (WorkflowSettings, error) {
	return f.settings, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []Status
}

func (f *fakeNotifier) Transition(_ context.Context, a *Action, from Status) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a.Status)
	return "Notified " + a.ResponsibleParty() + ": " + from.Label() + " → " + a.Status.Label()
}

type fakeSpawner struct {
	calls int
	err   error
}

func (f *fakeSpawner) Spawn(_ context.Context, original *Action) (*Action, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return &Action{ID: "bis", ActionCode: "AM-26999", OriginalActionID: original.ID}, true, nil
}

var errSpawn = errors.New("spawn failed")

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	store    *Store
	notifier *fakeNotifier
	spawner  *fakeSpawner
	perms    *fakePerms
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := setupTestStore(t)
	env := &testEnv{
		store:    store,
		notifier: &fakeNotifier{},
		spawner:  &fakeSpawner{},
		perms:    &fakePerms{missing: map[Status]bool{}},
	}
	env.svc = NewService(store, env.perms, &fakeMaster{settings: DefaultWorkflowSettings()}, env.notifier, nil)
	env.svc.SetRemediationSpawner(env.spawner)
	env.svc.SetClock(func() time.Time { return testNow })
	return env
}

func newTestAction(status Status) NewAction {
	return NewAction{
		Title:              "Leaking valve",
		Description:        "Valve in line 3 leaks",
		TypeID:             "nc",
		CategoryID:         "process",
		Status:             status,
		Creator:            Person{ID: "u1", Name: "Ana", Email: "ana@example.com"},
		ResponsibleGroupID: "ops@example.com",
		CenterID:           "c1",
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }
