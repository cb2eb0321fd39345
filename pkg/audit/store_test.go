package audit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/authz"
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
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

func newEvent(actionID, eventType string, at time.Time) *EventRecord {
	return &EventRecord{
		ID:        uuid.New().String(),
		EventType: eventType,
		Actor:     "alice@example.com",
		ActionID:  actionID,
		Outcome:   "success",
		Metadata:  map[string]any{"k": "v"},
		CreatedAt: at,
	}
}

func TestListByActionNewestFirstWithPaging(t *testing.T) {
	store := NewStore(setupTestDB(t))
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(newEvent("a1", "action.transitioned", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, store.Append(newEvent("a2", "action.created", base)))

	page, next, total, err := store.ListByAction("a1", 3, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 3)
	assert.NotEmpty(t, next)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))
	assert.Equal(t, "v", page[0].Metadata["k"])

	rest, next, _, err := store.ListByAction("a1", 3, next)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Empty(t, next)
}

func TestListFilteredByEventType(t *testing.T) {
	store := NewStore(setupTestDB(t))
	now := time.Now()
	require.NoError(t, store.Append(newEvent("a1", "action.created", now)))
	require.NoError(t, store.Append(newEvent("a1", "action.reminder.sent", now)))

	records, _, total, err := store.ListFiltered(ListFilter{EventType: "action.reminder.sent"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "action.reminder.sent", records[0].EventType)
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	store := NewStore(setupTestDB(t))
	rec, err := store.GetByID("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRetentionWorkerPrunesOldEvents(t *testing.T) {
	store := NewStore(setupTestDB(t))
	now := time.Now()
	require.NoError(t, store.Append(newEvent("a1", "action.created", now.AddDate(0, 0, -40))))
	require.NoError(t, store.Append(newEvent("a1", "action.created", now.AddDate(0, 0, -1))))

	w := NewRetentionWorker(store, 30, nil)
	deleted := w.PruneOnce(now)
	assert.Equal(t, int64(1), deleted["audit_events"])

	_, _, total, err := store.ListByAction("a1", 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

type countingPruner struct{ calls int }

func (p *countingPruner) DeleteOlderThan(time.Time) (int64, error) {
	p.calls++
	return 2, nil
}

func TestRetentionWorkerExtraTargets(t *testing.T) {
	w := NewRetentionWorker(nil, 30, nil)
	p := &countingPruner{}
	w.Add("reminder_runs", p, 7)
	w.Add("disabled", &countingPruner{}, 0)

	got := w.PruneOnce(time.Now())
	assert.Equal(t, map[string]int64{"reminder_runs": 2}, got)
	assert.Equal(t, 1, p.calls)
}

func TestMiddlewareRecordsMutations(t *testing.T) {
	store := NewStore(setupTestDB(t))
	cfg := DefaultAuditConfig()

	handler := authz.IdentityMiddleware(nil, nil)(Middleware(store, cfg, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "denied") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		})))

	tests := []struct {
		method, path string
	}{
		{http.MethodPost, "/api/actions/v1/actions/abc/transition"},
		{http.MethodGet, "/api/actions/v1/actions/abc"},
		{http.MethodPost, "/healthz"},
		{http.MethodPost, "/api/actions/v1/actions/abc/denied"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		req.Header.Set("X-User-Email", "alice@example.com")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	records, _, total, err := store.ListFiltered(ListFilter{ActionID: "abc"}, 10, "")
	require.NoError(t, err)
	require.Equal(t, 2, total, "GET and health probes are not audited")

	byOp := map[string]EventRecord{}
	for _, r := range records {
		byOp[fmt.Sprint(r.Metadata["operation"])] = r
	}
	assert.Equal(t, "success", byOp["transition"].Outcome)
	assert.Equal(t, "alice@example.com", byOp["transition"].Actor)
	assert.Equal(t, "denied", byOp["denied"].Outcome)
	assert.Equal(t, http.StatusForbidden, byOp["denied"].StatusCode)
}

func TestMiddlewareSkipsDeniedWhenConfigured(t *testing.T) {
	store := NewStore(setupTestDB(t))
	cfg := &AuditConfig{Enabled: true, LogDenied: false}

	handler := Middleware(store, cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/actions/v1/actions", nil))

	_, _, total, err := store.ListFiltered(ListFilter{}, 10, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRequestTarget(t *testing.T) {
	tests := []struct {
		method, path, wantID, wantOp string
	}{
		{"POST", "/api/actions/v1/actions", "", "create"},
		{"POST", "/api/actions/v1/actions/abc/comments", "abc", "comments"},
		{"PUT", "/api/actions/v1/actions/abc/proposed-actions/p1/status", "abc", "proposed-actions"},
		{"POST", "/api/actions/v1/reminders/scan", "", "scan"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, op := requestTarget(tt.method, tt.path)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantOp, op)
		})
	}
}

func TestAuditConfigFromEnv(t *testing.T) {
	t.Setenv("ACTIONS_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("ACTIONS_AUDIT_LOG_DENIED", "false")

	cfg := AuditConfigFromEnv()
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.False(t, cfg.LogDenied)
	assert.True(t, cfg.Enabled)

	t.Setenv("ACTIONS_AUDIT_RETENTION_DAYS", "-5")
	assert.Equal(t, 365, AuditConfigFromEnv().RetentionDays)
}
