package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterListsAndGetsEvents(t *testing.T) {
	store := NewStore(setupTestDB(t))
	base := time.Now().Add(-time.Hour)
	created := newEvent("a1", "action.created", base)
	require.NoError(t, store.Append(created))
	require.NoError(t, store.Append(newEvent("a1", "action.transitioned", base.Add(time.Minute))))
	require.NoError(t, store.Append(newEvent("a2", "action.reminder.sent", base.Add(2*time.Minute))))

	router := Router(store)

	t.Run("filter by action and type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?actionId=a1&eventType=action.created", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Events    []EventRecord `json:"events"`
			TotalSize int           `json:"totalSize"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, 1, body.TotalSize)
		require.Len(t, body.Events, 1)
		assert.Equal(t, created.ID, body.Events[0].ID)
	})

	t.Run("page size", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?pageSize=2", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Len(t, body["events"], 2)
		assert.NotEmpty(t, body["nextPageToken"])
		assert.EqualValues(t, 3, body["totalSize"])
	})

	t.Run("get by id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/"+created.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got EventRecord
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, "action.created", got.EventType)
		assert.Equal(t, "a1", got.ActionID)
	})

	t.Run("missing event", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not found")
	})
}
