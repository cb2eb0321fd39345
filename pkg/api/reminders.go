package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/reminders"
)

// scanReminders handles POST /reminders/scan?dryRun=true|false. dryRun
// defaults to false.
func (s *Server) scanReminders(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "dryRun must be true or false")
			return
		}
		dryRun = b
	}

	id, _ := caller(r)
	requestedBy := id.Email
	if requestedBy == "" {
		requestedBy = id.ID
	}
	run, res, err := s.reminders.Trigger(r.Context(), reminders.TriggerManual, dryRun, requestedBy)
	if err != nil && run == nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"run":    run,
		"result": res,
	})
}

// listReminderRuns handles GET /reminders/runs?pageSize=&pageToken=.
func (s *Server) listReminderRuns(w http.ResponseWriter, r *http.Request) {
	runs, next, err := s.reminders.Runs().List(pageSize(r), r.URL.Query().Get("pageToken"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":          runs,
		"nextPageToken": next,
	})
}

func (s *Server) getReminderRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	run, err := s.reminders.Runs().Get(runID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "reminder run "+strconv.Quote(runID)+" not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
