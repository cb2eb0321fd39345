package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/authz"
)

// actionResponse wraps an action with non-fatal warnings, e.g. a failed
// remediation after a committed closure.
type actionResponse struct {
	Action   *actions.Action `json:"action"`
	Warnings []string        `json:"warnings,omitempty"`
}

func caller(r *http.Request) (authz.Identity, actions.Person) {
	id, _ := authz.IdentityFromContext(r.Context())
	return id, actions.Person{ID: id.ID, Name: id.Name, Email: id.Email}
}

// loadAction resolves the {actionId} URL parameter, which may be a storage
// id or an AM-YYNNN code, and checks read access.
func (s *Server) loadAction(w http.ResponseWriter, r *http.Request) (*actions.Action, bool) {
	ref := chi.URLParam(r, "actionId")
	var (
		a   *actions.Action
		err error
	)
	if strings.HasPrefix(strings.ToUpper(ref), "AM-") {
		a, err = s.svc.GetByCode(r.Context(), strings.ToUpper(ref))
	} else {
		a, err = s.svc.Get(r.Context(), ref)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	id, _ := caller(r)
	if !s.checker.CanRead(id, a.Readers) {
		// Unreadable actions are reported as missing.
		writeError(w, http.StatusNotFound, "NOT_FOUND", actions.ErrNotFound.Error())
		return nil, false
	}
	return a, true
}

// loadAuthored is loadAction plus an author-list check.
func (s *Server) loadAuthored(w http.ResponseWriter, r *http.Request) (*actions.Action, bool) {
	a, ok := s.loadAction(w, r)
	if !ok {
		return nil, false
	}
	id, _ := caller(r)
	if !s.checker.CanAuthor(id, a.Authors) {
		authz.WriteDenied(w, http.StatusForbidden, "forbidden", "caller is not an author of "+a.ActionCode)
		return nil, false
	}
	return a, true
}

// createAction handles POST /actions. The creator is always the caller; a
// creator in the body is ignored.
func (s *Server) createAction(w http.ResponseWriter, r *http.Request) {
	var in actions.NewAction
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	_, in.Creator = caller(r)
	a, err := s.svc.CreateAction(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// listActions handles GET /actions?status=a,b&typeId=&limit=. Only actions
// the caller can read are returned.
func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter actions.ListFilter
	for _, v := range strings.Split(q.Get("status"), ",") {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		st, err := actions.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
			return
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	filter.TypeID = q.Get("typeId")
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	list, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	id, _ := caller(r)
	visible := make([]*actions.Action, 0, len(list))
	for _, a := range list {
		if s.checker.CanRead(id, a.Readers) {
			visible = append(visible, a)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actions":   visible,
		"totalSize": len(visible),
	})
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAction(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// transition handles POST /actions/{actionId}/transition.
func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAuthored(w, r)
	if !ok {
		return
	}
	var cmd actions.TransitionCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cmd.ActionID = a.ID
	_, cmd.Actor = caller(r)

	updated, err := s.svc.ApplyTransition(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, actions.ErrRemediationFailed) && updated != nil {
			writeJSON(w, http.StatusOK, actionResponse{Action: updated, Warnings: []string{err.Error()}})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: updated})
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAction(w, r)
	if !ok {
		return
	}
	var cmd actions.CommentCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cmd.ActionID = a.ID
	_, cmd.Author = caller(r)
	s.execute(w, r, cmd)
}

func (s *Server) addAttachment(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAuthored(w, r)
	if !ok {
		return
	}
	var cmd actions.AttachmentCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cmd.ActionID = a.ID
	_, cmd.UploadedBy = caller(r)
	s.execute(w, r, cmd)
}

func (s *Server) setProposedActionStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAuthored(w, r)
	if !ok {
		return
	}
	var cmd actions.ProposedActionStatusCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	cmd.ActionID = a.ID
	cmd.ProposedActionID = chi.URLParam(r, "proposedActionId")
	_, cmd.Actor = caller(r)
	s.execute(w, r, cmd)
}

// toggleFollow handles POST /actions/{actionId}/follow for the caller.
func (s *Server) toggleFollow(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAction(w, r)
	if !ok {
		return
	}
	id, _ := caller(r)
	user := id.ID
	if user == "" {
		user = id.Email
	}
	s.execute(w, r, actions.FollowCommand{ActionID: a.ID, UserID: user})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd actions.Command) {
	updated, err := s.svc.Execute(r.Context(), cmd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: updated})
}

// actionAudit handles GET /actions/{actionId}/audit?pageSize=&pageToken=.
func (s *Server) actionAudit(w http.ResponseWriter, r *http.Request) {
	a, ok := s.loadAction(w, r)
	if !ok {
		return
	}
	if s.events == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "audit log is disabled")
		return
	}
	records, next, total, err := s.events.ListByAction(a.ID, pageSize(r), r.URL.Query().Get("pageToken"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":        records,
		"nextPageToken": next,
		"totalSize":     total,
	})
}

func pageSize(r *http.Request) int {
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 20
}
