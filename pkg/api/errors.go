package api

import (
	"errors"
	"net/http"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Retry   bool   `json:"retryable,omitempty"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Code: code, Message: message})
}

// writeServiceError maps service errors to HTTP statuses: not found 404,
// validation 400, rejected transitions and write conflicts 409.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *actions.ValidationError
	var terr *actions.TransitionError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Code:    "VALIDATION_FAILED",
			Field:   verr.Field,
			Message: verr.Message,
		})
	case errors.As(err, &terr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   http.StatusText(http.StatusConflict),
			Code:    terr.Code,
			From:    string(terr.From),
			To:      string(terr.To),
			Message: terr.Message,
		})
	case errors.Is(err, actions.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, actions.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   http.StatusText(http.StatusConflict),
			Code:    "CONFLICT",
			Retry:   true,
			Message: err.Error(),
		})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
