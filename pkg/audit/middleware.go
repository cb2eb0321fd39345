package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/authz"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware records an "api.request" event for every mutating request
// after the handler completes. Writes are best effort.
func Middleware(store *Store, cfg *AuditConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil || !isMutatingRequest(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			outcome := outcomeFromStatus(capture.statusCode)
			if outcome == "denied" && !cfg.LogDenied {
				return
			}

			ctx := r.Context()
			actor := "anonymous"
			if id, ok := authz.IdentityFromContext(ctx); ok && !id.Anonymous() {
				actor = id.Email
				if actor == "" {
					actor = id.ID
				}
			}
			actionID, operation := requestTarget(r.Method, r.URL.Path)
			requestID := middleware.GetReqID(ctx)

			event := &EventRecord{
				ID:         uuid.New().String(),
				EventType:  "api.request",
				Actor:      actor,
				ActionID:   actionID,
				Outcome:    outcome,
				RequestID:  requestID,
				StatusCode: capture.statusCode,
				CreatedAt:  startTime,
				Metadata: map[string]any{
					"method":    r.Method,
					"path":      r.URL.Path,
					"operation": operation,
					"duration":  time.Since(startTime).String(),
				},
			}
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return "denied"
	default:
		return "failure"
	}
}
