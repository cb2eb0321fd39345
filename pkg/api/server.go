// Package api exposes the improvement-actions workflow over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/audit"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/authz"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/reminders"
)

// BasePath is the prefix of every API route.
const BasePath = "/api/actions/v1"

// Options wires the server's collaborators. Only Service is required.
type Options struct {
	Service     *actions.Service
	Reminders   *reminders.Runner
	Events      *audit.Store
	AuditConfig *audit.AuditConfig
	JWTParser   *authz.JWTParser
	Checker     *authz.Checker
	DB          *gorm.DB
	Logger      *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	svc       *actions.Service
	reminders *reminders.Runner
	events    *audit.Store
	auditCfg  *audit.AuditConfig
	jwt       *authz.JWTParser
	checker   *authz.Checker
	db        *gorm.DB
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := opts.Checker
	if checker == nil {
		checker = authz.NewChecker(authz.AuthzModeNone)
	}
	return &Server{
		svc:       opts.Service,
		reminders: opts.Reminders,
		events:    opts.Events,
		auditCfg:  opts.AuditConfig,
		jwt:       opts.JWTParser,
		checker:   checker,
		db:        opts.DB,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Routes builds the router with the common middleware stack.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Name", "X-User-Email", "X-User-Groups"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authz.IdentityMiddleware(s.jwt, s.logger))
	if s.events != nil && s.auditCfg != nil && s.auditCfg.Enabled {
		r.Use(audit.Middleware(s.events, s.auditCfg, s.logger))
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Route(BasePath, func(r chi.Router) {
		r.Use(authz.RequireIdentity(s.checker))

		r.Post("/actions", s.createAction)
		r.Get("/actions", s.listActions)
		r.Route("/actions/{actionId}", func(r chi.Router) {
			r.Get("/", s.getAction)
			r.Post("/transition", s.transition)
			r.Post("/comments", s.addComment)
			r.Post("/attachments", s.addAttachment)
			r.Put("/proposed-actions/{proposedActionId}/status", s.setProposedActionStatus)
			r.Post("/follow", s.toggleFollow)
			r.Get("/audit", s.actionAudit)
		})

		if s.reminders != nil {
			r.Post("/reminders/scan", s.scanReminders)
			r.Get("/reminders/runs", s.listReminderRuns)
			r.Get("/reminders/runs/{runId}", s.getReminderRun)
		}
		if s.events != nil {
			r.Mount("/audit", audit.Router(s.events))
		}
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports whether the database answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := map[string]string{"status": "not_configured"}
	status := http.StatusOK
	if s.db != nil {
		dbStatus["status"] = "up"
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	overall := "ready"
	if status != http.StatusOK {
		overall = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status":   overall,
		"database": dbStatus,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}
