// Package api mounts the form-sync HTTP surface: the submission webhook,
// template administration, ledger queries, health and metrics.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/derickjoseph8/UPG-System-sub000/pkg/authz"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/forms"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ingest"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/ledger"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/metrics"
	"github.com/derickjoseph8/UPG-System-sub000/pkg/syncer"
)

// BasePath prefixes every form-sync API route.
const BasePath = "/api/formsync/v1"

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	DB           *gorm.DB
	Templates    *forms.TemplateStore
	SyncLogs     *syncer.LogStore
	Receipts     *ledger.ReceiptStore
	Submissions  *ledger.SubmissionStore
	Orchestrator *syncer.Orchestrator
	Puller       *ingest.Puller
	Pipeline     *ingest.Pipeline
	Webhook      *ingest.WebhookConfig
	Metrics      *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer  prometheus.Gatherer
	Extractor authz.Extractor
	Logger    *slog.Logger

	startedAt time.Time
	ready     atomic.Bool
}

// SetReady flips /readyz once startup work (migrations) is complete.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router creates the HTTP handler for all routes.
func (s *Server) Router() chi.Router {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", authz.RoleHeader, authz.UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route(BasePath, func(r chi.Router) {
		// The webhook authenticates by signature, not by caller identity.
		if s.Pipeline != nil {
			r.Post("/webhooks/submissions", ingest.WebhookHandler(s.Pipeline, s.Webhook, s.Metrics, s.Logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(authz.IdentityMiddleware(s.Extractor))
			operator := authz.RequireRole(authz.RoleOperator)

			r.Get("/templates", ListTemplatesHandler(s.Templates))
			r.Get("/templates/{id}", GetTemplateHandler(s.Templates, s.Submissions))
			r.Get("/templates/{id}/schema", TemplateSchemaHandler(s.Templates))
			r.Get("/templates/{id}/sync-logs", ListSyncLogsHandler(s.SyncLogs))
			r.With(operator).Post("/templates", CreateTemplateHandler(s.Templates))
			r.With(operator).Put("/templates/{id}", UpdateTemplateHandler(s.Templates))
			r.With(operator).Post("/templates/{id}:activate", ActivateTemplateHandler(s.Templates, s.Orchestrator, s.Logger))
			r.With(operator).Post("/templates/{id}:archive", ArchiveTemplateHandler(s.Templates))
			r.With(operator).Post("/templates/{id}:sync", SyncTemplateHandler(s.Orchestrator))
			r.With(operator).Post("/templates/{id}:ensure-synced", EnsureSyncedHandler(s.Orchestrator))
			r.With(operator).Post("/templates/{id}:pull", PullSubmissionsHandler(s.Puller))

			r.Get("/sync-logs", ListAllSyncLogsHandler(s.SyncLogs))
			r.Get("/receipts", ListReceiptsHandler(s.Receipts))
			r.Get("/receipts/{externalId}", GetReceiptHandler(s.Receipts))
			r.Get("/submissions", ListSubmissionsHandler(s.Submissions))
			r.Get("/submissions/{externalId}", GetSubmissionHandler(s.Submissions))
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports ready once startup finished and the database answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	allReady := s.ready.Load()

	dbStatus := map[string]string{"status": "up"}
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			dbStatus["status"] = "down"
			dbStatus["error"] = err.Error()
			allReady = false
		}
	} else {
		dbStatus["status"] = "not_configured"
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"database": dbStatus,
		"startup":  map[string]bool{"complete": s.ready.Load()},
	})
}
