package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/auth"
	"github.com/supercheck-io/supercheck/internal/config"
	"github.com/supercheck-io/supercheck/pkg/admission"
	"github.com/supercheck-io/supercheck/pkg/cancel"
	"github.com/supercheck-io/supercheck/pkg/org"
	"github.com/supercheck-io/supercheck/pkg/report"
	"github.com/supercheck-io/supercheck/pkg/run"
	"github.com/supercheck-io/supercheck/pkg/sse"
	"github.com/supercheck-io/supercheck/pkg/tenant"
	"github.com/supercheck-io/supercheck/pkg/testdef"
)

// Server holds the HTTP server dependencies for the api runtime mode (§2).
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated, tenant-scoped /api/v1 sub-router
	Logger    *slog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// Deps bundles the components server routes are mounted against.
type Deps struct {
	OrgStore   *org.Store
	RunStore   *run.Store
	TestStore  *testdef.Store
	ReportStore *report.Store
	Admission  *admission.Controller
	CancelPlane *cancel.Plane
	SSEGateway *sse.Gateway
	Verifier   *auth.TokenVerifier
}

// NewServer creates an HTTP server with middleware, health/metrics endpoints,
// and the authenticated execution-backbone API (§4: admission, cancellation,
// SSE streams).
func NewServer(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, deps Deps) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Project-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle(cfg.MetricsPath, promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	h := &handlers{deps: deps, logger: logger}
	submitLimiter := newTenantRateLimiter(cfg.SubmitRateLimitPerSecond, cfg.SubmitRateLimitBurst)

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier))
		r.Use(tenant.Middleware(deps.OrgStore, tenant.HeaderResolver{}, logger))
		r.Use(auth.RequireAuth)

		r.With(submitLimiter.Middleware).Post("/runs", h.submitRun)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{runId}", h.getRun)
		r.Post("/runs/{runId}/cancel", h.cancelRun)
		r.Get("/events/runs/{runId}", h.streamRun)
		r.Get("/events/tests/{testId}", h.streamTest)
		r.Get("/events/jobs", h.streamJobs)

		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
