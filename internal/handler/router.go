package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/permission"
	"github.com/mercocamp/agenda-bfa-go/internal/service"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps is everything the router serves.
type Deps struct {
	Session        *session.Session
	LoginPath      string
	Dashboard      *service.Dashboard
	Notifier       *service.Notifier
	Schedules      *service.Schedules
	Ingestion      *service.Ingestion
	HealthChecks   []HealthCheck
	AllowedOrigins []string
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.LoginPath == "" {
		d.LoginPath = "/login"
	}
	logger := d.Logger
	view := d.Schedules.NewView()

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.HealthChecks, logger))
	r.Get("/readyz", readyzHandler())
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Login (public)
		// =============================================
		r.Post("/auth/login", loginHandler(d.Session, d.LoginPath, logger))
		r.Get("/auth/remembered", rememberedUserHandler(d.Session))
		r.Post("/auth/logout", logoutHandler(d.Session, d.LoginPath))
		r.Get("/session", sessionInfoHandler(d.Session, d.LoginPath))

		// Everything below needs a verified credential.
		r.Group(func(r chi.Router) {
			r.Use(GuardMiddleware(d.Session, d.LoginPath, logger))

			r.Get("/permissions", permissionsHandler())

			// =============================================
			// 2. Dashboard
			// =============================================
			r.Group(func(r chi.Router) {
				r.Use(RequireCapability(permission.ViewSchedules, d.LoginPath, logger))
				r.Get("/dashboard", dashboardHandler(d.Dashboard))
				r.Get("/notifications", listNotificationsHandler(d.Notifier))
				r.Delete("/notifications/{id}", dismissNotificationHandler(d.Notifier))
			})

			// =============================================
			// 3. Schedules
			// =============================================
			r.Route("/schedules", func(r chi.Router) {
				r.Use(RequireCapability(permission.ViewSchedules, d.LoginPath, logger))
				r.Get("/", listSchedulesHandler(d.Schedules, d.LoginPath, logger))
				r.Patch("/{id}/status", updateStatusHandler(d.Schedules, d.LoginPath, logger))

				r.Get("/view", viewLoadHandler(view, d.LoginPath, logger))
				r.Put("/view/filters", viewFiltersHandler(view, d.LoginPath, logger))
				r.Delete("/view/filters", viewResetHandler(view, d.LoginPath, logger))
				r.Put("/view/page", viewPageHandler(view, d.LoginPath, logger))
			})

			// =============================================
			// 4. NF-e ingestion wizard
			// =============================================
			r.Route("/wizard", func(r chi.Router) {
				r.Use(RequireCapability(permission.CreateSchedule, d.LoginPath, logger))
				r.Get("/", wizardSnapshotHandler(d.Ingestion))
				r.Post("/", wizardOpenHandler(d.Ingestion))
				r.Delete("/", wizardDiscardHandler(d.Ingestion))
				r.Post("/upload", wizardUploadHandler(d.Ingestion, d.LoginPath, logger))
				r.Post("/next", wizardNextHandler(d.Ingestion, d.LoginPath, logger))
				r.Post("/previous", wizardPreviousHandler(d.Ingestion))
				r.Patch("/items/{index}", wizardEditItemHandler(d.Ingestion, d.LoginPath, logger))
				r.Put("/client", wizardClientHandler(d.Ingestion, d.LoginPath, logger))
				r.Put("/delivery-date", wizardDeliveryDateHandler(d.Ingestion, d.LoginPath, logger))
				r.Post("/submit", wizardSubmitHandler(d.Ingestion, d.LoginPath, logger))
				r.Post("/reset", wizardResetHandler(d.Ingestion))
			})
		})
	})

	return r
}

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "agenda-bfa", Status: "healthy", LastChecked: now},
		}

		overall := "healthy"
		for _, c := range checks {
			start := time.Now()
			err := c.Check(ctx)
			sh := domain.ServiceHealth{
				Name:        c.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				logger.Warn("health check failed", zap.String("service", c.Name), zap.Error(err))
				sh.Status = "degraded"
				sh.Detail = err.Error()
				overall = "degraded"
			}
			services = append(services, sh)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
