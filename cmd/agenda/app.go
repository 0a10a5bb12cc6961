package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/config"
	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/handler"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/cache"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/client"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/credstore"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/gateway"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/resilience"
	"github.com/mercocamp/agenda-bfa-go/internal/service"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

// app is the fully wired process: one session context shared by every
// service, created at startup and torn down by close.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	store     *credstore.SQLite
	gateway   *gateway.Gateway
	session   *session.Session
	notifier  *service.Notifier
	dashboard *service.Dashboard
	schedules *service.Schedules
	ingestion *service.Ingestion

	clientsCache *cache.InMemory[[]domain.Client]
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	metrics := observability.NewMetrics()

	// --- Credential store ---
	store, err := credstore.OpenSQLite(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	// --- Gateway ---
	nav := session.NewRedirector(cfg.LoginPath, logger)
	gw := gateway.New(gateway.Options{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Store:      store,
		Navigator:  nav,
		Retry: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		},
		Metrics: metrics,
		Logger:  logger,
	})

	// --- Clients ---
	authClient := client.NewAuthClient(gw, gw.Public())
	scheduleClient := client.NewScheduleClient(gw)
	catalogClient := client.NewCatalogClient(gw)

	// --- Session ---
	sess := session.New(session.Options{
		Store:           store,
		Auth:            authClient,
		Navigator:       nav,
		RenewalInterval: cfg.TokenRenewalInterval,
		Metrics:         metrics,
		Logger:          logger,
	})

	// --- Services ---
	notifier := service.NewNotifier()
	dashboard := service.NewDashboard(scheduleClient, notifier, logger)
	schedules := service.NewSchedules(scheduleClient, sess, sess, notifier, cfg.SchedulesPageSize, logger)
	clientsCache := cache.New[[]domain.Client](cfg.ClientsCacheTTL)
	ingestion := service.NewIngestion(service.IngestionOptions{
		Users:      sess,
		Catalog:    catalogClient,
		Clients:    catalogClient,
		Schedules:  scheduleClient,
		Cache:      clientsCache,
		CloseDelay: cfg.WizardCloseDelay,
		OnCreated: func(s *domain.Schedule) {
			dashboard.Notify(domain.NotifySuccess, "Agendamento criado com sucesso!")
		},
		Metrics: metrics,
		Logger:  logger,
	})

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		store:        store,
		gateway:      gw,
		session:      sess,
		notifier:     notifier,
		dashboard:    dashboard,
		schedules:    schedules,
		ingestion:    ingestion,
		clientsCache: clientsCache,
	}, nil
}

func (a *app) router() http.Handler {
	return handler.NewRouter(handler.Deps{
		Session:   a.session,
		LoginPath: a.cfg.LoginPath,
		Dashboard: a.dashboard,
		Notifier:  a.notifier,
		Schedules: a.schedules,
		Ingestion: a.ingestion,
		HealthChecks: []handler.HealthCheck{
			{Name: "credential-store", Check: a.store.Ping},
			{Name: "schedule-api", Check: a.breakerCheck},
		},
		AllowedOrigins: a.cfg.AllowedOrigins,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
}

func (a *app) breakerCheck(context.Context) error {
	if st := a.gateway.BreakerState(); st == "open" {
		return fmt.Errorf("circuit breaker %s", st)
	}
	return nil
}

func (a *app) close() {
	a.session.Close()
	a.clientsCache.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close credential store", zap.Error(err))
	}
}
