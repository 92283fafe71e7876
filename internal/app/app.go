// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/appreciatorme/travel-ops/internal/config"
	"github.com/appreciatorme/travel-ops/internal/domain"
	"github.com/appreciatorme/travel-ops/internal/identity"
	"github.com/appreciatorme/travel-ops/internal/notifications"
	notificationspostgres "github.com/appreciatorme/travel-ops/internal/notifications/postgres"
	"github.com/appreciatorme/travel-ops/internal/notifications/push"
	"github.com/appreciatorme/travel-ops/internal/notifications/whatsapp"
	"github.com/appreciatorme/travel-ops/internal/pkg/ctxlog"
	"github.com/appreciatorme/travel-ops/internal/pkg/httputil"
	"github.com/appreciatorme/travel-ops/internal/pkg/metrics"
	"github.com/appreciatorme/travel-ops/internal/pkg/postgres"
	"github.com/appreciatorme/travel-ops/internal/trips"
	tripspostgres "github.com/appreciatorme/travel-ops/internal/trips/postgres"
	"github.com/appreciatorme/travel-ops/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router := app.setupRouter(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notifications.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(ctx context.Context) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	notificationsRepo := notificationspostgres.NewRepository(a.db)

	var chatSender notifications.ChatSender
	if a.config.Notifications.WhatsApp.Enabled {
		chatSender = whatsapp.NewSender(whatsapp.Config{
			AccessToken:   a.config.Notifications.WhatsApp.AccessToken,
			PhoneNumberID: a.config.Notifications.WhatsApp.PhoneNumberID,
			BaseURL:       a.config.Notifications.WhatsApp.BaseURL,
			Timeout:       a.config.Notifications.WhatsApp.Timeout,
			RateLimit:     rate.Limit(a.config.Notifications.WhatsApp.RateLimit),
		})
	} else {
		slog.Warn("whatsapp sender is disabled: chat deliveries will be skipped")
	}

	var pushSender notifications.PushSender
	if a.config.Notifications.Push.Enabled {
		pushSender = push.NewSender(push.Config{
			ProjectID: a.config.Notifications.Push.ProjectID,
			BaseURL:   a.config.Notifications.Push.BaseURL,
			Timeout:   a.config.Notifications.Push.Timeout,
		},
			notificationspostgres.NewPushTokenStore(a.db),
			push.StaticTokenSource(a.config.Notifications.Push.AccessToken),
		)
	} else {
		slog.Warn("push sender is disabled: push deliveries will be skipped")
	}

	renderer := notifications.NewRenderer(notifications.RendererConfig{
		Language: a.config.Notifications.Language,
	})

	liveLinks := notificationspostgres.NewLiveLinkResolver(a.db, a.config.Notifications.Queue.ShareTTL)

	engine := notifications.NewEngine(notifications.EngineConfig{
		MaxBatch:    a.config.Notifications.Queue.MaxBatch,
		MaxAttempts: a.config.Notifications.Queue.MaxAttempts,
		Backoff: notifications.RetryPolicy{
			Base: a.config.Notifications.Queue.InitialBackoff,
			Max:  a.config.Notifications.Queue.MaxBackoff,
		},
		AppURL: a.config.Notifications.AppURL,
	}, notificationsRepo, renderer, chatSender, pushSender, liveLinks)

	go a.collectQueueMetrics(ctx, notificationsRepo)

	notificationsService := notifications.NewService(notificationsRepo)
	authorizer := notifications.NewRunAuthorizer(notifications.AuthConfig{
		CronSecret:     a.config.Auth.CronSecret,
		ServiceRoleKey: a.config.Auth.ServiceRoleKey,
		JWTSecret:      a.config.Auth.JWTSecret,
	})
	notificationsHandler := notifications.NewHandler(notificationsService, engine, authorizer)

	jwtAuth := identity.NewAuthenticator(identity.Config{
		SecretKey: a.config.Auth.JWTSecret,
	})

	tripsRepo := tripspostgres.NewRepository(a.db)
	tripsService := trips.NewService(tripsRepo, notificationsService)
	tripsHandler := trips.NewHandler(tripsService)

	r.Route("/api/v1", func(r chi.Router) {
		// The run trigger authenticates itself (cron secret, HMAC
		// signature, service key, or admin JWT).
		r.Post("/notifications/queue/run", notificationsHandler.RunQueue)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(jwtAuth))

			tripsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))

				r.Post("/notifications", notificationsHandler.EnqueueNotification)
				tripsHandler.RegisterAdminRoutes(r)

				r.Route("/admin", func(r chi.Router) {
					notificationsHandler.RegisterAdminRoutes(r)
				})
			})
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
