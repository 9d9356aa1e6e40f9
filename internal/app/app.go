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

	"github.com/crewdesk/crewdesk/internal/config"
	"github.com/crewdesk/crewdesk/internal/notifications"
	"github.com/crewdesk/crewdesk/internal/notifications/email"
	notificationspostgres "github.com/crewdesk/crewdesk/internal/notifications/postgres"
	"github.com/crewdesk/crewdesk/internal/notifications/push"
	"github.com/crewdesk/crewdesk/internal/notifications/sms"
	"github.com/crewdesk/crewdesk/internal/pkg/ctxlog"
	"github.com/crewdesk/crewdesk/internal/pkg/httputil"
	"github.com/crewdesk/crewdesk/internal/pkg/metrics"
	"github.com/crewdesk/crewdesk/internal/pkg/postgres"
	"github.com/crewdesk/crewdesk/internal/pkg/redisconn"
	"github.com/crewdesk/crewdesk/internal/queue"
	queuepostgres "github.com/crewdesk/crewdesk/internal/queue/postgres"
	"github.com/crewdesk/crewdesk/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redislib "github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redislib.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	service       *notifications.Service
}

// New creates a new application instance: it connects to the database,
// applies pending migrations, wires the queue and the delivery
// pipeline, and builds the HTTP servers.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

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

	if cfg.Database.MigrationsPath != "" {
		if err := runMigrations(cfg.Database.MigrationsPath, cfg.Database.URL); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setup(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup application: %w", err)
	}

	app.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              cfg.Server.MetricsAddr,
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
	go func() {
		a.logger.Info("starting metrics server", "addr", a.config.Server.MetricsAddr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server", "addr", a.config.Server.Addr)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application: it stops accepting
// HTTP traffic, drains the delivery workers, then closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

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

	if a.service != nil {
		drain := a.config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < drain {
				drain = remaining
			}
		}
		if err := a.service.Close(drain); err != nil {
			errs = append(errs, fmt.Errorf("close notification service: %w", err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Service returns the notification service. Used in tests.
func (a *App) Service() *notifications.Service {
	return a.service
}

// DB returns the database pool. Used in tests.
func (a *App) DB() *pgxpool.Pool {
	return a.db
}

func (a *App) setup(ctx context.Context) (*chi.Mux, error) {
	notificationQueue := queuepostgres.New(a.db, queue.Config{
		MaxAttempts:        a.config.Notifications.Queue.MaxAttempts,
		InitialBackoff:     a.config.Notifications.Queue.InitialBackoff,
		MaxBackoff:         a.config.Notifications.Queue.MaxBackoff,
		BackoffMultiplier:  a.config.Notifications.Queue.BackoffMultiplier,
		RateLimit:          a.config.Notifications.Queue.RateLimit,
		RateWindow:         a.config.Notifications.Queue.RateWindow,
		ClaimHeartbeat:     a.config.Notifications.Queue.ClaimHeartbeat,
		CompletedRetention: a.config.Notifications.Queue.CompletedRetention,
		CompletedCap:       a.config.Notifications.Queue.CompletedCap,
	}, queue.SystemClock{})

	repo := notificationspostgres.NewRepository(a.db)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	transports, err := a.buildTransports(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher := notifications.NewDispatcher(repo, repo, repo, renderer, transports...)

	worker := notifications.NewWorker(notifications.WorkerConfig{
		NumWorkers:   a.config.Notifications.Worker.NumWorkers,
		PollInterval: a.config.Notifications.Worker.PollInterval,
	}, notificationQueue, dispatcher)
	worker.Start(ctx)

	a.service = notifications.NewService(notificationQueue, worker)

	go a.collectQueueMetrics(ctx)

	handler := notifications.NewHandler(a.service)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.Server.CORSOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	return r, nil
}

// buildTransports constructs the enabled channel transports. A channel
// left disabled here is reported per delivery by the dispatcher, so a
// partially configured service still runs.
func (a *App) buildTransports(ctx context.Context) ([]notifications.Transport, error) {
	var transports []notifications.Transport

	if a.config.Notifications.Email.Enabled {
		emailTransport, err := email.NewTransport(email.Config{
			SMTPHost:     a.config.Notifications.Email.SMTPHost,
			SMTPPort:     a.config.Notifications.Email.SMTPPort,
			SMTPUser:     a.config.Notifications.Email.SMTPUser,
			SMTPPassword: a.config.Notifications.Email.SMTPPassword,
			FromAddress:  a.config.Notifications.Email.FromAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("create email transport: %w", err)
		}
		transports = append(transports, emailTransport)
	} else {
		slog.Warn("email transport is disabled: email deliveries will be recorded as failed")
	}

	if a.config.Notifications.SMS.Enabled {
		smsTransport, err := sms.NewTransport(sms.Config{
			APIURL:    a.config.Notifications.SMS.APIURL,
			APIKey:    a.config.Notifications.SMS.APIKey,
			From:      a.config.Notifications.SMS.From,
			RateLimit: a.config.Notifications.SMS.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create sms transport: %w", err)
		}
		transports = append(transports, smsTransport)
	} else {
		slog.Warn("sms transport is disabled: sms deliveries will be recorded as failed")
	}

	if a.config.Notifications.Push.Enabled {
		redisClient, err := redisconn.Connect(ctx, redisconn.Config{
			URL:            a.config.Redis.URL,
			ConnectTimeout: a.config.Redis.ConnectTimeout,
			ConnectRetries: a.config.Redis.ConnectRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = redisClient

		transports = append(transports, push.NewBroadcaster(redisClient, push.Config{
			ChannelPrefix: a.config.Notifications.Push.ChannelPrefix,
		}))
	}

	return transports, nil
}

func runMigrations(path, databaseURL string) error {
	migrator, err := migrate.New("file://"+path, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer migrator.Close()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	slog.Info("migrations applied", "path", path)
	return nil
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

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.service.Stats(ctx)
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
