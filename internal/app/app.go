package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yachtlog-go/internal/auth"
	"yachtlog-go/internal/browser"
	"yachtlog-go/internal/config"
	"yachtlog-go/internal/logger"
	"yachtlog-go/internal/storage"
	"yachtlog-go/internal/worker"
	"yachtlog-go/internal/yacht"
)

// Application holds all the major components of the client.
type Application struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            *storage.SQLiteStorage // nil with ephemeral storage
	Credentials   auth.CredentialStore
	Session       *browser.LoopbackSession
	Auth          *auth.Controller
	Yachts        *yacht.Client
	WorkerPool    *worker.WorkerPool
	HttpServer    *http.Server
	MetricsServer *http.Server
}

// New creates and initializes a new Application instance and loads the
// persisted authentication state.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewNop()
	}

	creds, db, err := openCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		log.Warn("ephemeral storage enabled, tokens will not survive a restart")
	}

	// Setup: Auth controller
	session := browser.NewLoopbackSession(cfg.OAuth.SessionTimeout.Duration, log.With("component", "browser"))
	controller := auth.NewController(cfg.AuthConfig(), creds, session, &http.Client{}, auth.NewStateHolder(), log.With("component", "auth"))

	// Setup: Yacht API client
	yachts := yacht.NewClient(yacht.Config{
		BaseURL:  cfg.API.BaseURL,
		Timeout:  cfg.API.Timeout.Duration,
		PageSize: cfg.API.PageSize,
	}, controller, log.With("component", "yacht"))

	// Setup: WorkerPool
	pool := worker.NewWorkerPool(worker.Config{
		Name:       "import",
		Workers:    cfg.Worker.NumWorkers,
		QueueSize:  cfg.Worker.QueueSize,
		MaxRetries: cfg.Worker.MaxRetries,
		RetryDelay: worker.DefaultConfig().RetryDelay,
	}, log)

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &Application{
		Config:        cfg,
		Logger:        log,
		DB:            db,
		Credentials:   creds,
		Session:       session,
		Auth:          controller,
		Yachts:        yachts,
		WorkerPool:    pool,
		MetricsServer: metricsServer,
	}

	// Setup: Local API server
	app.HttpServer = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	state := controller.CheckAuth(ctx)
	log.Debug("authentication state loaded", "authenticated", state.IsAuthenticated)

	return app, nil
}

// Start launches the worker pool. With serve set it also starts the local
// API and metrics servers.
func (a *Application) Start(ctx context.Context, serve bool) error {
	a.WorkerPool.Start(ctx)
	if !serve {
		return nil
	}

	for _, srv := range []*http.Server{a.MetricsServer, a.HttpServer} {
		srv := srv
		go func() {
			a.Logger.Info("starting http server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("http server stopped", "addr", srv.Addr, "error", err)
			}
		}()
	}
	return nil
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Debug("stopping application services")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http server shutdown", "error", err)
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("metrics server shutdown", "error", err)
	}

	a.WorkerPool.Stop()

	if a.DB == nil {
		return nil
	}
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// StorageStatus describes the credential store behind the application.
type StorageStatus struct {
	Backend       string `json:"backend"`
	SchemaVersion uint   `json:"schema_version,omitempty"`
	Dirty         bool   `json:"dirty,omitempty"`
}

// Healthy reports whether the schema is usable.
func (s StorageStatus) Healthy() bool {
	return !s.Dirty
}

// StorageStatus reports the backend and, for SQLite, the schema version.
func (a *Application) StorageStatus(ctx context.Context) (StorageStatus, error) {
	if a.DB == nil {
		return StorageStatus{Backend: "memory"}, nil
	}

	m, err := a.DB.GetMigrationStatus(ctx)
	if err != nil {
		return StorageStatus{Backend: "sqlite"}, err
	}
	return StorageStatus{Backend: "sqlite", SchemaVersion: m.Version, Dirty: m.Dirty}, nil
}

// openCredentials builds the credential store. Unless storage is ephemeral
// the returned database must be closed by the caller.
func openCredentials(ctx context.Context, cfg *config.Config) (auth.CredentialStore, *storage.SQLiteStorage, error) {
	if cfg.Storage.Ephemeral {
		return storage.NewMemoryStore(), nil, nil
	}

	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.Storage.DBPath
	dbCfg.MaxOpenConns = cfg.Storage.MaxOpenConns
	dbCfg.MaxIdleConns = min(dbCfg.MaxIdleConns, cfg.Storage.MaxOpenConns)
	if cfg.Storage.BusyTimeout.Duration > 0 {
		dbCfg.BusyTimeout = cfg.Storage.BusyTimeout.Duration
	}
	db, err := storage.OpenDatabase(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	creds, err := storage.NewCredentialStore(db, key)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	return creds, db, nil
}
