package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"lending/internal/access"
	"lending/internal/api"
	"lending/internal/audit"
	"lending/internal/catalog"
	"lending/internal/config"
	"lending/internal/ledger"
	"lending/internal/members"
	"lending/internal/notify"
	"lending/internal/rates"
	"lending/internal/storage"
	"lending/internal/storage/ch"
	"lending/internal/storage/pg"
	"lending/internal/storage/stubs"
	"lending/internal/validation"
)

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	db     storage.Storage
	mirror *ch.ClickHouseDB
	sinks  []audit.Sink
	server *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if envErr != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting lending service...")

	ctx := context.Background()

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	if err := app.initSinks(ctx); err != nil {
		app.closeStores()
		return nil, err
	}

	handler, err := app.initServices(ctx)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	app.initHTTPServer(handler)

	return app, nil
}

// initDatabase initializes the transactional store
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to Postgres", zap.Int32("max_conns", a.config.DatabaseMaxConns))
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.DatabaseURL, a.config.DatabaseMaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		db = postgresDB
	}

	// Initialize database schema
	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initSinks sets up the optional audit mirror and notifier
func (a *App) initSinks(ctx context.Context) error {
	if a.config.ClickHouseHost != "" {
		a.logger.Info("Connecting to ClickHouse audit mirror",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.Bool("tls", a.config.ClickHouseUseTLS))

		mirror, err := ch.NewClickHouseDB(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.mirror = mirror
		if err := mirror.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		a.sinks = append(a.sinks, mirror)
	}

	if a.config.TelegramToken != "" {
		notifier, err := notify.NewTelegramNotifier(a.config.TelegramToken, a.config.TelegramChatID, a.config.TelegramActions, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create Telegram notifier: %w", err)
		}
		a.sinks = append(a.sinks, notifier)
	}

	return nil
}

// initServices wires the core services and returns the HTTP handler
func (a *App) initServices(ctx context.Context) (http.Handler, error) {
	guard := access.NewGuard()
	v := validation.New()
	auditLog := audit.New(a.db, a.logger, audit.WithSinks(a.sinks...))

	source := rates.NewCache(rates.NewClient(a.config.IndicatorBaseURL, a.config.IndicatorTimeout), time.Now)

	memberSvc := members.NewService(a.db, guard, auditLog, v, a.logger, a.config.BcryptCost)
	catalogSvc := catalog.NewService(a.db, guard, auditLog, v, a.logger)
	ledgerSvc := ledger.NewService(a.db, guard, auditLog, source, a.logger,
		ledger.WithFinePerDay(a.config.FinePerDay()),
		ledger.WithIndicator(a.config.IndicatorCode))

	if a.config.AdminConfigured() {
		id, err := memberSvc.EnsureAdmin(ctx, a.config.AdminName, a.config.AdminEmail, a.config.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to create admin account: %w", err)
		}
		a.logger.Info("Admin account ready", zap.Int64("member_id", id))
	}

	return api.NewServer(catalogSvc, ledgerSvc, memberSvc, auditLog, guard, a.logger).Handler(), nil
}

// initHTTPServer initializes the HTTP server for the API
func (a *App) initHTTPServer(handler http.Handler) {
	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run blocks until SIGINT or SIGTERM, then shuts down
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal
	<-sigChan

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	err := a.closeStores()
	if err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	_ = a.logger.Sync()
	return err
}

func (a *App) closeStores() error {
	var errs []error
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
