package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gasops/bankbridge/internal/adapters/database/pgsql"
	"github.com/gasops/bankbridge/internal/adapters/secrets"
	"github.com/gasops/bankbridge/internal/adapters/sftp"
	"github.com/gasops/bankbridge/internal/core/ports/repositories"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/core/services"
	"github.com/gasops/bankbridge/internal/filecrypt"
	"github.com/gasops/bankbridge/internal/handlers"
	"github.com/gasops/bankbridge/internal/metrics"
	"github.com/gasops/bankbridge/internal/middleware"
	"github.com/gasops/bankbridge/pkg/config"
	"github.com/gasops/bankbridge/pkg/database"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	roster, err := config.LoadBankRoster(cfg.BankRosterPath)
	if err != nil {
		logger.Error("Failed to load bank roster", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Bank roster loaded", slog.Int("banks", len(roster.All())))

	dbPool, err := database.NewPgxPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()
	logger.Info("Database connection pool established.")

	if err := runMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Error("Failed to apply migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	secretProvider := secrets.NewEnvProvider(roster)
	registry := metrics.NewRegistry()

	dialer := &sftp.SSHDialer{KnownHostsFile: cfg.KnownHostsFile}
	if cfg.KnownHostsFile == "" {
		logger.Warn("SSH_KNOWN_HOSTS_FILE not set; host key checking is disabled")
	}
	poolManager := sftp.NewManager(roster, dialer, secretProvider, sftp.PoolOptions{
		AcquireTimeout:      cfg.PoolAcquireTimeout,
		HealthCheckInterval: cfg.PoolHealthCheckInterval,
	}, logger, registry)
	defer poolManager.Close()

	cipher := filecrypt.NewHandler(secretProvider)

	repos := repositories.RepositoryProvider{
		BatchRepo:    pgsql.NewPgxBatchRepository(dbPool),
		TransferRepo: pgsql.NewPgxTransferRepository(dbPool),
	}

	container := services.NewServiceContainer(repos, roster, poolManager, cipher, registry, services.ContainerConfig{
		Breaker: services.CircuitBreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		},
		Retry: services.RetryConfig{
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			StallAfter: cfg.RetryStallAfter,
		},
		MaxAttempts:   cfg.RetryMaxAttempts,
		QuarantineDir: cfg.QuarantineDir,
	})

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.StructuredLoggingMiddleware(logger), gin.Recovery())
	r.Use(cors.Default())

	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Error("Failed to set trusted proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers.RegisterRoutes(r, cfg, container, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background drain keeps the retry queue moving without operator action.
	go drainLoop(ctx, container, cfg.RetryDrainEvery, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to run", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining in-flight requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("Server stopped")
}

// drainLoop periodically re-drives queued transfer attempts that have become
// eligible for retry.
func drainLoop(ctx context.Context, container *portssvc.ServiceContainer, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainCtx, cancel := context.WithTimeout(ctx, every)
			processed, err := container.Retry.DrainEligible(drainCtx)
			cancel()
			if err != nil {
				logger.Error("Retry queue drain failed", slog.String("error", err.Error()))
				continue
			}
			if processed > 0 {
				logger.Info("Retry queue drained", slog.Int("processed", processed))
			}
		}
	}
}

// runMigrations applies all pending "up" migrations before the server starts
// taking traffic. It uses a temporary database/sql connection via the pgx
// stdlib driver so it stays compatible with the main pool.
func runMigrations(databaseURL string, logger *slog.Logger) error {
	logger.Info("Running database migrations...")

	migrationDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := migrationDB.Close(); cerr != nil {
			logger.Error("Error closing migration DB connection", slog.String("error", cerr.Error()))
		}
	}()
	if err := migrationDB.Ping(); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return err
	}

	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		return upErr
	}

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return sourceErr
	}
	if dbErr != nil {
		return dbErr
	}

	if upErr == migrate.ErrNoChange {
		logger.Info("No new migrations to apply.")
	} else {
		logger.Info("Database migrations applied successfully.")
	}
	return nil
}
