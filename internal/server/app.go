package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"payment-orchestrator/internal/config"
	"payment-orchestrator/internal/domain"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/mailer"
	"payment-orchestrator/internal/repository"
	"payment-orchestrator/internal/retry"
	"payment-orchestrator/internal/service"
)

// App holds the wired services shared by the HTTP server and the CLI.
type App struct {
	DB        *sql.DB
	Ledger    domain.Ledger
	Payments  *service.PaymentService
	Easypaisa *service.EasypaisaService
	Batches   *service.BatchService
}

// NewApp opens the ledger selected by cfg and wires the services over it.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{}

	// Initialize store (Unit of Work)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		app.Ledger = repository.NewMemoryStore()
		logger.Info("Using in-memory ledger")
	case config.StoreDriverPostgres, "":
		db, err := openDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		app.DB = db
		app.Ledger = repository.NewStore(db, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	// Every downstream client shares one retry and breaker configuration
	opts := gateway.Options{
		Policy: retry.Policy{
			Timeout:    cfg.RetryTimeout,
			MaxRetries: cfg.RetryMaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			Logger:     logger,
		},
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
		Logger:             logger,
	}

	// Initialize gateways
	gateways := service.Gateways{
		Wallet: gateway.NewWallet(cfg.WalletEndpoint, opts),
		Users:  gateway.NewUsers(cfg.UserEndpoint, opts),
		Sadad: gateway.NewSadad(cfg.SadadEndpoint, gateway.SadadCredentials{
			Username:         cfg.SadadUser,
			Password:         cfg.SadadPassword,
			EntityActivityID: cfg.SadadEntityActivityID,
		}, opts),
		Lending:  gateway.NewLending(cfg.LendingEndpoint, opts),
		Notifier: gateway.NewNotifier(cfg.OwnerEndpoint, cfg.NotificationEndpoint, cfg.ServiceToken, opts),
	}

	// Initialize services
	app.Payments = service.NewPaymentService(app.Ledger, gateways, service.Settings{
		SadadIntentExpiry: cfg.SadadIntentExpiry,
		TopupIntentTTL:    cfg.TopupIntentTTL,
	}, logger)

	app.Easypaisa = service.NewEasypaisaService(app.Payments, service.EasypaisaCredentials{
		Username:     cfg.EasypaisaUsername,
		Password:     cfg.EasypaisaPassword,
		BankMnemonic: cfg.EasypaisaBankMnemonic,
	})

	// Batch reports go out by SES only when a sender is configured
	var reporter service.Reporter
	if cfg.ReportSender != "" {
		m, err := mailer.New(ctx, cfg.AWSRegion, cfg.ReportSender, cfg.ReportCCEmails, logger)
		if err != nil {
			logger.Warn("Batch reports disabled", "error", err)
		} else {
			reporter = m
		}
	}
	app.Batches = service.NewBatchService(app.Payments, reporter, cfg.PrevalidateSize, logger)

	return app, nil
}

func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test database connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Successfully connected to database")

	// Apply embedded migrations
	if cfg.DBAutoMigrate {
		if err := repository.Migrate(db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close waits for background batches and releases the database.
func (a *App) Close() error {
	a.Batches.Wait()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
