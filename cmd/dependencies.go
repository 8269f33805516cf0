package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payout-engine/internal"
	"github.com/frahmantamala/payout-engine/internal/audit"
	auditpg "github.com/frahmantamala/payout-engine/internal/audit/postgres"
	"github.com/frahmantamala/payout-engine/internal/auth"
	"github.com/frahmantamala/payout-engine/internal/batch"
	batchpg "github.com/frahmantamala/payout-engine/internal/batch/postgres"
	"github.com/frahmantamala/payout-engine/internal/core/events"
	"github.com/frahmantamala/payout-engine/internal/monitor"
	"github.com/frahmantamala/payout-engine/internal/notification"
	"github.com/frahmantamala/payout-engine/internal/payment"
	paymentpg "github.com/frahmantamala/payout-engine/internal/payment/postgres"
	"github.com/frahmantamala/payout-engine/internal/paymentgateway"
	"github.com/frahmantamala/payout-engine/internal/retry"
	retrypg "github.com/frahmantamala/payout-engine/internal/retry/postgres"
	"github.com/frahmantamala/payout-engine/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dependencies is the wired object graph shared by the server, worker and one-shot commands.
type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	Gorm    *gorm.DB
	Logger  *slog.Logger
	Bus     *events.EventBus
	Metrics *monitor.Metrics
	Tokens  *auth.JWTTokenService

	Payments  *payment.Service
	Batches   *batch.Service
	Processor *batch.Processor
	Scheduler *retry.Scheduler
	Audit     *audit.Service
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	initLogger(config)
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	bus := events.NewEventBus(log)
	notification.NewNotifier(notification.Config{
		APIKey:       config.Notification.SendGridAPIKey,
		FromAddress:  config.Notification.FromAddress,
		FromName:     config.Notification.FromName,
		AdminAddress: config.Notification.AdminAddress,
	}, log).Subscribe(bus)

	var metrics *monitor.Metrics
	var batchMetrics batch.Metrics
	var retryMetrics retry.Metrics
	if config.Observability.Metrics.Enabled {
		metrics = monitor.NewMetrics()
		batchMetrics = metrics
		retryMetrics = metrics
	}

	// interfaces stay nil without a key so the services report the rail as unconfigured
	var rail batch.Rail
	var charger retry.Charger
	if config.Stripe.SecretKey != "" {
		client := paymentgateway.NewClient(paymentgateway.Config{
			SecretKey:         config.Stripe.SecretKey,
			APIURL:            config.Stripe.APIURL,
			MaxNetworkRetries: config.Stripe.MaxNetworkRetries,
			TransientAttempts: config.Stripe.TransientAttempts,
		}, log)
		rail = client
		charger = client
	} else {
		log.Warn("stripe secret key not configured; STRIPE transfers and charge retries are disabled")
	}

	paymentRepo := paymentpg.NewPaymentRepository(gdb)
	batchRepo := batchpg.NewBatchRepository(gdb)
	retryRepo := retrypg.NewRetryRepository(gdb)
	auditRepo := auditpg.NewAuditRepository(gdb)

	router := payment.NewRouter(config.Stripe.TransferDescription)

	return &Dependencies{
		Config:  config,
		DB:      db,
		Gorm:    gdb,
		Logger:  log,
		Bus:     bus,
		Metrics: metrics,
		Tokens:  auth.NewJWTTokenService(config.Security.JWTSecret, config.Security.AccessTokenDuration),

		Payments:  payment.NewService(paymentRepo, log),
		Batches:   batch.NewService(batchRepo, log),
		Processor: batch.NewProcessor(batchRepo, router, rail, bus, batchMetrics, config.Processor.ClaimLease, log),
		Scheduler: retry.NewScheduler(retryRepo, charger, bus, retryMetrics, retry.Config{
			RetryDelay: config.Retry.RetryDelay,
			BatchSize:  config.Retry.BatchSize,
			ClaimLease: config.Retry.ClaimLease,
		}, log),
		Audit: audit.NewService(auditRepo, log),
	}, nil
}

// Close drains in-flight event handlers then releases the pool.
func (d *Dependencies) Close(ctx context.Context) {
	if err := d.Bus.Wait(ctx); err != nil {
		d.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers gorm over the pooled connection so both share one pool.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
