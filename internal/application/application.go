package application

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"custodia/internal/backup"
	"custodia/internal/logging"

	_ "github.com/go-sql-driver/mysql"
)

// Application wires the configured storage backend, the artifact pipeline,
// the component services, the orchestrator, and the restore service into one
// ready-to-run engine.
type Application struct {
	Config       *backup.SystemConfig
	Orchestrator *backup.BackupOrchestrator
	Restore      *backup.RestoreService
	Retention    *backup.RetentionManager
	Manifests    *backup.ManifestStore
	Storage      backup.StorageBackend

	db     *sql.DB
	logger *logging.Logger
}

// Options adjusts how the application is assembled
type Options struct {
	LogLevel  logging.LogLevel
	LogFile   string
	LogFormat string

	// Vault optionally supplies externally managed secrets to configuration backups
	Vault backup.SecretVault

	// SkipDatabase leaves the database component unwired for deployments
	// that only back up files and configuration.
	SkipDatabase bool
}

// New assembles an application from validated configuration
func New(ctx context.Context, config *backup.SystemConfig, opts Options) (*Application, error) {
	if opts.LogLevel == "" {
		opts.LogLevel = logging.LogLevelNormal
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   opts.LogLevel,
		Format:  opts.LogFormat,
		LogFile: opts.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	storage, err := backup.NewStorageBackendFactory().CreateStorageBackend(ctx, config.Storage)
	if err != nil {
		return nil, err
	}

	scratch := config.Restore.ScratchDir
	pipeline := backup.NewArtifactPipeline(config.Compression, &config.Encryption, config.Orchestrator.WorkerPoolSize)
	manifests := backup.NewManifestStore(storage, scratch)
	monitor := backup.NewLoggingMonitor(logger)

	var db *sql.DB
	var services []backup.ComponentService

	if !opts.SkipDatabase {
		db, err = sql.Open("mysql", config.Database.DSN())
		if err != nil {
			return nil, backup.NewDependencyError("failed to open database connection", err)
		}
		services = append(services,
			backup.NewDatabaseBackupService(db, &config.Database, storage, manifests, pipeline, scratch, logger))
	}

	services = append(services,
		backup.NewFileBackupService(&config.Files, storage, manifests, pipeline, scratch, logger),
		backup.NewConfigBackupService(&config.ConfigScan, opts.Vault, storage, manifests, pipeline, scratch, logger),
	)

	validator := backup.NewBackupValidator(storage, pipeline, scratch, logger)
	retentionMgr := backup.NewRetentionManager(manifests, &config.Retention, monitor, logger)
	orchestrator := backup.NewBackupOrchestrator(&config.Orchestrator, &config.Retention,
		services, validator, retentionMgr, monitor, logger)

	preflight := backup.NewPreflightChecker(storage, pipeline, &config.Restore, db, logger)
	restore := backup.NewRestoreService(services, manifests, preflight, &config.Restore,
		&config.Retention, monitor, logger)

	return &Application{
		Config:       config,
		Orchestrator: orchestrator,
		Restore:      restore,
		Retention:    retentionMgr,
		Manifests:    manifests,
		Storage:      storage,
		db:           db,
		logger:       logger,
	}, nil
}

// Logger returns the application logger
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// HandleSignals stops the orchestrator on SIGINT or SIGTERM. The returned
// context is cancelled once a signal arrives.
func (app *Application) HandleSignals(ctx context.Context) context.Context {
	signalCtx, cancel := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		app.logger.WithField("signal", sig.String()).Info("Received shutdown signal")
		if err := app.Orchestrator.Stop(ctx); err != nil {
			app.logger.Errorf("Orchestrator stop: %v", err)
		}
		cancel()
	}()

	return signalCtx
}

// Close releases held resources
func (app *Application) Close() error {
	if app.db != nil {
		return app.db.Close()
	}
	return nil
}
