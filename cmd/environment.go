package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"crm-backup/internal/audit"
	"crm-backup/internal/backup"
	"crm-backup/internal/config"
	"crm-backup/internal/database"
	"crm-backup/internal/display"
	"crm-backup/internal/logging"
	"crm-backup/internal/schema"
)

// connectMode selects how a command reaches the database
type connectMode int

const (
	// connectNone never opens a handle
	connectNone connectMode = iota
	// connectLazy opens a handle that connects on first use
	connectLazy
	// connectNow connects and pings before the command runs
	connectNow
)

// environment holds the collaborators shared by the commands
type environment struct {
	cfg      *config.Config
	logger   *logging.Logger
	colors   display.ColorSystem
	db       *sql.DB
	dbSvc    *database.Service
	registry *prometheus.Registry
	tables   *schema.Registry
	service  *backup.Service
	closers  []io.Closer
}

// newEnvironment loads the configuration and builds the logger and colors
func newEnvironment() (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	colors := display.NewPlainColorSystem()
	if !noColor {
		colors = display.NewColorSystem(os.Stdout, display.GetThemeByName(theme))
	}

	return &environment{
		cfg:    cfg,
		logger: logger,
		colors: colors,
		dbSvc:  database.NewService(database.WithLogger(logger), database.WithConnectionTimeout(cfg.Database.Timeout)),
	}, nil
}

// renderer writes reports to stdout in format
func (e *environment) renderer(format string) (*display.Renderer, error) {
	f, err := display.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return display.NewRenderer(os.Stdout, f, e.colors), nil
}

// requireKey fails when no artifact secret is configured
func (e *environment) requireKey() error {
	if e.cfg.EncryptionSecret() == "" {
		return fmt.Errorf("%w: set %s", backup.NewMissingKeyError(), e.cfg.Backup.EncryptionKeyEnv)
	}
	return nil
}

// backupService wires the backup pipeline to the database, audit recorders and metrics
func (e *environment) backupService(ctx context.Context, mode connectMode) (*backup.Service, error) {
	if e.service != nil {
		return e.service, nil
	}

	var err error
	switch mode {
	case connectNow:
		e.db, err = e.dbSvc.Connect(ctx, e.cfg.Database)
	case connectLazy:
		e.db, err = e.dbSvc.Open(e.cfg.Database)
	}
	if err != nil {
		return nil, err
	}

	e.tables, err = schema.CRM()
	if err != nil {
		return nil, err
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := backup.NewMetrics(e.registry)
	if err != nil {
		return nil, err
	}

	recorder, err := e.auditRecorder()
	if err != nil {
		return nil, err
	}

	compression, err := backup.ParseCompressionType(e.cfg.Backup.Compression)
	if err != nil {
		return nil, err
	}

	store := backup.NewSQLStore(e.db, e.logger)
	e.service, err = backup.NewService(backup.ServiceConfig{
		Secret:           e.cfg.EncryptionSecret(),
		Registry:         e.tables,
		Source:           store,
		Store:            store,
		Compression:      compression,
		CompressionLevel: e.cfg.Backup.CompressionLevel,
		ReadConcurrency:  e.cfg.Backup.ReadConcurrency,
		ReadPageSize:     e.cfg.Backup.ReadPageSize,
		BatchSize:        e.cfg.Backup.BatchSize,
		MaxParams:        e.cfg.Backup.MaxParams,
		StrictVersion:    e.cfg.Backup.StrictVersion,
		Recorder:         recorder,
		Metrics:          metrics,
		Logger:           e.logger,
	})
	if err != nil {
		return nil, err
	}
	return e.service, nil
}

// schemaDrift compares the governed tables with the connected database
func (e *environment) schemaDrift(ctx context.Context) (*schema.Drift, error) {
	live, err := schema.NewExtractorWithTimeout(e.cfg.Database.Timeout).ExtractColumns(ctx, e.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read live schema: %w", err)
	}
	return e.tables.Compare(live), nil
}

// auditRecorder combines the configured audit sinks
func (e *environment) auditRecorder() (audit.Recorder, error) {
	var recorders audit.MultiRecorder
	if e.cfg.Audit.SQL && e.db != nil {
		recorders = append(recorders, audit.NewSQLRecorder(e.db))
	}
	if e.cfg.Audit.File != "" {
		file, err := audit.NewFileRecorder(e.cfg.Audit.File)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, file)
		recorders = append(recorders, file)
	}
	if len(recorders) == 0 {
		return audit.NopRecorder{}, nil
	}
	return recorders, nil
}

// artifactStore opens the configured artifact store
func (e *environment) artifactStore(ctx context.Context) (backup.ArtifactStore, error) {
	return backup.NewArtifactStore(ctx, e.cfg.Storage)
}

// checkArtifactStore logs a warning when the configured store is unreachable
func (e *environment) checkArtifactStore(ctx context.Context) {
	store, err := e.artifactStore(ctx)
	if err != nil {
		e.logger.Warnf("Artifact store is not usable: %v", err)
		return
	}
	if hc, ok := store.(backup.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			e.logger.Warnf("Artifact store health check failed: %v", err)
		}
	}
}

// Close releases the database and audit sinks
func (e *environment) Close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.logger.Warnf("Failed to close resource: %v", err)
		}
	}
	if err := e.dbSvc.Close(e.db); err != nil {
		e.logger.Warnf("Failed to close database: %v", err)
	}
}
