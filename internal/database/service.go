package database

import (
	"context"
	"database/sql"
	"time"

	"crm-backup/internal/errors"
	"crm-backup/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// OpenFunc opens a database handle; sql.Open by default
type OpenFunc func(driverName, dataSourceName string) (*sql.DB, error)

// Service opens and checks connections to the CRM database
type Service struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
	retryHandler      *errors.RetryHandler
	open              OpenFunc
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryConfig replaces the connection retry policy
func WithRetryConfig(config errors.RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retryHandler = errors.NewRetryHandler(config)
	}
}

// WithOpenFunc replaces sql.Open, mainly for tests
func WithOpenFunc(open OpenFunc) ServiceOption {
	return func(s *Service) {
		if open != nil {
			s.open = open
		}
	}
}

// WithConnectionTimeout bounds connect and ping operations
func WithConnectionTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.connectionTimeout = timeout
		}
	}
}

// NewService creates a database service with default settings
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		connectionTimeout: DefaultTimeout,
		logger:            logging.NewNopLogger(),
		retryHandler:      errors.NewDefaultRetryHandler(),
		open:              sql.Open,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.retryHandler.OnRetry(func(attempt int, delay time.Duration, err *errors.AppError) {
		s.logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("Database connection failed, retrying")
	})
	return s
}

// Connect opens a pooled connection and pings it, retrying recoverable failures
func (s *Service) Connect(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}

	startTime := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Info("Attempting database connection")

	ctx, cancel := context.WithTimeout(ctx, 2*s.connectionTimeout)
	defer cancel()

	var db *sql.DB
	err := s.retryHandler.Retry(ctx, func() error {
		handle, openErr := s.open("mysql", config.DSN())
		if openErr != nil {
			return errors.WrapError(openErr, "failed to open database connection")
		}

		handle.SetMaxOpenConns(config.MaxOpenConns)
		handle.SetMaxIdleConns(config.MaxIdleConns)
		handle.SetConnMaxLifetime(config.ConnMaxLifetime)

		if pingErr := s.TestConnection(ctx, handle); pingErr != nil {
			handle.Close()
			return pingErr
		}

		db = handle
		return nil
	})

	s.logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Open returns a pooled handle without connecting. Connections are made on first use.
func (s *Service) Open(config DatabaseConfig) (*sql.DB, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "invalid database configuration", err)
	}

	db, err := s.open("mysql", config.DSN())
	if err != nil {
		return nil, errors.WrapError(err, "failed to open database connection")
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	return db, nil
}

// TestConnection pings the database
func (s *Service) TestConnection(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return errors.WrapError(err, "failed to ping database")
	}

	s.logger.Debug("Database connection test successful")
	return nil
}

// Close closes the pool; a nil handle is ignored
func (s *Service) Close(db *sql.DB) error {
	if db == nil {
		return nil
	}

	s.logger.Debug("Closing database connection")
	if err := db.Close(); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to close database connection")
		return errors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// GetVersion returns the MySQL server version
func (s *Service) GetVersion(ctx context.Context, db *sql.DB) (string, error) {
	if db == nil {
		return "", errors.NewAppError(errors.ErrorTypeValidation, "database connection is nil", nil)
	}

	const query = "SELECT VERSION()"
	ctx, cancel := context.WithTimeout(ctx, s.connectionTimeout)
	defer cancel()

	var version string
	startTime := time.Now()
	err := db.QueryRowContext(ctx, query).Scan(&version)
	s.logger.LogSQLExecution(query, time.Since(startTime), 1, err)
	if err != nil {
		return "", errors.WrapError(err, "failed to get database version")
	}

	s.logger.WithField("version", version).Debug("Retrieved database version")
	return version, nil
}
