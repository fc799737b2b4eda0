// Package errors classifies infrastructure failures (MySQL, network, context,
// filesystem) and retries the recoverable ones with exponential backoff.
package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrorType is the category of an infrastructure error
type ErrorType string

const (
	ErrorTypeConnection   ErrorType = "connection"
	ErrorTypeSQL          ErrorType = "sql"
	ErrorTypeConstraint   ErrorType = "constraint"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeInterruption ErrorType = "interruption"
	ErrorTypeUnknown      ErrorType = "unknown"
)

// MySQL server error numbers the classifier knows about
const (
	mysqlAccessDenied        = 1045
	mysqlUnknownDatabase     = 1049
	mysqlUnknownColumn       = 1054
	mysqlDuplicateEntry      = 1062
	mysqlSyntaxError         = 1064
	mysqlTableMissing        = 1146
	mysqlPacketTooLarge      = 1153
	mysqlLockWaitTimeout     = 1205
	mysqlDeadlock            = 1213
	mysqlTooManyPlaceholders = 1390
	mysqlRowIsReferenced     = 1451
	mysqlNoReferencedRow     = 1452
	mysqlCantConnect         = 2003
	mysqlServerGone          = 2006
	mysqlLostConnection      = 2013
)

// AppError is a classified error with optional context for logs
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRecoverable reports whether retrying the operation may succeed
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds a key/value pair to the error context
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a non-recoverable error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates an error worth retrying
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	e := NewAppError(errorType, message, cause)
	e.Recoverable = true
	return e
}

// ErrorClassifier maps raw errors to AppErrors
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError returns nil for a nil error, the error itself when it is already
// classified, and an ErrorTypeUnknown AppError when nothing matches.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	for _, classify := range []func(error) *AppError{
		ec.classifyMySQLError,
		ec.classifyContextError,
		ec.classifyNetworkError,
		ec.classifyFileSystemError,
	} {
		if classified := classify(err); classified != nil {
			return classified
		}
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		var classified *AppError
		switch mysqlErr.Number {
		case mysqlAccessDenied:
			classified = NewAppError(ErrorTypePermission, "Database access denied - check username and password", err)
		case mysqlUnknownDatabase:
			classified = NewAppError(ErrorTypeValidation, "Database does not exist", err)
		case mysqlTableMissing, mysqlUnknownColumn:
			classified = NewAppError(ErrorTypeSQL, "Database schema does not match the governed tables", err)
		case mysqlDuplicateEntry:
			classified = NewAppError(ErrorTypeConstraint, "Duplicate key in restored rows", err)
		case mysqlRowIsReferenced, mysqlNoReferencedRow:
			classified = NewAppError(ErrorTypeConstraint, "Foreign key constraint failed", err)
		case mysqlSyntaxError:
			classified = NewAppError(ErrorTypeSQL, "SQL syntax error", err)
		case mysqlPacketTooLarge, mysqlTooManyPlaceholders:
			classified = NewAppError(ErrorTypeSQL, "Statement too large - lower backup.batch_size or backup.max_params", err)
		case mysqlLockWaitTimeout:
			classified = NewRecoverableError(ErrorTypeTimeout, "Lock wait timeout exceeded", err)
		case mysqlDeadlock:
			classified = NewRecoverableError(ErrorTypeSQL, "Deadlock detected", err)
		case mysqlCantConnect:
			classified = NewRecoverableError(ErrorTypeConnection, "Cannot connect to MySQL server", err)
		case mysqlServerGone, mysqlLostConnection:
			classified = NewRecoverableError(ErrorTypeConnection, "MySQL server connection lost", err)
		default:
			classified = NewAppError(ErrorTypeSQL, fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err)
		}
		return classified.WithContext("mysql_error_code", mysqlErr.Number)
	}

	switch {
	case errors.Is(err, mysql.ErrInvalidConn), errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "Transaction has already been committed or rolled back", err)
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return NewAppError(ErrorTypeValidation, fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.EACCES):
			return NewAppError(ErrorTypePermission, fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.ENOSPC):
			return NewAppError(ErrorTypeValidation, "No space left on device", err)
		}
	}
	return nil
}

// RetryConfig holds the backoff parameters
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns three attempts starting at one second
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler retries operations that fail with recoverable errors
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
	onRetry    func(attempt int, delay time.Duration, err *AppError)
}

func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// OnRetry registers a callback invoked before each wait
func (rh *RetryHandler) OnRetry(fn func(attempt int, delay time.Duration, err *AppError)) *RetryHandler {
	rh.onRetry = fn
	return rh
}

// Retry runs operation until it succeeds, fails with a non-recoverable error,
// runs out of attempts, or ctx is done.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err)
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)
		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		delay := rh.calculateDelay(attempt)
		if rh.onRetry != nil {
			rh.onRetry(attempt, delay, appErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-timer.C:
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// GracefulShutdownHandler runs registered cleanup functions in reverse order
// when the process receives SIGINT or SIGTERM.
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	once          sync.Once
	onError       func(error)
}

func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signalChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
		onError: func(err error) {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		},
	}
}

// RegisterShutdownFunc adds a cleanup function
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start listens for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.Shutdown()
		}
	}()
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// Shutdown runs the cleanup functions once
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		defer close(gsh.done)

		gsh.mu.Lock()
		funcs := append([]func() error(nil), gsh.shutdownFuncs...)
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				gsh.onError(err)
			}
		}
	})
}

// Done is closed once Shutdown has finished
func (gsh *GracefulShutdownHandler) Done() <-chan struct{} {
	return gsh.done
}

// CreateContextWithTimeout returns a background context bounded by timeout
func CreateContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// IsRecoverableError reports whether err is a recoverable AppError
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the type of an AppError or ErrorTypeUnknown
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// WrapError classifies err and replaces its message
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		wrapped := NewAppError(appErr.Type, message, err)
		wrapped.Recoverable = appErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	classified.Message = message
	return classified
}
