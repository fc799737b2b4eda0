package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-backup/internal/errors"
)

func fastRetry() apperrors.RetryConfig {
	return apperrors.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestService_Connect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	var gotDSN string
	service := NewService(WithOpenFunc(func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "mysql", driver)
		gotDSN = dsn
		return db, nil
	}))

	conn, err := service.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Same(t, db, conn)
	assert.Contains(t, gotDSN, "tcp(localhost:3306)/crm")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Connect_RetriesRecoverableErrors(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	calls := 0
	service := NewService(
		WithRetryConfig(fastRetry()),
		WithOpenFunc(func(string, string) (*sql.DB, error) {
			calls++
			if calls == 1 {
				return nil, &mysql.MySQLError{Number: 2003, Message: "can't connect"}
			}
			return db, nil
		}),
	)

	_, err = service.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestService_Connect_PermanentFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "access denied"})

	calls := 0
	service := NewService(
		WithRetryConfig(fastRetry()),
		WithOpenFunc(func(string, string) (*sql.DB, error) {
			calls++
			return db, nil
		}),
	)

	conn, err := service.Connect(context.Background(), validConfig())
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, 1, calls, "permission errors are not retried")
	assert.Equal(t, apperrors.ErrorTypePermission, apperrors.GetErrorType(err))
}

func TestService_Connect_InvalidConfig(t *testing.T) {
	opened := false
	service := NewService(WithOpenFunc(func(string, string) (*sql.DB, error) {
		opened = true
		return nil, errors.New("unexpected")
	}))

	_, err := service.Connect(context.Background(), DatabaseConfig{Host: "localhost"})
	require.Error(t, err)
	assert.False(t, opened)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestService_GetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	version, err := NewService().GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_NilHandles(t *testing.T) {
	service := NewService()

	assert.Error(t, service.TestConnection(context.Background(), nil))
	assert.NoError(t, service.Close(nil))

	_, err := service.GetVersion(context.Background(), nil)
	assert.Error(t, err)
}

func TestService_Close(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	require.NoError(t, NewService().Close(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_OpenDoesNotPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	service := NewService(WithOpenFunc(func(string, string) (*sql.DB, error) {
		return db, nil
	}))

	conn, err := service.Open(validConfig())
	require.NoError(t, err)
	assert.Same(t, db, conn)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = service.Open(DatabaseConfig{})
	assert.Error(t, err)
}
