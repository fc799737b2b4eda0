package schema

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columnsQuery = regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS c")

func TestNewExtractor(t *testing.T) {
	extractor := NewExtractor()
	if extractor == nil {
		t.Fatal("Expected extractor to be created")
	}
	if extractor.queryTimeout != 30*time.Second {
		t.Errorf("Expected default timeout to be 30s, got %v", extractor.queryTimeout)
	}
}

func TestNewExtractorWithTimeout(t *testing.T) {
	timeout := 10 * time.Second
	extractor := NewExtractorWithTimeout(timeout)
	if extractor.queryTimeout != timeout {
		t.Errorf("Expected timeout to be %v, got %v", timeout, extractor.queryTimeout)
	}
}

func TestExtractColumns_NilDB(t *testing.T) {
	_, err := NewExtractor().ExtractColumns(context.Background(), nil)
	if err == nil {
		t.Error("Expected error for nil database connection")
	}
}

func TestExtractColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(columnsQuery).WillReturnRows(
		sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME"}).
			AddRow("accounts", "id").
			AddRow("accounts", "name").
			AddRow("tags", "id"),
	)

	live, err := NewExtractor().ExtractColumns(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, LiveColumns{
		"accounts": {"id": true, "name": true},
		"tags":     {"id": true},
	}, live)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractColumns_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(columnsQuery).WillReturnError(errors.New("access denied"))

	_, err = NewExtractor().ExtractColumns(context.Background(), db)
	assert.ErrorContains(t, err, "access denied")
}

func TestRegistryCompare(t *testing.T) {
	accounts := NewTable("accounts", SizeSmall, []string{"id"}, Col("id"), Col("name"), Col("createdAt"))
	contacts := NewTable("contacts", SizeSmall, []string{"id"}, Col("id"), Ref("accountId", "accounts"))
	registry, err := NewRegistry(accounts, contacts)
	require.NoError(t, err)

	t.Run("no drift", func(t *testing.T) {
		live := LiveColumns{
			"accounts": {"id": true, "name": true, "created_at": true, "extra": true},
			"contacts": {"id": true, "account_id": true},
			"unrelated": {"id": true},
		}
		drift := registry.Compare(live)
		assert.True(t, drift.IsEmpty())
		assert.Equal(t, "no drift", drift.String())
	})

	t.Run("missing table and column", func(t *testing.T) {
		live := LiveColumns{
			"accounts": {"id": true, "name": true},
		}
		drift := registry.Compare(live)
		assert.False(t, drift.IsEmpty())
		assert.Equal(t, []string{"contacts"}, drift.MissingTables)
		assert.Equal(t, map[string][]string{"accounts": {"created_at"}}, drift.MissingColumns)
		assert.Equal(t, "missing tables: contacts; accounts missing columns: created_at", drift.String())
	})
}
