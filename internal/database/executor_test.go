package database

import (
	"context"
	"errors"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/models"
	"github.com/ksred/schemaguard/internal/utils"
)

func newTestExecutor(t *testing.T, db *gorm.DB, opts ExecutorOptions) (*Executor, *StateStore) {
	t.Helper()
	store := NewStateStore(db, utils.NopLogger())
	return NewExecutor(db, store, opts, utils.NopLogger()), store
}

func TestExecutor_Apply(t *testing.T) {
	db := newTestDB(t)
	executor, store := newTestExecutor(t, db, ExecutorOptions{})
	ctx := context.Background()
	require.NoError(t, store.Ensure(ctx))

	unit := migration.Unit{
		Version: "0010",
		Name:    "add_inventory_tracking",
		ForwardSQL: `CREATE TABLE vendor_products (id INTEGER PRIMARY KEY);
ALTER TABLE vendor_products ADD COLUMN track_inventory BOOLEAN DEFAULT FALSE;`,
	}

	record, err := executor.Apply(ctx, unit)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "0010", record.Version)
	assert.Equal(t, "add_inventory_tracking", record.Name)
	assert.Equal(t, unit.Checksum(), record.Checksum)
	assert.NotZero(t, record.ID)
	assert.GreaterOrEqual(t, record.DurationMs, int64(0))

	assert.True(t, db.Migrator().HasColumn("vendor_products", "track_inventory"))

	stored, err := store.Get(ctx, "0010")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, unit.Checksum(), stored.Checksum)
}

func TestExecutor_ApplyFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	executor, store := newTestExecutor(t, db, ExecutorOptions{})
	ctx := context.Background()
	require.NoError(t, store.Ensure(ctx))

	unit := migration.Unit{
		Version: "0002",
		ForwardSQL: `CREATE TABLE half_done (id INTEGER);
INSERT INTO table_that_does_not_exist VALUES (1);`,
	}

	record, err := executor.Apply(ctx, unit)
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, utils.IsMigrationFailed(err))
	assert.False(t, utils.IsConnectionError(err))

	var failed *utils.MigrationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "0002", failed.Version)

	assert.False(t, db.Migrator().HasTable("half_done"), "partial DDL must be rolled back")

	stored, err := store.Get(ctx, "0002")
	require.NoError(t, err)
	assert.Nil(t, stored, "failed migrations are never recorded")
}

func TestExecutor_ApplyAlreadyRecorded(t *testing.T) {
	db := newTestDB(t)
	executor, store := newTestExecutor(t, db, ExecutorOptions{})
	ctx := context.Background()
	require.NoError(t, store.Ensure(ctx))

	// Another runner got there first
	require.NoError(t, store.Record(db, &models.AppliedRecord{
		Version:   "0003",
		Checksum:  "from-elsewhere",
		AppliedAt: time.Now(),
	}))

	record, err := executor.Apply(ctx, migration.Unit{
		Version:    "0003",
		ForwardSQL: "CREATE TABLE side_effect (id INTEGER);",
	})
	require.Error(t, err)
	assert.Nil(t, record)
	assert.True(t, utils.IsAlreadyApplied(err))
	assert.False(t, utils.IsMigrationFailed(err))
	assert.False(t, db.Migrator().HasTable("side_effect"))
}

func TestExecutor_ApplyCanceledContext(t *testing.T) {
	db := newTestDB(t)
	executor, store := newTestExecutor(t, db, ExecutorOptions{})
	require.NoError(t, store.Ensure(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Apply(ctx, migration.Unit{Version: "0001", ForwardSQL: "CREATE TABLE never (id INTEGER);"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, utils.IsMigrationFailed(err))
	assert.False(t, db.Migrator().HasTable("never"))
}

func TestExecutor_PostgresSetsLocalTimeouts(t *testing.T) {
	db, mock := newMockPostgres(t)
	executor, _ := newTestExecutor(t, db, ExecutorOptions{
		StatementTimeout: 30 * time.Second,
		LockTimeout:      5 * time.Second,
	})

	forward := "ALTER TABLE vendor_products ADD COLUMN IF NOT EXISTS track_inventory BOOLEAN DEFAULT FALSE;"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL statement_timeout = 30000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = 5000")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(forward)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "schema_migrations"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	record, err := executor.Apply(context.Background(), migration.Unit{Version: "0010", ForwardSQL: forward})
	require.NoError(t, err)
	assert.Equal(t, uint(7), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_PostgresErrors(t *testing.T) {
	forward := "CREATE INDEX idx_vendor_availability_date ON vendor_availability(date);"

	tests := []struct {
		name   string
		setup  func(mock sqlmock.Sqlmock)
		assert func(t *testing.T, err error)
	}{
		{
			name: "Syntax error fails the migration",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(forward)).
					WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "vendor_availability" does not exist`})
				mock.ExpectRollback()
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, utils.IsMigrationFailed(err))
				assert.Contains(t, err.Error(), "vendor_availability")
			},
		},
		{
			name: "Concurrent insert reads as already applied",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(forward)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "schema_migrations"`)).
					WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_schema_migrations_version"})
				mock.ExpectRollback()
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, utils.IsAlreadyApplied(err))
			},
		},
		{
			name: "Dropped connection aborts",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(forward)).
					WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})
				mock.ExpectRollback()
			},
			assert: func(t *testing.T, err error) {
				assert.True(t, utils.IsConnectionError(err))
				assert.False(t, utils.IsMigrationFailed(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockPostgres(t)
			executor, _ := newTestExecutor(t, db, ExecutorOptions{})

			mock.ExpectBegin()
			tt.setup(mock)

			record, err := executor.Apply(context.Background(), migration.Unit{Version: "0011", ForwardSQL: forward})
			require.Error(t, err)
			assert.Nil(t, record)
			tt.assert(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
