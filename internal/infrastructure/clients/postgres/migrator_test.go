package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_booking_schema.sql": {Data: []byte("CREATE TABLE appointments (id UUID);")},
		"002_indexes.sql":        {Data: []byte("CREATE INDEX idx ON appointments (doctor_id);")},
		"README.md":              {Data: []byte("notes")},
		"draft.sql":              {Data: []byte("SELECT 1;")},
	}
}

func TestMigrator_LoadSortsAndSkipsUnversionedFiles(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	migrations, err := NewMigratorFS(NewClientFromDB(db), testMigrations()).Load()
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_booking_schema.sql", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestMigrator_LoadRejectsDuplicateVersions(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	files := testMigrations()
	files["001_other.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}

	_, err = NewMigratorFS(NewClientFromDB(db), files).Load()
	assert.ErrorContains(t, err, "share version 1")
}

func TestMigrator_UpAppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx ON appointments (doctor_id);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(2, "002_indexes.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := NewMigratorFS(NewClientFromDB(db), testMigrations()).Up(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_UpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE appointments (id UUID);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	count, err := NewMigratorFS(NewClientFromDB(db), testMigrations()).Up(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "001_booking_schema.sql")
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Status(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	appliedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, applied_at FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, appliedAt))

	statuses, err := NewMigratorFS(NewClientFromDB(db), testMigrations()).Status(context.Background())

	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, appliedAt, *statuses[0].AppliedAt)
	assert.False(t, statuses[1].Applied)
}
