package main

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRecordsMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE recommendations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("001_bidguard.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, apply(db, "001_bidguard.sql", "CREATE TABLE recommendations (id TEXT)"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	assert.Error(t, apply(db, "002_bad.sql", "CREATE TABLE ("))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT name FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_bidguard.sql"))

	got, err := appliedMigrations(db)
	require.NoError(t, err)
	assert.True(t, got["001_bidguard.sql"])
	assert.False(t, got["002_next.sql"])
}
