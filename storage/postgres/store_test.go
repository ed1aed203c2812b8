package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/analytics-oauth/storage"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *quartz.Mock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC))

	s := New(db)
	s.SetClock(clock)
	return s, mock, clock
}

func TestGet_Success(t *testing.T) {
	s, mock, clock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+value\s+FROM\s+kv\s+WHERE\s+key\s*=\s*\$1`).
		WithArgs("token:u1", clock.Now()).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("sealed"))

	got, err := s.Get(context.Background(), "token:u1")
	require.NoError(t, err)
	assert.Equal(t, "sealed", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+value\s+FROM\s+kv`).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGet_DBError(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+value\s+FROM\s+kv`).
		WithArgs("k", sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestSet_WithTTL(t *testing.T) {
	s, mock, clock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+kv\b.*ON\s+CONFLICT\s*\(key\)\s*DO\s+UPDATE`).
		WithArgs("pkce:sid", "v", clock.Now().Add(10*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Set(context.Background(), "pkce:sid", "v", 10*time.Minute))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSet_NoTTL(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+kv\b`).
		WithArgs("token:u1", "v", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Set(context.Background(), "token:u1", "v", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+kv\s+WHERE\s+key\s*=\s*\$1`).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDelete(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)DELETE\s+FROM\s+kv\b.*RETURNING\s+value`).
		WithArgs("oauth_state:sid", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("nonce"))
	mock.ExpectQuery(`(?s)DELETE\s+FROM\s+kv\b.*RETURNING\s+value`).
		WithArgs("oauth_state:sid", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	got, err := s.GetDelete(context.Background(), "oauth_state:sid")
	require.NoError(t, err)
	assert.Equal(t, "nonce", got)

	_, err = s.GetDelete(context.Background(), "oauth_state:sid")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const (
	purgeQuery  = `(?s)DELETE\s+FROM\s+kv_hash\s+WHERE\s+key\s*=\s*\$1\s+AND\s+expires_at`
	upsertQuery = `(?s)INSERT\s+INTO\s+kv_hash\b.*ON\s+CONFLICT\s*\(key,\s*field\)\s*DO\s+UPDATE.*WHERE\s+kv_hash\.value::bigint\s*<\s*\$4.*RETURNING`
	metaQuery   = `(?s)INSERT\s+INTO\s+kv_hash\b.*SET\s+value\s*=\s*EXCLUDED\.value`
	readQuery   = `(?s)SELECT\s+value\s+FROM\s+kv_hash\s+WHERE\s+key\s*=\s*\$1\s+AND\s+field\s*=\s*\$2`
)

func TestIncrementBelow_Increments(t *testing.T) {
	s, mock, clock := newStoreWithMock(t)
	ttl := 45 * 24 * time.Hour

	mock.ExpectBegin()
	mock.ExpectExec(purgeQuery).WithArgs("usage:u:2025-03", clock.Now()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(upsertQuery).
		WithArgs("usage:u:2025-03", "reports", clock.Now().Add(ttl), int64(25)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(4)))
	mock.ExpectExec(metaQuery).WithArgs("usage:u:2025-03", "period", "2025-03").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(metaQuery).WithArgs("usage:u:2025-03", "plan", "free").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, ok, err := s.IncrementBelow(context.Background(), "usage:u:2025-03", "reports", 25, ttl,
		map[string]string{"plan": "free", "period": "2025-03"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementBelow_AtCeiling(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(purgeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(upsertQuery).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(readQuery).
		WithArgs("usage:u:2025-03", "reports").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("25"))
	mock.ExpectCommit()

	v, ok, err := s.IncrementBelow(context.Background(), "usage:u:2025-03", "reports", 25, time.Hour, map[string]string{"plan": "free"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(25), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementBelow_ZeroCeilingWritesNothing(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(purgeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(readQuery).WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	v, ok, err := s.IncrementBelow(context.Background(), "k", "f", 0, time.Hour, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementBelow_RollsBackOnError(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(purgeQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(upsertQuery).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, _, err := s.IncrementBelow(context.Background(), "k", "f", 10, time.Hour, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFields(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+field,\s*value\s+FROM\s+kv_hash`).
		WithArgs("usage:u:2025-03", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"field", "value"}).
			AddRow("reports", "3").
			AddRow("plan", "free"))
	mock.ExpectQuery(`(?s)SELECT\s+field,\s*value\s+FROM\s+kv_hash`).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"field", "value"}))

	fields, err := s.Fields(context.Background(), "usage:u:2025-03")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"reports": "3", "plan": "free"}, fields)

	_, err = s.Fields(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanup(t *testing.T) {
	s, mock, _ := newStoreWithMock(t)

	mock.ExpectExec(`DELETE\s+FROM\s+kv\s+WHERE\s+expires_at`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE\s+FROM\s+kv_hash\s+WHERE\s+expires_at`).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
