package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSqliteKV(t *testing.T) KV {
	cfg := NewSqliteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "data", "safekeep.db")
	store, err := NewSqliteKV(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSqliteConfigValidate(t *testing.T) {
	cfg := NewSqliteConfig()
	assert.Error(t, cfg.Validate())
	cfg.Path = "/tmp/x.db"
	assert.NoError(t, cfg.Validate())
	cfg.TableName = ""
	assert.Error(t, cfg.Validate())
}

func TestSqliteKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestSqliteKV(t)

	require.NoError(t, store.Set(ctx, "safekeep:profile", []byte("one")))
	require.NoError(t, store.Set(ctx, "safekeep:profile", []byte("two")))

	v, err := store.Get(ctx, "safekeep:profile")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	require.NoError(t, store.Delete(ctx, "safekeep:profile"))
	v, err = store.Get(ctx, "safekeep:profile")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSqliteKV_Keys(t *testing.T) {
	ctx := context.Background()
	store := newTestSqliteKV(t)
	for _, k := range []string{"safekeep:consents:cloud_sync", "safekeep:consents:essential", "safekeepX:other"} {
		require.NoError(t, store.Set(ctx, k, []byte("v")))
	}

	keys, err := store.Keys(ctx, "safekeep:consents:")
	require.NoError(t, err)
	assert.Equal(t, []string{"safekeep:consents:cloud_sync", "safekeep:consents:essential"}, keys)

	n, err := DeletePrefix(ctx, store, "safekeep:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err = store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"safekeepX:other"}, keys)
}

func TestSqliteKV_TTL(t *testing.T) {
	ctx := context.Background()
	conn, err := sqlx.Open(DriverName, filepath.Join(t.TempDir(), "ttl.db"))
	require.NoError(t, err)
	defer conn.Close()

	clock := clockwork.NewFakeClock()
	store, err := NewSqliteKVFromConn(ctx, conn, DefaultTableName, clock)
	require.NoError(t, err)

	require.NoError(t, store.SetTTL(ctx, "exports:1", []byte("job"), time.Hour))
	v, err := store.Get(ctx, "exports:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("job"), v)

	clock.Advance(2 * time.Hour)
	v, err = store.Get(ctx, "exports:1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, store.Prune(ctx))
	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSqliteKV_ErrorPaths(t *testing.T) {
	ctx := context.Background()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	conn := sqlx.NewDb(mockDB, "sqlmock")
	defer conn.Close()

	store := newSqliteKV(conn, DefaultTableName, clockwork.NewFakeClock())
	boom := errors.New("disk I/O error")

	mock.ExpectExec("INSERT INTO").WillReturnError(boom)
	assert.ErrorIs(t, store.Set(ctx, "k", []byte("v")), boom)

	mock.ExpectQuery("SELECT").WillReturnError(boom)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery("SELECT").WillReturnError(boom)
	_, err = store.Keys(ctx, "p")
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec("DELETE FROM").WillReturnError(boom)
	assert.ErrorIs(t, store.Delete(ctx, "k"), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqliteKV_SetMany(t *testing.T) {
	ctx := context.Background()
	store := newTestSqliteKV(t)

	require.NoError(t, store.Set(ctx, "safekeep:records:a", []byte("old")))
	require.NoError(t, store.SetMany(ctx, map[string][]byte{
		"safekeep:records:a":    []byte("new-a"),
		"safekeep:records:b":    []byte("new-b"),
		"safekeep:verification": []byte("verif"),
	}))

	for k, want := range map[string]string{
		"safekeep:records:a":    "new-a",
		"safekeep:records:b":    "new-b",
		"safekeep:verification": "verif",
	} {
		v, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte(want), v, k)
	}

	assert.ErrorIs(t, store.SetMany(ctx, map[string][]byte{"": []byte("x")}), ErrInvalidKey)
}

func TestSqliteKV_SetManyRollsBack(t *testing.T) {
	ctx := context.Background()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	conn := sqlx.NewDb(mockDB, "sqlmock")
	defer conn.Close()

	store := newSqliteKV(conn, DefaultTableName, clockwork.NewFakeClock())
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO").WillReturnError(boom)
	mock.ExpectRollback()

	err = store.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
