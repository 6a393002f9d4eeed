package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/utils/fs"
	_ "modernc.org/sqlite"
)

const (
	DriverName       = "sqlite"
	DefaultTableName = "safekeep_kv"
)

type SqliteConfig struct {
	Path      string `json:"path"`
	TableName string `json:"tableName" default:"safekeep_kv"`
}

func NewSqliteConfig() *SqliteConfig {
	return &SqliteConfig{
		TableName: DefaultTableName,
	}
}

func (c *SqliteConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("sqlite kv: empty database path")
	}
	if c.TableName == "" {
		return fmt.Errorf("sqlite kv: empty table name")
	}
	return nil
}

type kvRow struct {
	Key       string        `db:"k"`
	Value     []byte        `db:"v"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
}

type sqliteKV struct {
	conn    *sqlx.DB
	dialect goqu.DialectWrapper
	table   string
	clock   clockwork.Clock
}

// NewSqliteKV opens (and creates if needed) a SQLite backed store
func NewSqliteKV(cfg *SqliteConfig) (KV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := fs.EnsureParentDir(cfg.Path); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	conn, err := sqlx.Open(DriverName, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// single connection: sqlite serializes writers anyway
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	store := newSqliteKV(conn, cfg.TableName, clockwork.NewRealClock())
	if err := store.createSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return store, nil
}

// NewSqliteKVFromConn wraps an existing connection and creates the table if missing
func NewSqliteKVFromConn(ctx context.Context, conn *sqlx.DB, table string, clock clockwork.Clock) (KV, error) {
	store := newSqliteKV(conn, table, clock)
	if err := store.createSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return store, nil
}

func newSqliteKV(conn *sqlx.DB, table string, clock clockwork.Clock) *sqliteKV {
	return &sqliteKV{
		conn:    conn,
		dialect: goqu.Dialect("sqlite3"),
		table:   table,
		clock:   clock,
	}
}

func (s *sqliteKV) createSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL,
		expires_at INTEGER NULL
	)`, s.table)
	_, err := s.conn.ExecContext(ctx, schema)
	return err
}

func (s *sqliteKV) Set(ctx context.Context, k string, v []byte) error {
	return s.SetTTL(ctx, k, v, 0)
}

func (s *sqliteKV) SetTTL(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	if k == "" {
		return ErrInvalidKey
	}
	var expires interface{}
	if ttl > 0 {
		expires = s.clock.Now().Add(ttl).UnixNano()
	}
	sqlQry, args, err := s.upsert(k, v, expires)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, sqlQry, args...)
	return err
}

// SetMany upserts all entries inside one transaction
func (s *sqliteKV) SetMany(ctx context.Context, entries map[string][]byte) (err error) {
	keys, err := sortedKeys(entries)
	if err != nil {
		return err
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, k := range keys {
		var (
			sqlQry string
			args   []interface{}
		)
		if sqlQry, args, err = s.upsert(k, entries[k], nil); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, sqlQry, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteKV) upsert(k string, v []byte, expires interface{}) (string, []interface{}, error) {
	return s.dialect.Insert(s.table).
		Rows(goqu.Record{"k": k, "v": v, "expires_at": expires}).
		OnConflict(goqu.DoUpdate("k", goqu.Record{
			"v":          goqu.I("excluded.v"),
			"expires_at": goqu.I("excluded.expires_at"),
		})).
		Prepared(true).
		ToSQL()
}

func (s *sqliteKV) notExpired() goqu.Expression {
	return goqu.Or(
		goqu.C("expires_at").IsNull(),
		goqu.C("expires_at").Gt(s.clock.Now().UnixNano()),
	)
}

func (s *sqliteKV) Get(ctx context.Context, k string) ([]byte, error) {
	qry := s.dialect.From(s.table).
		Select("k", "v", "expires_at").
		Where(goqu.C("k").Eq(k), s.notExpired()).
		Limit(1).
		Prepared(true)
	sqlQry, args, err := qry.ToSQL()
	if err != nil {
		return nil, err
	}
	row := kvRow{}
	if err = s.conn.QueryRowxContext(ctx, sqlQry, args...).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, err
	}
	return row.Value, nil
}

func (s *sqliteKV) Delete(ctx context.Context, k string) error {
	sqlQry, args, err := s.dialect.Delete(s.table).Where(goqu.C("k").Eq(k)).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, sqlQry, args...)
	return err
}

func (s *sqliteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	qry := s.dialect.From(s.table).
		Select("k").
		Where(goqu.L("substr(k, 1, ?) = ?", len(prefix), prefix), s.notExpired()).
		Order(goqu.C("k").Asc()).
		Prepared(true)
	sqlQry, args, err := qry.ToSQL()
	if err != nil {
		return nil, err
	}
	result := make([]string, 0)
	if err = s.conn.SelectContext(ctx, &result, sqlQry, args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *sqliteKV) Prune(ctx context.Context) error {
	sqlQry, args, err := s.dialect.Delete(s.table).
		Where(goqu.C("expires_at").Lte(s.clock.Now().UnixNano())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, sqlQry, args...)
	return err
}

func (s *sqliteKV) Close() error {
	return s.conn.Close()
}
