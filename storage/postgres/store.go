package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/coder/quartz"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/storage"
)

const backendName = "postgres"

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	db     *sql.DB
	clock  quartz.Clock
	logger *slog.Logger
	obs    *storage.Observer
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.GetDeleter = (*Store)(nil)
	_ storage.Counter    = (*Store)(nil)
)

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		clock:  quartz.NewReal(),
		logger: slog.Default(),
	}
}

// SetClock replaces the clock used to compute expiry.
func (s *Store) SetClock(clock quartz.Clock) {
	s.clock = clock
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and metrics for every operation.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.obs = storage.NewObserver(backendName, inst)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	s.logger.Info("PostgreSQL storage schema up to date")
	return nil
}

func (s *Store) expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: s.clock.Now().Add(ttl), Valid: true}
}

// Get returns the value at key.
func (s *Store) Get(ctx context.Context, key string) (value string, err error) {
	ctx, done := s.obs.Start(ctx, "get")
	defer func() { done(err) }()

	query := `
		SELECT value
		FROM kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	if err = s.db.QueryRowContext(ctx, query, key, s.clock.Now()).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

// Set stores value at key. A zero ttl stores it without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	ctx, done := s.obs.Start(ctx, "set")
	defer func() { done(err) }()

	query := `
		INSERT INTO kv (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`
	if _, err = s.db.ExecContext(ctx, query, key, value, s.expiry(ttl)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete")
	defer func() { done(err) }()

	query := `
		DELETE FROM kv
		WHERE key = $1
	`
	if _, err = s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetDelete returns and removes the value at key in one statement.
func (s *Store) GetDelete(ctx context.Context, key string) (value string, err error) {
	ctx, done := s.obs.Start(ctx, "getdel")
	defer func() { done(err) }()

	query := `
		DELETE FROM kv
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
		RETURNING value
	`
	if err = s.db.QueryRowContext(ctx, query, key, s.clock.Now()).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

// IncrementBelow implements storage.Counter. The conditional upsert holds the
// row lock, so concurrent callers never push the field past ceiling.
func (s *Store) IncrementBelow(ctx context.Context, key, field string, ceiling int64, ttl time.Duration, meta map[string]string) (value int64, incremented bool, err error) {
	ctx, done := s.obs.Start(ctx, "increment")
	defer func() { done(err) }()

	now := s.clock.Now()
	expiresAt := s.expiry(ttl)

	err = s.withTx(ctx, func(ctx context.Context, tx DBTX) error {
		purge := `
			DELETE FROM kv_hash
			WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		`
		if _, err := tx.ExecContext(ctx, purge, key, now); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if ceiling <= 0 {
			value, err = currentValue(ctx, tx, key, field)
			return err
		}

		upsert := `
			INSERT INTO kv_hash (key, field, value, expires_at)
			VALUES ($1, $2, '1', COALESCE((SELECT MIN(expires_at) FROM kv_hash WHERE key = $1), $3))
			ON CONFLICT (key, field) DO UPDATE SET value = (kv_hash.value::bigint + 1)::text
			WHERE kv_hash.value::bigint < $4
			RETURNING value::bigint
		`
		err := tx.QueryRowContext(ctx, upsert, key, field, expiresAt, ceiling).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			value, err = currentValue(ctx, tx, key, field)
			return err
		}
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		incremented = true

		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		setMeta := `
			INSERT INTO kv_hash (key, field, value, expires_at)
			VALUES ($1, $2, $3, (SELECT MIN(expires_at) FROM kv_hash WHERE key = $1))
			ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value
		`
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, setMeta, key, k, meta[k]); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return value, incremented, nil
}

func currentValue(ctx context.Context, tx DBTX, key, field string) (int64, error) {
	query := `
		SELECT value
		FROM kv_hash
		WHERE key = $1 AND field = $2
	`
	var raw string
	if err := tx.QueryRowContext(ctx, query, key, field).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s of %s is not a counter: %w", field, key, err)
	}
	return v, nil
}

// Fields returns all live fields of the record at key.
func (s *Store) Fields(ctx context.Context, key string) (fields map[string]string, err error) {
	ctx, done := s.obs.Start(ctx, "fields")
	defer func() { done(err) }()

	query := `
		SELECT field, value
		FROM kv_hash
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	rows, err := s.db.QueryContext(ctx, query, key, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = rows.Close() }()

	fields = make(map[string]string)
	for rows.Next() {
		var f, v string
		if err := rows.Scan(&f, &v); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		fields[f] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrNotFound
	}
	return fields, nil
}

// Cleanup removes expired rows from both tables and returns how many it removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var total int64
	for _, query := range []string{
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		`DELETE FROM kv_hash WHERE expires_at IS NOT NULL AND expires_at <= $1`,
	} {
		res, err := s.db.ExecContext(ctx, query, now)
		if err != nil {
			return total, fmt.Errorf("db error: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Debug("Cleaned up expired rows", "removed", total)
	}
	return total, nil
}

// withTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("db error: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}
