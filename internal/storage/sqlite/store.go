// Package sqlite stores order fields in a SQLite database via mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"signflow/internal/storage"
)

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./signflow.db",
	}
}

type Store struct {
	db     *sql.DB
	config *Config
}

func New(config *Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	// WAL and a busy timeout let webhook handlers write while the API reads
	dsn := config.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, config: config}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS order_fields (
		order_ref   TEXT NOT NULL,
		field_key   TEXT NOT NULL,
		field_value TEXT NOT NULL,
		updated_at  DATETIME NOT NULL,
		PRIMARY KEY (order_ref, field_key)
	);
	CREATE INDEX IF NOT EXISTS idx_order_fields_lookup ON order_fields (field_key, field_value);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Get(ctx context.Context, orderRef string) (*storage.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_key, field_value FROM order_fields WHERE order_ref = ?`, orderRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderRef, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan order field: %w", err)
		}
		fields[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderRef, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrOrderNotFound("ref " + orderRef)
	}

	return &storage.Order{Ref: orderRef, Fields: fields}, nil
}

func (s *Store) GetByField(ctx context.Context, key, value string) (*storage.Order, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT order_ref FROM order_fields WHERE field_key = ? AND field_value = ? ORDER BY order_ref LIMIT 1`,
		key, value).Scan(&ref)
	if err == sql.ErrNoRows {
		return nil, storage.ErrOrderNotFound(key + "=" + value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up order by %s: %w", key, err)
	}
	return s.Get(ctx, ref)
}

func (s *Store) UpdateFields(ctx context.Context, orderRef string, fields map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_fields (order_ref, field_key, field_value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (order_ref, field_key)
		DO UPDATE SET field_value = excluded.field_value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare field upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for k, v := range fields {
		if _, err := stmt.ExecContext(ctx, orderRef, k, v, now); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order %s: %w", orderRef, err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func init() {
	storage.Register("sqlite", storage.FactoryFunc(func(config storage.Config) (storage.OrderStore, error) {
		path := config.Path
		if path == "" {
			path = DefaultConfig().DatabasePath
		}
		return New(&Config{DatabasePath: path})
	}))
}

var _ storage.OrderStore = (*Store)(nil)
