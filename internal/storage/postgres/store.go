// Package postgres stores order fields in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"signflow/internal/storage"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}
	if c.Port <= 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		return fmt.Errorf("PostgreSQL database name is required")
	}
	if c.Username == "" {
		return fmt.Errorf("PostgreSQL username is required")
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return nil
}

// ConnectionString returns a postgres:// URL with escaped credentials
func (c *Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// Store implements storage.OrderStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects, pings and migrates
func New(ctx context.Context, config *Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	pool, err := pgxpool.New(ctx, config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// NewWithPool wraps an existing pool; the caller runs migrations via Migrate
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrate(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS order_fields (
			order_ref   TEXT NOT NULL,
			field_key   TEXT NOT NULL,
			field_value TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (order_ref, field_key)
		);
		CREATE INDEX IF NOT EXISTS idx_order_fields_lookup ON order_fields (field_key, field_value);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Get(ctx context.Context, orderRef string) (*storage.Order, error) {
	const selectSQL = `SELECT field_key, field_value FROM order_fields WHERE order_ref = $1`

	rows, err := s.pool.Query(ctx, selectSQL, orderRef)
	if err != nil {
		return nil, fmt.Errorf("postgres: get order %s: %w", orderRef, err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres: scan order field: %w", err)
		}
		fields[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get order %s: %w", orderRef, err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrOrderNotFound("ref " + orderRef)
	}

	return &storage.Order{Ref: orderRef, Fields: fields}, nil
}

func (s *Store) GetByField(ctx context.Context, key, value string) (*storage.Order, error) {
	const selectSQL = `
		SELECT order_ref FROM order_fields
		WHERE field_key = $1 AND field_value = $2
		ORDER BY order_ref
		LIMIT 1
	`

	var ref string
	if err := s.pool.QueryRow(ctx, selectSQL, key, value).Scan(&ref); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrOrderNotFound(key + "=" + value)
		}
		return nil, fmt.Errorf("postgres: get order by %s: %w", key, err)
	}
	return s.Get(ctx, ref)
}

func (s *Store) UpdateFields(ctx context.Context, orderRef string, fields map[string]string) error {
	const upsertSQL = `
		INSERT INTO order_fields (order_ref, field_key, field_value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_ref, field_key)
		DO UPDATE SET field_value = EXCLUDED.field_value, updated_at = EXCLUDED.updated_at
	`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for k, v := range fields {
		batch.Queue(upsertSQL, orderRef, k, v, now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: update fields of %s: %w", orderRef, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit %s: %w", orderRef, err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func init() {
	storage.Register("postgres", storage.FactoryFunc(func(config storage.Config) (storage.OrderStore, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return New(ctx, &Config{
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
			SSLMode:  config.SSLMode,
		})
	}))
}

var _ storage.OrderStore = (*Store)(nil)
