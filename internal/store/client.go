// Package store is the persistence layer (C2): shop configuration lookup,
// idempotent order insertion, state mutation, and append-only event logging.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/jd-fulfillment-bridge/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a connection-pooled *sql.DB with migration support.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient opens a pooled connection to cfg.DatabaseURL and verifies it.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store: config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("store: database URL cannot be empty")
	}

	client := &Client{
		logger: log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMinConns)
	db.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)
	db.SetConnMaxLifetime(cfg.DatabaseMaxLifetime)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	client.logger.Printf("connected to database (max_conns=%d, min_conns=%d)",
		cfg.DatabaseMaxConns, cfg.DatabaseMinConns)

	return client, nil
}

// DB returns the underlying *sql.DB for direct access by repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the pooled connection.
func (c *Client) Close() error {
	if c.db != nil {
		c.logger.Println("closing database connection")
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HealthStatus reports the result of a database health check.
type HealthStatus struct {
	Healthy            bool          `json:"healthy"`
	Error              string        `json:"error,omitempty"`
	Version            string        `json:"version,omitempty"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
	MaxOpenConnections int           `json:"max_open_connections"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// Health returns connection-pool and reachability information.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{CheckedAt: time.Now()}

	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status, nil
	}

	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.WaitCount = stats.WaitCount
	status.WaitDuration = stats.WaitDuration
	status.MaxOpenConnections = stats.MaxOpenConnections

	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err == nil {
		status.Version = version
	}

	return status, nil
}

// ============================================================================
// MIGRATION SUPPORT
// ============================================================================

// Migration is one embedded SQL file.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

// MigrateUp applies all pending embedded migrations in version order.
func (c *Client) MigrateUp(ctx context.Context) error {
	c.logger.Println("running database migrations...")

	migrations, err := c.getMigrations()
	if err != nil {
		return fmt.Errorf("store: get migrations: %w", err)
	}

	applied, err := c.getAppliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("store: get applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			c.logger.Printf("  skipping %s (already applied)", m.Version)
			continue
		}
		c.logger.Printf("  applying %s...", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", m.Version, err)
		}
		c.logger.Printf("  applied %s successfully", m.Version)
	}

	c.logger.Println("migrations complete")
	return nil
}

func (c *Client) getMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		filename := d.Name()
		migrations = append(migrations, Migration{
			Version:  strings.TrimSuffix(filename, ".sql"),
			Filename: filename,
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *Client) getAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyMigration(ctx context.Context, m Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", m.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// ============================================================================
// TRANSACTION SUPPORT
// ============================================================================

// Tx wraps a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

// BeginTx starts a new transaction.
func (c *Client) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
func (t *Tx) Tx() *sql.Tx     { return t.tx }

func (c *Client) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Client) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}
