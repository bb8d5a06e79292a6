// Package database implements the relational sink of the Dual-Store
// Persistence Layer (§4.6): connection pooling, embedded migrations, the
// bridge_transfer repository (upsert, correlation queries, rescoring
// sweeps), and the dead-letter repository.
//
// Grounded on the teacher's pkg/database/client.go: the same
// connection-pool-plus-embedded-migrations Client shape, the same
// QueryRowContext/QueryContext/ExecContext/BeginTx delegation methods used
// by every repository file.
package database

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

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pooled *sql.DB with migration support and health
// reporting. Chain Clients are never shared across Observers (§5); this
// Client, by contrast, is the single shared relational pool the spec
// calls for (default size 10).
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLogger overrides the default component logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// PoolSettings sizes the connection pool (§5 "relational 10").
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolSettings matches the spec's default relational pool size.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{MaxOpenConns: 10, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute}
}

// NewClient opens a pooled connection to databaseURL and verifies it with
// a ping before returning.
func NewClient(ctx context.Context, databaseURL string, pool PoolSettings, opts ...ClientOption) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	c := &Client{logger: log.New(log.Writer(), "[Database] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(c)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	c.db = db

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	c.logger.Printf("connected (max_conns=%d)", pool.MaxOpenConns)
	return c, nil
}

// DB returns the underlying *sql.DB for callers that need raw access.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.db != nil {
		c.logger.Println("closing database connection")
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// HealthStatus reports pool-level health for Supervisor status().
type HealthStatus struct {
	Healthy            bool
	Error              string
	OpenConnections    int
	InUse              int
	Idle               int
	MaxOpenConnections int
	CheckedAt          time.Time
}

// Health snapshots connection pool stats.
func (c *Client) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{CheckedAt: time.Now()}
	if err := c.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status
	}
	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	status.MaxOpenConnections = stats.MaxOpenConnections
	return status
}

// ExecContext delegates to the pooled *sql.DB.
func (c *Client) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext delegates to the pooled *sql.DB.
func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext delegates to the pooled *sql.DB.
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction, used by the transfer repository's atomic
// correlation link (§4.4, §5's linearization point).
func (c *Client) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// Migration is one embedded, versioned SQL file.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in filename order, each inside its own transaction.
func (c *Client) MigrateUp(ctx context.Context) error {
	c.logger.Println("running migrations...")
	migrations, err := c.loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("load applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		c.logger.Printf("applying %s", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
	}
	c.logger.Println("migrations complete")
	return nil
}

func (c *Client) loadMigrations() ([]Migration, error) {
	var out []Migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, Migration{
			Version:  strings.TrimSuffix(d.Name(), ".sql"),
			Filename: d.Name(),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (c *Client) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyMigration(ctx context.Context, m Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)
		 ON CONFLICT (version) DO NOTHING`, m.Version, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}
