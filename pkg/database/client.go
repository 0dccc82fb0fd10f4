// Package database provides the shared PostgreSQL connection pool and
// migration runner used by all three binaries.
package database

import (
	stdsql "database/sql"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql, used only by golang-migrate

	"github.com/tarsync/memoryplane/pkg/config"
)

//go:embed migrations/gateway
var gatewayMigrationsFS embed.FS

//go:embed migrations/memory
var memoryMigrationsFS embed.FS

// Schema names which embedded migration set to apply.
type Schema string

const (
	SchemaGateway Schema = "gateway"
	SchemaMemory  Schema = "memory"
)

// Client wraps a pgxpool.Pool. Repository code in pkg/memory, pkg/recall
// and pkg/gatewaystore is handed the Client's Pool explicitly rather than
// reaching for a package-level global (§9 design note on injected, not
// global, state).
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pgxpool connection pool, applies pending migrations for
// the given schema, and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg *config.DatabaseConfig, schema Schema) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(cfg, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.Pool.Close()
}

// runMigrations opens its own database/sql connection (golang-migrate needs
// one) distinct from the pgxpool used for normal traffic, and closes it when
// done — never the shared pool.
func runMigrations(cfg *config.DatabaseConfig, schema Schema) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	migFS, dir := gatewayMigrationsFS, "migrations/gateway"
	if schema == SchemaMemory {
		migFS, dir = memoryMigrationsFS, "migrations/memory"
	}

	has, err := hasEmbeddedMigrations(migFS, dir)
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !has {
		return fmt.Errorf("no embedded migration files found for schema %q", schema)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migFS, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return sourceDriver.Close()
}

func hasEmbeddedMigrations(migFS embed.FS, dir string) (bool, error) {
	entries, err := fs.ReadDir(migFS, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
