package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/taskgraphgo/cache"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresOutputCache implements cache.OutputCache using PostgreSQL
type PostgresOutputCache struct {
	pool      DBPool
	tableName string
}

var _ cache.OutputCache = (*PostgresOutputCache)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "task_outputs"
}

// NewPostgresOutputCache creates a new Postgres output cache
func NewPostgresOutputCache(ctx context.Context, opts PostgresOptions) (*PostgresOutputCache, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "task_outputs"
	}

	return &PostgresOutputCache{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// NewPostgresOutputCacheWithPool creates a new Postgres output cache with an
// existing pool. Useful for testing with mocks.
func NewPostgresOutputCacheWithPool(pool DBPool, tableName string) *PostgresOutputCache {
	if tableName == "" {
		tableName = "task_outputs"
	}
	return &PostgresOutputCache{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (c *PostgresOutputCache) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			task_type TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			output JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (task_type, cache_key)
		);
	`, c.tableName)

	_, err := c.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (c *PostgresOutputCache) Close() {
	c.pool.Close()
}

// GetOutput returns the cached output for the key.
func (c *PostgresOutputCache) GetOutput(ctx context.Context, taskType, key string) (map[string]any, bool, error) {
	query := fmt.Sprintf(`
		SELECT output FROM %s WHERE task_type = $1 AND cache_key = $2
	`, c.tableName)

	var outputJSON []byte
	err := c.pool.QueryRow(ctx, query, taskType, key).Scan(&outputJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load output: %w", err)
	}

	var output map[string]any
	if err := json.Unmarshal(outputJSON, &output); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached output: %w", err)
	}
	return output, true, nil
}

// PutOutput stores the output for the key.
func (c *PostgresOutputCache) PutOutput(ctx context.Context, taskType, key string, output map[string]any) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (task_type, cache_key, output, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_type, cache_key) DO UPDATE SET
			output = EXCLUDED.output,
			created_at = EXCLUDED.created_at
	`, c.tableName)

	_, err = c.pool.Exec(ctx, query, taskType, key, outputJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}
	return nil
}
