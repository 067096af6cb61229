package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/taskgraphgo/cache"
)

// SqliteOutputCache implements cache.OutputCache using SQLite
type SqliteOutputCache struct {
	db        *sql.DB
	tableName string
}

var _ cache.OutputCache = (*SqliteOutputCache)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "task_outputs"
}

// NewSqliteOutputCache creates a new SQLite output cache
func NewSqliteOutputCache(opts SqliteOptions) (*SqliteOutputCache, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "task_outputs"
	}

	store := &SqliteOutputCache{
		db:        db,
		tableName: tableName,
	}

	if err := store.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (c *SqliteOutputCache) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			task_type TEXT NOT NULL,
			cache_key TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (task_type, cache_key)
		);
	`, c.tableName)

	_, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *SqliteOutputCache) Close() error {
	return c.db.Close()
}

// GetOutput returns the cached output for the key.
func (c *SqliteOutputCache) GetOutput(ctx context.Context, taskType, key string) (map[string]any, bool, error) {
	query := fmt.Sprintf(`
		SELECT output FROM %s WHERE task_type = ? AND cache_key = ?
	`, c.tableName)

	var outputJSON string
	err := c.db.QueryRowContext(ctx, query, taskType, key).Scan(&outputJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load output: %w", err)
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(outputJSON), &output); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached output: %w", err)
	}
	return output, true, nil
}

// PutOutput stores the output for the key.
func (c *SqliteOutputCache) PutOutput(ctx context.Context, taskType, key string, output map[string]any) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (task_type, cache_key, output, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_type, cache_key) DO UPDATE SET
			output = excluded.output,
			created_at = excluded.created_at
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query, taskType, key, string(outputJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}
	return nil
}
