package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// SchemaSQL renders the schema for a table prefix
func SchemaSQL(prefix string) string {
	return strings.ReplaceAll(schemaSQL, "{{prefix}}", prefix)
}

// EnsureSchema creates the tables and indexes for prefix when missing
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, prefix string, logger *slog.Logger) error {
	if _, err := pool.Exec(ctx, SchemaSQL(prefix)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("database schema ready", "prefix", prefix)
	return nil
}

// DropSchema removes the tables of prefix, children first
func DropSchema(ctx context.Context, pool *pgxpool.Pool, prefix string, logger *slog.Logger) error {
	tables := NewTableNames(prefix)
	sql := fmt.Sprintf(`
		DROP TABLE IF EXISTS %s CASCADE;
		DROP TABLE IF EXISTS %s CASCADE;
		DROP TABLE IF EXISTS %s CASCADE;
		DROP TABLE IF EXISTS %s CASCADE;
	`, tables.Messages, tables.Runs, tables.Assistants, tables.Threads)

	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	logger.Warn("database tables dropped", "prefix", prefix)
	return nil
}
