package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagarc03/anystore/services/internal/sqlutil"
)

// Migrate creates the object table when it is missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return createObjectTable(ctx, pool, table)
}

// DropTables removes the object table.
func DropTables(ctx context.Context, pool *pgxpool.Pool, table string) error {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pgx.Identifier{table}.Sanitize())
	if _, err := pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}

func createObjectTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexUpdatedAt := pgx.Identifier{fmt.Sprintf("idx_%s_updated_at", tableName)}.Sanitize()

	// COLLATE "C" keeps key comparisons and ORDER BY in byte order.
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT COLLATE "C" PRIMARY KEY,
			data BYTEA NOT NULL,
			size BIGINT NOT NULL,
			content_type TEXT NOT NULL,
			content_disposition TEXT NOT NULL,
			etag TEXT NOT NULL,
			content_md5 TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (updated_at);
	`,
		quotedTable,
		indexUpdatedAt, quotedTable,
	)

	_, err := pool.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("create object table: %w", err)
	}
	return nil
}
