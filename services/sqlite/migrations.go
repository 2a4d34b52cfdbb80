package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sagarc03/anystore/services/internal/sqlutil"
)

type TableMigration struct {
	TableName string
	Up        func(ctx context.Context, db *sql.DB) error
	Down      func(ctx context.Context, db *sql.DB) error
}

// getTableMigrations returns all table migrations for an object table
func getTableMigrations(table string) []TableMigration {
	return []TableMigration{
		{
			TableName: table,
			Up:        createObjectTable(table),
			Down:      dropTable(table),
		},
	}
}

// Migrate creates the object table and its indexes when they are missing.
func Migrate(ctx context.Context, db *sql.DB, table string) error {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	for _, migration := range getTableMigrations(table) {
		if err := migration.Up(ctx, db); err != nil {
			return fmt.Errorf("migrate up %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func DropTables(ctx context.Context, db *sql.DB, table string) error {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}

	migrations := getTableMigrations(table)
	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if err := migration.Down(ctx, db); err != nil {
			return fmt.Errorf("migrate down %s: %w", migration.TableName, err)
		}
	}

	return nil
}

func createObjectTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		quotedTable := sqlutil.QuoteIdentifier(tableName)
		indexUpdatedAt := sqlutil.QuoteIdentifier(fmt.Sprintf("idx_%s_updated_at", tableName))

		// key uses the default BINARY collation, so ORDER BY key is byte order
		createTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT NOT NULL PRIMARY KEY,
				data BLOB NOT NULL,
				size INTEGER NOT NULL,
				content_type TEXT NOT NULL,
				content_disposition TEXT NOT NULL,
				etag TEXT NOT NULL,
				content_md5 TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`, quotedTable)

		if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		indexSQL := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s ON %s (updated_at)
		`, indexUpdatedAt, quotedTable)

		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index updated_at: %w", err)
		}

		return nil
	}
}

func dropTable(tableName string) func(context.Context, *sql.DB) error {
	return func(ctx context.Context, db *sql.DB) error {
		dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", sqlutil.QuoteIdentifier(tableName))

		_, err := db.ExecContext(ctx, dropSQL)
		return err
	}
}
