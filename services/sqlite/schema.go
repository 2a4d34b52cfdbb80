package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sagarc03/anystore/services/internal/sqlutil"
)

var objectTableSchema = map[string]sqlutil.Column{
	"key":                 {Type: "text"},
	"data":                {Type: "blob"},
	"size":                {Type: "integer"},
	"content_type":        {Type: "text"},
	"content_disposition": {Type: "text"},
	"etag":                {Type: "text"},
	"content_md5":         {Type: "text"},
	"updated_at":          {Type: "text"},
}

// ValidateSchema checks that table exists and has the columns the adapter
// reads and writes.
func ValidateSchema(ctx context.Context, db *sql.DB, table string) error {
	if err := validateTableSchema(ctx, db, table, objectTableSchema); err != nil {
		return fmt.Errorf("validate schema %s: %w", table, err)
	}
	return nil
}

func validateTableSchema(ctx context.Context, db *sql.DB, tableName string, expectedSchema map[string]sqlutil.Column) error {
	if !sqlutil.IsValidTableName(tableName) {
		return fmt.Errorf("validate table schema: invalid table name: %s", tableName)
	}

	exists, err := tableExists(ctx, db, tableName)
	if err != nil {
		return fmt.Errorf("validate table schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("validate table schema: table %s does not exist", tableName)
	}

	// SQLite uses PRAGMA table_info to get column information
	query := fmt.Sprintf(`PRAGMA table_info(%s)`, sqlutil.QuoteIdentifier(tableName))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("validate table schema: query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	actual := make(map[string]sqlutil.Column)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, dataType   string
			dfltValue        sql.NullString
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("validate table schema: scan column: %w", err)
		}
		// PRIMARY KEY does not imply NOT NULL in SQLite, so pk counts too.
		actual[name] = sqlutil.Column{Type: dataType, Nullable: notNull == 0 && pk == 0}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("validate table schema: rows error: %w", err)
	}

	return sqlutil.CompareSchema(tableName, expectedSchema, actual)
}

func tableExists(ctx context.Context, db *sql.DB, tableName string) (bool, error) {
	var name string
	query := `SELECT name FROM sqlite_master WHERE type='table' AND name=?`
	err := db.QueryRowContext(ctx, query, tableName).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return true, nil
}
