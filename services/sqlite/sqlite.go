// Package sqlite stores objects as rows of a single SQLite table. It is a
// kv.Adapter; Open wraps it into a ready accessor.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
	"github.com/sagarc03/anystore/services/internal/sqlutil"
	"github.com/sagarc03/anystore/services/kv"
)

// Scheme is the scheme name of the SQLite backend.
const Scheme = "sqlite"

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "anystore_objects"

// Config configures a SQLite accessor.
type Config struct {
	// DSN is passed to the modernc.org/sqlite driver, e.g. "file:data.db".
	DSN   string `mapstructure:"dsn" validate:"required"`
	Table string `mapstructure:"table"`
	Root  string `mapstructure:"root"`
	// SkipMigrate only validates the schema instead of creating it.
	SkipMigrate bool `mapstructure:"skip_migrate"`
}

// Adapter implements kv.Adapter on a *sql.DB.
type Adapter struct {
	db    *sql.DB
	table string
	// quoted is the table name ready for interpolation.
	quoted string
}

// NewAdapter uses db as is. The table must already exist.
func NewAdapter(db *sql.DB, table string) (*Adapter, error) {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return nil, anystore.NewError(anystore.KindInvalidInput, err.Error())
	}
	return &Adapter{db: db, table: table, quoted: sqlutil.QuoteIdentifier(table)}, nil
}

func (a *Adapter) Scheme() string { return Scheme }
func (a *Adapter) Name() string   { return a.table }

// DB returns the underlying handle.
func (a *Adapter) DB() *sql.DB { return a.db }

var errNotFound = anystore.NewError(anystore.KindNotFound, "key not found")

const columns = `key, size, content_type, content_disposition, etag, content_md5, updated_at`

func (a *Adapter) Get(ctx context.Context, key string) (kv.Record, error) {
	query := fmt.Sprintf(`SELECT %s, data FROM %s WHERE key = ?`, columns, a.quoted) //nolint:gosec // G201: table name is validated

	var rec kv.Record
	var updatedAt string
	err := a.db.QueryRowContext(ctx, query, key).Scan(
		&rec.Key, &rec.Size, &rec.ContentType, &rec.ContentDisposition, &rec.ETag, &rec.ContentMD5, &updatedAt, &rec.Data,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kv.Record{}, errNotFound
		}
		return kv.Record{}, fmt.Errorf("get: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return kv.Record{}, fmt.Errorf("get: parse updated_at: %w", err)
	}
	return rec, nil
}

func (a *Adapter) Head(ctx context.Context, key string) (kv.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = ?`, columns, a.quoted) //nolint:gosec // G201: table name is validated

	rec, err := scanRecord(a.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kv.Record{}, errNotFound
		}
		return kv.Record{}, fmt.Errorf("head: %w", err)
	}
	return rec, nil
}

func (a *Adapter) Set(ctx context.Context, rec kv.Record, ifNotExists bool) error {
	conflict := `DO UPDATE SET
		data = excluded.data,
		size = excluded.size,
		content_type = excluded.content_type,
		content_disposition = excluded.content_disposition,
		etag = excluded.etag,
		content_md5 = excluded.content_md5,
		updated_at = excluded.updated_at`
	if ifNotExists {
		conflict = `DO NOTHING`
	}

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (key, data, size, content_type, content_disposition, etag, content_md5, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) %s`, a.quoted, conflict)

	data := rec.Data
	if data == nil {
		data = []byte{}
	}
	result, err := a.db.ExecContext(ctx, query,
		rec.Key, data, rec.Size, rec.ContentType, rec.ContentDisposition, rec.ETag, rec.ContentMD5,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	if ifNotExists {
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("set: rows affected: %w", err)
		}
		if n == 0 {
			return anystore.NewError(anystore.KindAlreadyExists, "key already exists")
		}
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, a.quoted) //nolint:gosec // G201: table name is validated

	if _, err := a.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Scan selects by key range rather than LIKE, which is case-insensitive in
// SQLite.
func (a *Adapter) Scan(ctx context.Context, prefix, after string, limit int) ([]kv.Record, error) {
	where := `key > ? AND key >= ?`
	args := []any{after, prefix}
	if upper := sqlutil.PrefixUpperBound(prefix); upper != "" {
		where += ` AND key < ?`
		args = append(args, upper)
	}
	args = append(args, limit)

	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT %s FROM %s
		WHERE %s
		ORDER BY key
		LIMIT ?`, columns, a.quoted, where)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recs := make([]kv.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan: rows error: %w", err)
	}
	return recs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (kv.Record, error) {
	var rec kv.Record
	var updatedAt string
	if err := row.Scan(
		&rec.Key, &rec.Size, &rec.ContentType, &rec.ContentDisposition, &rec.ETag, &rec.ContentMD5, &updatedAt,
	); err != nil {
		return kv.Record{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return kv.Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

// MapError classifies database/sql and SQLite errors.
func MapError(err error) (anystore.ErrorKind, bool, bool) {
	if errors.Is(err, sql.ErrNoRows) {
		return anystore.KindNotFound, false, true
	}
	if errors.Is(err, sql.ErrConnDone) {
		return anystore.KindUnexpected, true, true
	}

	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false, false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return anystore.KindUnexpected, true, true
	case sqlite3.SQLITE_CONSTRAINT:
		return anystore.KindAlreadyExists, false, true
	case sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
		return anystore.KindPermissionDenied, false, true
	case sqlite3.SQLITE_TOOBIG:
		return anystore.KindInvalidInput, false, true
	}
	return anystore.KindUnexpected, false, true
}

// Store is a kv accessor that owns its database handle.
type Store struct {
	*kv.Accessor
	adapter *Adapter
}

// Open connects to cfg.DSN, migrates and validates the table, and returns
// an accessor over it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if err := sqlutil.ValidateTableName(cfg.Table); err != nil {
		return nil, anystore.NewError(anystore.KindInvalidInput, err.Error())
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if !cfg.SkipMigrate {
		if err = Migrate(ctx, db, cfg.Table); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}

	if err = ValidateSchema(ctx, db, cfg.Table); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("validate sqlite schema: %w", err)
	}

	adapter, err := NewAdapter(db, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		Accessor: kv.New(adapter, cfg.Root, MapError),
		adapter:  adapter,
	}, nil
}

// FromOptions decodes raw into a Config and opens it.
func FromOptions(ctx context.Context, raw map[string]string) (*Store, error) {
	var cfg Config
	if err := options.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return Open(ctx, cfg)
}

// Adapter returns the table adapter.
func (s *Store) Adapter() *Adapter { return s.adapter }

// Close closes the database handle.
func (s *Store) Close() error {
	return s.adapter.db.Close()
}
