// Package postgres stores objects as rows of a PostgreSQL table through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
	"github.com/sagarc03/anystore/services/internal/sqlutil"
	"github.com/sagarc03/anystore/services/kv"
)

// Scheme is the scheme name of the PostgreSQL backend.
const Scheme = "postgres"

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "anystore_objects"

// SQLSTATE codes the error mapper recognises.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInsufficientPrivs    = "42501"
	codeUndefinedTable       = "42P01"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
	codeProgramLimitExceeded = "54000"
)

// Config configures a PostgreSQL accessor.
type Config struct {
	// DSN is a pgx connection string or URL.
	DSN         string `mapstructure:"dsn" validate:"required"`
	Table       string `mapstructure:"table"`
	Root        string `mapstructure:"root"`
	SkipMigrate bool   `mapstructure:"skip_migrate"`
}

// Adapter implements kv.Adapter on a pgx pool.
type Adapter struct {
	pool   *pgxpool.Pool
	table  string
	quoted string
}

var errNotFound = anystore.NewError(anystore.KindNotFound, "key not found")

// NewAdapter uses pool as is. The table must already exist.
func NewAdapter(pool *pgxpool.Pool, table string) (*Adapter, error) {
	if err := sqlutil.ValidateTableName(table); err != nil {
		return nil, anystore.NewError(anystore.KindInvalidInput, err.Error())
	}
	return &Adapter{pool: pool, table: table, quoted: pgx.Identifier{table}.Sanitize()}, nil
}

func (a *Adapter) Scheme() string { return Scheme }
func (a *Adapter) Name() string   { return a.table }

// Pool returns the underlying pool.
func (a *Adapter) Pool() *pgxpool.Pool { return a.pool }

const columns = `key, size, content_type, content_disposition, etag, content_md5, updated_at`

func (a *Adapter) Get(ctx context.Context, key string) (kv.Record, error) {
	query := fmt.Sprintf(`SELECT %s, data FROM %s WHERE key = $1`, columns, a.quoted)

	var rec kv.Record
	err := a.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Size, &rec.ContentType, &rec.ContentDisposition, &rec.ETag, &rec.ContentMD5, &rec.UpdatedAt, &rec.Data,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kv.Record{}, errNotFound
		}
		return kv.Record{}, fmt.Errorf("get: %w", err)
	}
	return rec, nil
}

func (a *Adapter) Head(ctx context.Context, key string) (kv.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, columns, a.quoted)

	var rec kv.Record
	err := a.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.Size, &rec.ContentType, &rec.ContentDisposition, &rec.ETag, &rec.ContentMD5, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kv.Record{}, errNotFound
		}
		return kv.Record{}, fmt.Errorf("head: %w", err)
	}
	return rec, nil
}

func (a *Adapter) Set(ctx context.Context, rec kv.Record, ifNotExists bool) error {
	conflict := `DO UPDATE SET
		data = EXCLUDED.data,
		size = EXCLUDED.size,
		content_type = EXCLUDED.content_type,
		content_disposition = EXCLUDED.content_disposition,
		etag = EXCLUDED.etag,
		content_md5 = EXCLUDED.content_md5,
		updated_at = EXCLUDED.updated_at`
	if ifNotExists {
		conflict = `DO NOTHING`
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key, data, size, content_type, content_disposition, etag, content_md5, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) %s
	`, a.quoted, conflict)

	data := rec.Data
	if data == nil {
		data = []byte{}
	}
	tag, err := a.pool.Exec(ctx, query,
		rec.Key, data, rec.Size, rec.ContentType, rec.ContentDisposition, rec.ETag, rec.ContentMD5, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	if ifNotExists && tag.RowsAffected() == 0 {
		return anystore.NewError(anystore.KindAlreadyExists, "key already exists")
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, a.quoted)

	if _, err := a.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (a *Adapter) Scan(ctx context.Context, prefix, after string, limit int) ([]kv.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE key LIKE $1 || '%%' ESCAPE '\' AND key > $2
		ORDER BY key
		LIMIT $3
	`, columns, a.quoted)

	rows, err := a.pool.Query(ctx, query, sqlutil.EscapeLikePattern(prefix), after, limit)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	recs := make([]kv.Record, 0, limit)
	for rows.Next() {
		var rec kv.Record
		if err := rows.Scan(
			&rec.Key, &rec.Size, &rec.ContentType, &rec.ContentDisposition, &rec.ETag, &rec.ContentMD5, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan: rows error: %w", err)
	}
	return recs, nil
}

// MapError classifies pgx and PostgreSQL errors.
func MapError(err error) (anystore.ErrorKind, bool, bool) {
	if errors.Is(err, pgx.ErrNoRows) {
		return anystore.KindNotFound, false, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return anystore.KindAlreadyExists, false, true
		case codeSerializationFailure, codeDeadlockDetected, codeAdminShutdown, codeCannotConnectNow:
			return anystore.KindUnexpected, true, true
		case codeTooManyConnections:
			return anystore.KindRateLimited, true, true
		case codeInsufficientPrivs:
			return anystore.KindPermissionDenied, false, true
		case codeUndefinedTable:
			return anystore.KindInvalidState, false, true
		case codeProgramLimitExceeded:
			return anystore.KindInvalidInput, false, true
		}
		return anystore.KindUnexpected, false, true
	}

	if pgconn.SafeToRetry(err) {
		return anystore.KindUnexpected, true, true
	}
	return 0, false, false
}

// Store is a kv accessor that owns its connection pool.
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

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if !cfg.SkipMigrate {
		if err = Migrate(ctx, pool, cfg.Table); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	if err = ValidateSchema(ctx, pool, cfg.Table); err != nil {
		pool.Close()
		return nil, fmt.Errorf("validate postgres schema: %w", err)
	}

	adapter, err := NewAdapter(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{Accessor: kv.New(adapter, cfg.Root, MapError), adapter: adapter}, nil
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

// Close closes the pool.
func (s *Store) Close() error {
	s.adapter.pool.Close()
	return nil
}
