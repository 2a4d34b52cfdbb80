package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/servicetest"
	"github.com/sagarc03/anystore/services/kv"
	"github.com/sagarc03/anystore/services/postgres"
)

// setupTestStore opens a store on a unique table and drops it afterwards.
func setupTestStore(t *testing.T, root string) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	table := fmt.Sprintf("objects_%s", getRandomString(t))
	store, err := postgres.Open(ctx, postgres.Config{DSN: getSharedTestDSN(t), Table: table, Root: root})
	require.NoError(t, err, "failed to open store")

	t.Cleanup(func() {
		_ = postgres.DropTables(ctx, store.Adapter().Pool(), table)
		_ = store.Close()
	})
	return store
}

func TestContract(t *testing.T) {
	servicetest.Run(t, func(t *testing.T) *anystore.Operator {
		return anystore.NewOperator(setupTestStore(t, ""))
	})
}

func TestContract_WithRoot(t *testing.T) {
	servicetest.Run(t, func(t *testing.T) *anystore.Operator {
		return anystore.NewOperator(setupTestStore(t, "tenant"))
	})
}

func TestOpen_InvalidTable(t *testing.T) {
	_, err := postgres.Open(context.Background(), postgres.Config{DSN: "postgres://unused", Table: "Bad Table"})
	assert.ErrorIs(t, err, anystore.ErrInvalidInput)
}

func TestFromOptions_MissingDSN(t *testing.T) {
	_, err := postgres.FromOptions(context.Background(), map[string]string{"table": "x"})
	assert.ErrorIs(t, err, anystore.ErrInvalidInput)
}

func TestValidateSchema(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, getSharedTestDSN(t))
	require.NoError(t, err)
	defer pool.Close()

	table := fmt.Sprintf("partial_%s", getRandomString(t))
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (key TEXT PRIMARY KEY, data BYTEA)`, pgx.Identifier{table}.Sanitize()))
	require.NoError(t, err)
	defer func() { _ = postgres.DropTables(ctx, pool, table) }()

	err = postgres.ValidateSchema(ctx, pool, table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
	assert.Contains(t, err.Error(), "data: expected nullable=false, got nullable=true")

	err = postgres.ValidateSchema(ctx, pool, "does_not_exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestScan_EscapesLikePattern(t *testing.T) {
	ctx := context.Background()
	adapter := setupTestStore(t, "").Adapter()

	for _, key := range []string{"a_b/1", "axb/1", "a%b/1", "A_b/1"} {
		require.NoError(t, adapter.Set(ctx, kv.Record{Key: key, Data: []byte(key)}, false))
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"a_b/", []string{"a_b/1"}},
		{"a%b/", []string{"a%b/1"}},
		{"a", []string{"a%b/1", "a_b/1", "axb/1"}},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			recs, err := adapter.Scan(ctx, tt.prefix, "", 10)
			require.NoError(t, err)

			var got []string
			for _, r := range recs {
				got = append(got, r.Key)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSet_IfNotExists(t *testing.T) {
	ctx := context.Background()
	adapter := setupTestStore(t, "").Adapter()

	require.NoError(t, adapter.Set(ctx, kv.Record{Key: "k", Data: []byte("one"), Size: 3}, true))
	err := adapter.Set(ctx, kv.Record{Key: "k", Data: []byte("two"), Size: 3}, true)
	assert.ErrorIs(t, err, anystore.ErrAlreadyExists)

	rec, err := adapter.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), rec.Data)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind anystore.ErrorKind
		temp bool
		ok   bool
	}{
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), anystore.KindNotFound, false, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, anystore.KindAlreadyExists, false, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, anystore.KindUnexpected, true, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, anystore.KindRateLimited, true, true},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, anystore.KindPermissionDenied, false, true},
		{"other sqlstate", &pgconn.PgError{Code: "XX000"}, anystore.KindUnexpected, false, true},
		{"unrelated", errors.New("boom"), 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, temp, ok := postgres.MapError(tt.err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.kind, kind)
				assert.Equal(t, tt.temp, temp)
			}
		})
	}
}
