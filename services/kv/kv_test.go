package kv_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/servicetest"
	"github.com/sagarc03/anystore/services/kv"
)

// mapAdapter is an Adapter over a plain map.
type mapAdapter struct {
	mu   sync.Mutex
	data map[string]kv.Record
}

func newMapAdapter() *mapAdapter {
	return &mapAdapter{data: make(map[string]kv.Record)}
}

func (m *mapAdapter) Scheme() string { return "map" }
func (m *mapAdapter) Name() string   { return "test" }

func (m *mapAdapter) Get(_ context.Context, key string) (kv.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[key]
	if !ok {
		return kv.Record{}, anystore.NewError(anystore.KindNotFound, "no such key")
	}
	return rec, nil
}

func (m *mapAdapter) Head(ctx context.Context, key string) (kv.Record, error) {
	rec, err := m.Get(ctx, key)
	rec.Data = nil
	return rec, err
}

func (m *mapAdapter) Set(_ context.Context, rec kv.Record, ifNotExists bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[rec.Key]; ok && ifNotExists {
		return anystore.NewError(anystore.KindAlreadyExists, "key exists")
	}
	m.data[rec.Key] = rec
	return nil
}

func (m *mapAdapter) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapAdapter) Scan(_ context.Context, prefix, after string, limit int) ([]kv.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	recs := make([]kv.Record, 0, len(keys))
	for _, k := range keys {
		rec := m.data[k]
		rec.Data = nil
		recs = append(recs, rec)
	}
	return recs, nil
}

func TestContract(t *testing.T) {
	servicetest.Run(t, func(t *testing.T) *anystore.Operator {
		return anystore.NewOperator(kv.New(newMapAdapter(), ""))
	})
}

func TestContract_WithRoot(t *testing.T) {
	servicetest.Run(t, func(t *testing.T) *anystore.Operator {
		return anystore.NewOperator(kv.New(newMapAdapter(), "tenants/a"))
	})
}

func TestList_CollapsesSubtrees(t *testing.T) {
	ctx := context.Background()
	op := anystore.NewOperator(kv.New(newMapAdapter(), ""))

	for _, p := range []string{"d/a", "d/big/1", "d/big/2", "d/big/3", "d/big/x/4", "d/z"} {
		_, err := op.Write(ctx, p, []byte(p))
		require.NoError(t, err)
	}
	require.NoError(t, op.CreateDir(ctx, "d/empty/"))

	tests := []struct {
		name  string
		limit int
	}{
		{"one per page", 1},
		{"two per page", 2},
		{"single page", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := op.ListAll(ctx, "d/", anystore.ListOptions{Limit: tt.limit})
			require.NoError(t, err)

			var got []string
			for _, e := range entries {
				got = append(got, e.Path)
			}
			assert.Equal(t, []string{"d/a", "d/big/", "d/empty/", "d/z"}, got)
		})
	}
}

func TestList_ResumeFromToken(t *testing.T) {
	ctx := context.Background()
	op := anystore.NewOperator(kv.New(newMapAdapter(), ""))
	for _, p := range []string{"a", "b", "c", "d"} {
		_, err := op.Write(ctx, p, []byte(p))
		require.NoError(t, err)
	}

	l, err := op.List(ctx, "", anystore.ListOptions{Limit: 2})
	require.NoError(t, err)
	page, err := l.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	token := l.Token()
	require.NoError(t, l.Close())

	rest, err := op.ListAll(ctx, "", anystore.ListOptions{Limit: 2, Token: token})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "c", rest[0].Path)
	assert.Equal(t, "d", rest[1].Path)
}

func TestStat_ImplicitDir(t *testing.T) {
	ctx := context.Background()
	op := anystore.NewOperator(kv.New(newMapAdapter(), ""))
	_, err := op.Write(ctx, "x/y/z", []byte("deep"))
	require.NoError(t, err)

	meta, err := op.Stat(ctx, "x/y/")
	require.NoError(t, err)
	assert.True(t, meta.IsDir())

	_, err = op.Stat(ctx, "x/q/")
	assert.ErrorIs(t, err, anystore.ErrNotFound)
}

func TestRecord_Metadata(t *testing.T) {
	rec := kv.Record{Key: "a.txt", Size: 3, ContentType: "text/plain", ETag: "abc"}
	meta := rec.Metadata()

	assert.True(t, meta.IsFile())
	n, _ := meta.ContentLength()
	assert.Equal(t, int64(3), n)
	_, ok := meta.LastModified()
	assert.False(t, ok)
	_, ok = meta.ContentDisposition()
	assert.False(t, ok)

	dir := kv.Record{Key: "dir/"}.Metadata()
	assert.True(t, dir.IsDir())
	_, ok = dir.ContentLength()
	assert.False(t, ok)
}
