// Package servicetest runs the accessor contract against a backend. Each
// check is skipped when the backend's capability does not cover it.
package servicetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
)

// Run checks the operator's accessor against the contract. newOperator must
// return an operator over an empty backend on every call.
func Run(t *testing.T, newOperator func(t *testing.T) *anystore.Operator) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, op *anystore.Operator)
	}{
		{"write read stat", testWriteReadStat},
		{"read range", testReadRange},
		{"stat missing", testStatMissing},
		{"write empty", testWriteEmpty},
		{"write overwrite", testOverwrite},
		{"write chunked", testWriteChunked},
		{"write if not exists", testWriteIfNotExists},
		{"writer abort", testWriterAbort},
		{"delete", testDelete},
		{"create dir", testCreateDir},
		{"list one level", testListOneLevel},
		{"list recursive", testListRecursive},
		{"list pages", testListPages},
		{"copy", testCopy},
		{"rename", testRename},
		{"batch", testBatch},
		{"remove all", testRemoveAll},
		{"conditional read", testConditionalRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newOperator(t))
		})
	}
}

func skipUnless(t *testing.T, op *anystore.Operator, ops ...anystore.Operation) {
	t.Helper()
	for _, o := range ops {
		if !op.Capability().Supports(o) {
			t.Skipf("%s is not supported", o)
		}
	}
}

func write(t *testing.T, op *anystore.Operator, path, content string) anystore.Metadata {
	t.Helper()
	meta, err := op.Write(context.Background(), path, []byte(content))
	require.NoError(t, err, "write %s", path)
	return meta
}

func paths(entries []anystore.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	slices.Sort(out)
	return out
}

func testWriteReadStat(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead, anystore.OpStat)
	ctx := context.Background()

	meta := write(t, op, "dir/hello.txt", "hello world")
	if n, ok := meta.ContentLength(); ok {
		assert.Equal(t, int64(11), n)
	}

	got, err := op.Read(ctx, "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	stat, err := op.Stat(ctx, "dir/hello.txt")
	require.NoError(t, err)
	assert.True(t, stat.IsFile())
	n, ok := stat.ContentLength()
	require.True(t, ok)
	assert.Equal(t, int64(11), n)

	dir, err := op.Stat(ctx, "dir/")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
}

func testReadRange(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead)
	ctx := context.Background()
	write(t, op, "range.bin", "0123456789")

	tests := []struct {
		name string
		rng  anystore.BytesRange
		want string
	}{
		{"full", anystore.BytesRange{}, "0123456789"},
		{"offset", anystore.RangeFrom(4), "456789"},
		{"window", anystore.RangeOf(2, 3), "234"},
		{"past end", anystore.RangeOf(8, 10), "89"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := op.ReadWith(ctx, "range.bin", anystore.ReadOptions{Range: tt.rng})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	t.Run("seek", func(t *testing.T) {
		r, err := op.Reader(ctx, "range.bin", anystore.ReadOptions{})
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Seek(7, io.SeekStart)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "789", string(got))
	})
}

func testStatMissing(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpStat)
	ctx := context.Background()

	_, err := op.Stat(ctx, "missing/file.txt")
	assert.ErrorIs(t, err, anystore.ErrNotFound)

	ok, err := op.Exists(ctx, "missing/file.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testWriteEmpty(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead)
	if !op.Capability().WriteCanEmpty {
		t.Skip("empty writes are not supported")
	}

	write(t, op, "empty", "")
	got, err := op.Read(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testOverwrite(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead)
	write(t, op, "file", "first version")
	write(t, op, "file", "second")

	got, err := op.Read(context.Background(), "file")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func testWriteChunked(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead)
	ctx := context.Background()
	c := op.Capability()

	data := bytes.Repeat([]byte("0123456789abcdef"), 1024)
	opts := anystore.WriteOptions{}
	if c.WriteCanMulti {
		opts.ChunkSize = max(c.WriteMultiMinSize, 4096)
		if int64(len(data)) <= opts.ChunkSize {
			data = bytes.Repeat(data, int(opts.ChunkSize)/len(data)+2)
		}
	}

	w, err := op.Writer(ctx, "chunked.bin", opts)
	require.NoError(t, err)
	for chunk := range slices.Chunk(data, 1000) {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	_, err = w.Finalize(ctx)
	require.NoError(t, err)

	got, err := op.Read(ctx, "chunked.bin")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "content differs after a chunked write")
}

func testWriteIfNotExists(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite)
	if !op.Capability().WriteWithIfNotExists {
		t.Skip("if-not-exists is not supported")
	}
	ctx := context.Background()
	opts := anystore.WriteOptions{IfNotExists: true}

	_, err := op.WriteWith(ctx, "once", []byte("a"), opts)
	require.NoError(t, err)

	_, err = op.WriteWith(ctx, "once", []byte("b"), opts)
	assert.ErrorIs(t, err, anystore.ErrAlreadyExists)
}

func testWriterAbort(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpStat)
	ctx := context.Background()

	w, err := op.Writer(ctx, "aborted", anystore.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort(ctx))

	_, err = op.Stat(ctx, "aborted")
	assert.ErrorIs(t, err, anystore.ErrNotFound)

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, anystore.ErrInvalidState)
}

func testDelete(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpDelete, anystore.OpStat)
	ctx := context.Background()
	write(t, op, "doomed", "x")

	require.NoError(t, op.Delete(ctx, "doomed"))
	_, err := op.Stat(ctx, "doomed")
	assert.ErrorIs(t, err, anystore.ErrNotFound)

	err = op.Delete(ctx, "doomed")
	if op.Capability().DeleteMissingIsOK {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, anystore.ErrNotFound)
	}
}

func testCreateDir(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpCreateDir, anystore.OpStat)
	ctx := context.Background()

	require.NoError(t, op.CreateDir(ctx, "made/nested/"))
	require.NoError(t, op.CreateDir(ctx, "made/nested/"), "creating an existing dir succeeds")

	meta, err := op.Stat(ctx, "made/nested/")
	require.NoError(t, err)
	assert.True(t, meta.IsDir())
}

func seedTree(t *testing.T, op *anystore.Operator) {
	t.Helper()
	for _, p := range []string{"tree/a.txt", "tree/b.txt", "tree/sub/c.txt", "tree/sub/deep/d.txt", "other.txt"} {
		write(t, op, p, "content of "+p)
	}
}

func testListOneLevel(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpList)
	seedTree(t, op)

	entries, err := op.ListAll(context.Background(), "tree/", anystore.ListOptions{})
	require.NoError(t, err)

	got := slices.DeleteFunc(paths(entries), func(p string) bool { return p == "tree/" })
	assert.Equal(t, []string{"tree/a.txt", "tree/b.txt", "tree/sub/"}, got)
	for _, e := range entries {
		assert.Equal(t, anystore.IsDir(e.Path), e.Metadata.IsDir(), e.Path)
	}
}

func testListRecursive(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpList)
	seedTree(t, op)

	entries, err := op.ListAll(context.Background(), "tree/", anystore.ListOptions{Recursive: true})
	require.NoError(t, err)

	var files []string
	for _, p := range paths(entries) {
		if !anystore.IsDir(p) {
			files = append(files, p)
		}
	}
	assert.Equal(t, []string{"tree/a.txt", "tree/b.txt", "tree/sub/c.txt", "tree/sub/deep/d.txt"}, files)
}

func testListPages(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpList)
	if !op.Capability().ListWithLimit {
		t.Skip("list limit is not supported")
	}
	ctx := context.Background()
	for i := range 5 {
		write(t, op, fmt.Sprintf("paged/%d", i), "x")
	}

	l, err := op.List(ctx, "paged/", anystore.ListOptions{Limit: 2})
	require.NoError(t, err)
	defer l.Close()

	var got []string
	pages := 0
	for {
		page, err := l.NextPage(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 2)
		pages++
		for _, e := range page {
			got = append(got, e.Path)
		}
	}
	got = slices.DeleteFunc(got, func(p string) bool { return p == "paged/" })
	slices.Sort(got)
	assert.Equal(t, []string{"paged/0", "paged/1", "paged/2", "paged/3", "paged/4"}, got)
	assert.GreaterOrEqual(t, pages, 3)
	assert.True(t, l.Token().IsZero())

	if op.Capability().ListWithStartAfter {
		entries, err := op.ListAll(ctx, "paged/", anystore.ListOptions{StartAfter: "paged/2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"paged/3", "paged/4"}, paths(entries))
	}
}

func testCopy(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpCopy, anystore.OpRead)
	ctx := context.Background()
	write(t, op, "src", "copied")

	require.NoError(t, op.Copy(ctx, "src", "dst/copy"))

	got, err := op.Read(ctx, "dst/copy")
	require.NoError(t, err)
	assert.Equal(t, "copied", string(got))
	got, err = op.Read(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, "copied", string(got))

	err = op.Copy(ctx, "nope", "dst/other")
	assert.ErrorIs(t, err, anystore.ErrNotFound)
}

func testRename(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRename, anystore.OpRead, anystore.OpStat)
	ctx := context.Background()
	write(t, op, "old", "moved")

	require.NoError(t, op.Rename(ctx, "old", "new/place"))

	got, err := op.Read(ctx, "new/place")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(got))
	_, err = op.Stat(ctx, "old")
	assert.ErrorIs(t, err, anystore.ErrNotFound)
}

func testBatch(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpBatch, anystore.OpStat)
	ctx := context.Background()
	write(t, op, "b/1", "x")
	write(t, op, "b/2", "x")

	res, err := op.Batch(ctx, anystore.BatchOptions{Deletes: []string{"b/1", "b/2"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Empty(t, res.Failed())

	for _, p := range []string{"b/1", "b/2"} {
		_, err := op.Stat(ctx, p)
		assert.ErrorIs(t, err, anystore.ErrNotFound, p)
	}
}

func testRemoveAll(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpDelete, anystore.OpList, anystore.OpStat)
	ctx := context.Background()
	seedTree(t, op)

	require.NoError(t, op.RemoveAll(ctx, "tree/"))

	entries, err := op.ListAll(ctx, "tree/", anystore.ListOptions{Recursive: true})
	if err == nil {
		assert.Empty(t, slices.DeleteFunc(paths(entries), anystore.IsDir))
	} else {
		assert.ErrorIs(t, err, anystore.ErrNotFound)
	}

	_, err = op.Stat(ctx, "other.txt")
	assert.NoError(t, err, "siblings survive")
}

func testConditionalRead(t *testing.T, op *anystore.Operator) {
	skipUnless(t, op, anystore.OpWrite, anystore.OpRead)
	c := op.Capability()
	if !c.ReadWithIfMatch || !c.ReadWithIfNoneMatch {
		t.Skip("conditional reads are not supported")
	}
	ctx := context.Background()
	meta := write(t, op, "cond", "v1")
	etag, ok := meta.ETag()
	require.True(t, ok, "write must report an etag")

	_, err := op.ReadWith(ctx, "cond", anystore.ReadOptions{IfMatch: etag})
	require.NoError(t, err)

	_, err = op.ReadWith(ctx, "cond", anystore.ReadOptions{IfMatch: `"stale"`})
	assert.ErrorIs(t, err, anystore.ErrConditionNotMatch)

	_, err = op.ReadWith(ctx, "cond", anystore.ReadOptions{IfNoneMatch: etag})
	assert.ErrorIs(t, err, anystore.ErrConditionNotMatch)
}
