package anystore_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOperator_CapabilityGate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		op   anystore.Operation
		call func(op *anystore.Operator) error
	}{
		{"create_dir", anystore.OpCreateDir, func(op *anystore.Operator) error { return op.CreateDir(ctx, "dir/") }},
		{"stat", anystore.OpStat, func(op *anystore.Operator) error { _, err := op.Stat(ctx, "a"); return err }},
		{"read", anystore.OpRead, func(op *anystore.Operator) error { _, err := op.Read(ctx, "a"); return err }},
		{"write", anystore.OpWrite, func(op *anystore.Operator) error { _, err := op.Write(ctx, "a", []byte("x")); return err }},
		{"delete", anystore.OpDelete, func(op *anystore.Operator) error { return op.Delete(ctx, "a") }},
		{"list", anystore.OpList, func(op *anystore.Operator) error { _, err := op.List(ctx, "", anystore.ListOptions{}); return err }},
		{"copy", anystore.OpCopy, func(op *anystore.Operator) error { return op.Copy(ctx, "a", "b") }},
		{"rename", anystore.OpRename, func(op *anystore.Operator) error { return op.Rename(ctx, "a", "b") }},
		{"presign", anystore.OpPresign, func(op *anystore.Operator) error { _, err := op.PresignRead(ctx, "a", time.Minute); return err }},
		{"batch", anystore.OpBatch, func(op *anystore.Operator) error {
			_, err := op.Batch(ctx, anystore.BatchOptions{Deletes: []string{"a"}})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := NewSpyAccessor(fullCapability().Without(tt.op))
			op := anystore.NewOperator(spy)

			err := tt.call(op)

			require.Error(t, err)
			assert.ErrorIs(t, err, anystore.ErrUnsupported)

			var e *anystore.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.op, e.Operation)
			assert.Equal(t, "spy", e.Backend)
			assert.Empty(t, spy.Calls, "backend must not be reached")
		})
	}
}

func TestOperator_OptionalFeatureGate(t *testing.T) {
	ctx := context.Background()

	t.Run("content type without capability", func(t *testing.T) {
		c := fullCapability()
		c.WriteWithContentType = false
		spy := NewSpyAccessor(c)
		op := anystore.NewOperator(spy)

		_, err := op.WriteWith(ctx, "a.txt", []byte("x"), anystore.WriteOptions{ContentType: "text/plain"})

		assert.ErrorIs(t, err, anystore.ErrUnsupported)
		assert.Empty(t, spy.Calls)
	})

	t.Run("start after without capability", func(t *testing.T) {
		c := fullCapability()
		c.ListWithStartAfter = false
		spy := NewSpyAccessor(c)
		op := anystore.NewOperator(spy)

		_, err := op.List(ctx, "", anystore.ListOptions{StartAfter: "b"})

		assert.ErrorIs(t, err, anystore.ErrUnsupported)
		assert.Empty(t, spy.Calls)
	})

	t.Run("blocking without capability", func(t *testing.T) {
		c := fullCapability()
		c.Blocking = false
		op := anystore.NewOperator(NewSpyAccessor(c))

		_, err := op.Blocking()

		assert.ErrorIs(t, err, anystore.ErrUnsupported)
	})
}

func TestOperator_NormalizesPaths(t *testing.T) {
	ctx := context.Background()
	spy := NewSpyAccessor(fullCapability())
	op := anystore.NewOperator(spy)

	meta := anystore.NewMetadata(anystore.ModeFile)
	spy.On("Stat", ctx, "a/c", anystore.StatOptions{}).Return(meta, nil)

	_, err := op.Stat(ctx, "/a//b/../c")
	require.NoError(t, err)
	spy.AssertExpectations(t)
}

func TestOperator_InvalidPaths(t *testing.T) {
	ctx := context.Background()
	spy := NewSpyAccessor(fullCapability())
	op := anystore.NewOperator(spy)

	t.Run("escaping root", func(t *testing.T) {
		_, err := op.Stat(ctx, "../etc/passwd")
		assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	})

	t.Run("read a directory", func(t *testing.T) {
		_, err := op.Read(ctx, "dir/")
		assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	})

	t.Run("create dir without trailing slash", func(t *testing.T) {
		err := op.CreateDir(ctx, "dir")
		assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	})

	t.Run("copy onto itself", func(t *testing.T) {
		err := op.Copy(ctx, "a", "./a")
		assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	})

	assert.Empty(t, spy.Calls)
}

func TestOperator_ErrorContext(t *testing.T) {
	ctx := context.Background()
	spy := NewSpyAccessor(fullCapability())
	op := anystore.NewOperator(spy)

	cause := errors.New("disk on fire")
	spy.On("Delete", ctx, "a", anystore.DeleteOptions{}).
		Return(anystore.NewError(anystore.KindRateLimited, "slow down").WithCause(cause))

	err := op.Delete(ctx, "a")

	var e *anystore.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, anystore.KindRateLimited, e.Kind)
	assert.Equal(t, anystore.OpDelete, e.Operation)
	assert.Equal(t, "a", e.Path)
	assert.Equal(t, "spy", e.Backend)
	assert.True(t, e.Temporary)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "delete a [spy]: RateLimited (temporary)")
}

func TestOperator_Exists(t *testing.T) {
	ctx := context.Background()
	spy := NewSpyAccessor(fullCapability())
	op := anystore.NewOperator(spy)

	spy.On("Stat", ctx, "here", anystore.StatOptions{}).Return(anystore.NewMetadata(anystore.ModeFile), nil)
	spy.On("Stat", ctx, "gone", anystore.StatOptions{}).Return(anystore.Metadata{}, anystore.NewError(anystore.KindNotFound, ""))

	ok, err := op.Exists(ctx, "here")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = op.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

// recordingLayer appends its name to a shared log every time Stat passes
// through it.
type recordingLayer struct {
	name string
	log  *[]string
}

func (l recordingLayer) Layer(inner anystore.Accessor) anystore.Accessor {
	return &recordingAccessor{Accessor: inner, name: l.name, log: l.log}
}

type recordingAccessor struct {
	anystore.Accessor
	name string
	log  *[]string
}

func (r *recordingAccessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	*r.log = append(*r.log, r.name+">")
	m, err := r.Accessor.Stat(ctx, path, opts)
	*r.log = append(*r.log, "<"+r.name)
	return m, err
}

func TestOperator_LayerAssociativity(t *testing.T) {
	ctx := context.Background()

	run := func(build func(backend anystore.Accessor, log *[]string) *anystore.Operator) []string {
		var log []string
		spy := NewSpyAccessor(fullCapability())
		spy.On("Stat", mock.Anything, "a", anystore.StatOptions{}).Return(anystore.NewMetadata(anystore.ModeFile), nil)

		op := build(spy, &log)
		for range 3 {
			_, err := op.Stat(ctx, "a")
			require.NoError(t, err)
		}
		return log
	}

	twoThenOne := run(func(b anystore.Accessor, log *[]string) *anystore.Operator {
		return anystore.NewOperator(b, recordingLayer{"L1", log}, recordingLayer{"L2", log}).
			Layer(recordingLayer{"L3", log})
	})
	onePass := run(func(b anystore.Accessor, log *[]string) *anystore.Operator {
		return anystore.NewOperator(b, recordingLayer{"L1", log}, recordingLayer{"L2", log}, recordingLayer{"L3", log})
	})

	assert.Equal(t, onePass, twoThenOne)
	assert.Equal(t, []string{"L3>", "L2>", "L1>", "<L1", "<L2", "<L3"}, onePass[:6])
}

func TestOperator_LayerDoesNotMutateReceiver(t *testing.T) {
	var log []string
	base := anystore.NewOperator(NewSpyAccessor(fullCapability()), recordingLayer{"L1", &log})
	layered := base.Layer(recordingLayer{"L2", &log})

	assert.Len(t, base.Layers(), 1)
	assert.Len(t, layered.Layers(), 2)
}

func TestOperator_ReadRange(t *testing.T) {
	ctx := context.Background()

	t.Run("native range", func(t *testing.T) {
		fake := newFakeAccessor(fullCapability())
		fake.objects["a"] = []byte("0123456789")
		op := anystore.NewOperator(fake)

		got, err := op.ReadWith(ctx, "a", anystore.ReadOptions{Range: anystore.RangeOf(2, 3)})
		require.NoError(t, err)
		assert.Equal(t, "234", string(got))
		assert.Equal(t, anystore.RangeOf(2, 3), fake.reads[0].Range)
	})

	t.Run("degraded range reads from the start", func(t *testing.T) {
		c := fullCapability()
		c.ReadWithRange = false
		fake := newFakeAccessor(c)
		fake.objects["a"] = []byte("0123456789")
		op := anystore.NewOperator(fake)

		got, err := op.ReadWith(ctx, "a", anystore.ReadOptions{Range: anystore.RangeOf(2, 3)})
		require.NoError(t, err)
		assert.Equal(t, "234", string(got))
		assert.True(t, fake.reads[0].Range.IsFull())
	})

	t.Run("range past the end is empty", func(t *testing.T) {
		fake := newFakeAccessor(fullCapability())
		fake.objects["a"] = []byte("0123")
		op := anystore.NewOperator(fake)

		got, err := op.ReadWith(ctx, "a", anystore.ReadOptions{Range: anystore.RangeFrom(10)})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("not found", func(t *testing.T) {
		op := anystore.NewOperator(newFakeAccessor(fullCapability()))

		_, err := op.Read(ctx, "missing")
		assert.ErrorIs(t, err, anystore.ErrNotFound)
	})
}

func TestOperator_RecursiveListEmulation(t *testing.T) {
	ctx := context.Background()
	c := fullCapability()
	c.ListWithRecursive = false
	fake := newFakeAccessor(c)
	for _, k := range []string{"a", "d/b", "d/e/c"} {
		fake.objects[k] = []byte(k)
	}
	op := anystore.NewOperator(fake)

	entries, err := op.ListAll(ctx, "", anystore.ListOptions{Recursive: true})
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.ElementsMatch(t, []string{"a", "d/", "d/b", "d/e/", "d/e/c"}, paths)
}

func TestOperator_RemoveAll(t *testing.T) {
	ctx := context.Background()
	c := fullCapability()
	c.Batch = false
	c.ListWithRecursive = false
	fake := newFakeAccessor(c)
	for _, k := range []string{"keep", "d/b", "d/e/c"} {
		fake.objects[k] = []byte(k)
	}
	op := anystore.NewOperator(fake)

	require.NoError(t, op.RemoveAll(ctx, "d/"))

	assert.Len(t, fake.objects, 1)
	assert.Contains(t, fake.objects, "keep")
}

func TestOperator_WriteAndReader(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAccessor(fullCapability())
	op := anystore.NewOperator(fake)

	_, err := op.Write(ctx, "f", []byte("hello world"))
	require.NoError(t, err)

	r, err := op.Reader(ctx, "f", anystore.ReadOptions{})
	require.NoError(t, err)
	defer r.Close()

	pos, err := r.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "world", string(rest))

	end, err := r.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), end)

	buf := make([]byte, 5)
	n, err := r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestOperator_BatchMaxOperations(t *testing.T) {
	ctx := context.Background()
	c := fullCapability()
	c.BatchMaxOperations = 2
	spy := NewSpyAccessor(c)
	op := anystore.NewOperator(spy)

	_, err := op.Batch(ctx, anystore.BatchOptions{Deletes: []string{"a", "b", "c"}})

	assert.ErrorIs(t, err, anystore.ErrInvalidInput)
	assert.Empty(t, spy.Calls)
}

func TestBlockingOperator(t *testing.T) {
	fake := newFakeAccessor(fullCapability())
	op := anystore.NewOperator(fake)

	b, err := op.Blocking()
	require.NoError(t, err)
	b = b.WithTimeout(time.Second)

	_, err = b.Write("x", []byte("data"))
	require.NoError(t, err)

	got, err := b.Read("x")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

// Every helper that issues more than one accessor call must fit in a single
// permit. A deadlock shows up as the context deadline.
func TestOperator_SinglePermit(t *testing.T) {
	newOp := func(c anystore.Capability) (*anystore.Operator, *fakeAccessor) {
		fake := newFakeAccessor(c)
		for _, k := range []string{"a", "d/b", "d/e/c"} {
			fake.objects[k] = []byte("0123456789")
		}
		return anystore.NewOperator(fake, layers.NewConcurrentLimit(1, 0)), fake
	}

	tests := []struct {
		name string
		caps func(c *anystore.Capability)
		run  func(t *testing.T, ctx context.Context, op *anystore.Operator, fake *fakeAccessor)
	}{
		{
			name: "reader seek end",
			run: func(t *testing.T, ctx context.Context, op *anystore.Operator, _ *fakeAccessor) {
				r, err := op.Reader(ctx, "a", anystore.ReadOptions{})
				require.NoError(t, err)
				defer r.Close()

				end, err := r.Seek(0, io.SeekEnd)
				require.NoError(t, err)
				assert.Equal(t, int64(10), end)

				_, err = r.Seek(-3, io.SeekEnd)
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, "789", string(got))
			},
		},
		{
			name: "reader with known size",
			run: func(t *testing.T, ctx context.Context, op *anystore.Operator, _ *fakeAccessor) {
				r, err := op.Reader(ctx, "a", anystore.ReadOptions{Range: anystore.RangeFrom(4)})
				require.NoError(t, err)
				defer r.Close()
				r.SetObjectSize(10)

				end, err := r.Seek(0, io.SeekEnd)
				require.NoError(t, err)
				assert.Equal(t, int64(6), end)
			},
		},
		{
			name: "read at after a partial read",
			run: func(t *testing.T, ctx context.Context, op *anystore.Operator, _ *fakeAccessor) {
				r, err := op.Reader(ctx, "a", anystore.ReadOptions{})
				require.NoError(t, err)
				defer r.Close()

				buf := make([]byte, 2)
				_, err = io.ReadFull(r, buf)
				require.NoError(t, err)

				n, err := r.ReadAt(buf, 5)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
				assert.Equal(t, "56", string(buf))

				rest, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, "23456789", string(rest))
			},
		},
		{
			name: "remove all",
			caps: func(c *anystore.Capability) { c.Batch, c.ListWithRecursive = false, false },
			run: func(t *testing.T, ctx context.Context, op *anystore.Operator, fake *fakeAccessor) {
				require.NoError(t, op.RemoveAll(ctx, "d/"))
				assert.Len(t, fake.objects, 1)
			},
		},
		{
			name: "emulated recursive list",
			caps: func(c *anystore.Capability) { c.ListWithRecursive = false },
			run: func(t *testing.T, ctx context.Context, op *anystore.Operator, _ *fakeAccessor) {
				entries, err := op.ListAll(ctx, "", anystore.ListOptions{Recursive: true})
				require.NoError(t, err)
				assert.Len(t, entries, 5)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fullCapability()
			if tt.caps != nil {
				tt.caps(&c)
			}
			op, fake := newOp(c)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			tt.run(t, ctx, op, fake)

			// The permit is free again once the helper is done.
			_, err := op.Stat(ctx, "a")
			require.NoError(t, err)
		})
	}
}
