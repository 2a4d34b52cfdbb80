package memory_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
	"github.com/sagarc03/anystore/services/internal/servicetest"
	"github.com/sagarc03/anystore/services/memory"
)

func newOperator(t *testing.T) *anystore.Operator {
	t.Helper()
	acc, err := memory.New(memory.Config{})
	require.NoError(t, err)
	return anystore.NewOperator(acc)
}

func TestContract(t *testing.T) {
	servicetest.Run(t, newOperator)
}

func TestContract_WithRoot(t *testing.T) {
	servicetest.Run(t, func(t *testing.T) *anystore.Operator {
		acc, err := memory.New(memory.Config{Root: "/tenant/a/", PartSize: 1024})
		require.NoError(t, err)
		return anystore.NewOperator(acc)
	})
}

func TestFromOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr bool
	}{
		{name: "empty", raw: map[string]string{}},
		{name: "root and part size", raw: map[string]string{"root": "data", "part_size": "5242880"}},
		{
			name: "presign",
			raw: map[string]string{
				"presign_endpoint":   "http://localhost:5708",
				"presign_access_key": "AKIATEST",
				"presign_secret_key": "secret",
			},
		},
		{name: "presign without keys", raw: map[string]string{"presign_endpoint": "http://localhost:5708"}, wantErr: true},
		{name: "unknown option", raw: map[string]string{"bucket": "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := memory.FromOptions(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, anystore.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, memory.Scheme, acc.Info().Scheme)
		})
	}
}

func TestMultipartUploadIsCleanedUp(t *testing.T) {
	ctx := context.Background()
	acc, err := memory.New(memory.Config{PartSize: 4})
	require.NoError(t, err)
	op := anystore.NewOperator(acc)

	w, err := op.Writer(ctx, "big", anystore.WriteOptions{})
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Uploads())

	require.NoError(t, w.Abort(ctx))
	assert.Zero(t, acc.Uploads())

	meta, err := op.WriteWith(ctx, "big", []byte("0123456789"), anystore.WriteOptions{Concurrent: 3})
	require.NoError(t, err)
	n, _ := meta.ContentLength()
	assert.Equal(t, int64(10), n)
	assert.Zero(t, acc.Uploads())

	got, err := op.Read(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestWriteMetadata(t *testing.T) {
	ctx := context.Background()
	op := newOperator(t)

	_, err := op.WriteWith(ctx, "report.pdf", []byte("%PDF"), anystore.WriteOptions{
		ContentType:        "application/pdf",
		ContentDisposition: `attachment; filename="report.pdf"`,
	})
	require.NoError(t, err)

	meta, err := op.Stat(ctx, "report.pdf")
	require.NoError(t, err)
	ct, _ := meta.ContentType()
	assert.Equal(t, "application/pdf", ct)
	cd, _ := meta.ContentDisposition()
	assert.Equal(t, `attachment; filename="report.pdf"`, cd)
	md5, ok := meta.ContentMD5()
	assert.True(t, ok)
	assert.NotEmpty(t, md5)
}

func TestPresign(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		op := newOperator(t)
		assert.False(t, op.Capability().Presign)

		_, err := op.PresignRead(ctx, "file", time.Minute)
		assert.ErrorIs(t, err, anystore.ErrUnsupported)
	})

	t.Run("signed for the gateway", func(t *testing.T) {
		acc, err := memory.New(memory.Config{Presign: options.Presign{
			Endpoint:  "http://localhost:5708",
			AccessKey: "AKIATEST",
			SecretKey: "secret",
		}})
		require.NoError(t, err)
		op := anystore.NewOperator(acc)

		req, err := op.PresignWrite(ctx, "dir/file", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, req.Method)
		assert.Equal(t, "/dir/file", req.URL.Path)

		verifier := anystore.NewVerifier("us-east-1", "s3", func(key string) (string, bool) {
			return "secret", key == "AKIATEST"
		})
		h := http.Header{}
		h.Set("Host", req.URL.Host)
		assert.NoError(t, verifier.Verify(req.Method, req.URL.Path, req.URL.Query(), h))
	})
}

func TestBlocking(t *testing.T) {
	b, err := newOperator(t).Blocking()
	require.NoError(t, err)

	_, err = b.Write("a/b", []byte("sync"))
	require.NoError(t, err)
	got, err := b.Read("a/b")
	require.NoError(t, err)
	assert.Equal(t, "sync", string(got))

	entries, err := b.List("a/", anystore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b", entries[0].Path)
}
