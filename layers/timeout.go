package layers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sagarc03/anystore"
)

// Timeout bounds every call with a deadline. Timeout applies to accessor
// calls, Writer calls and Pager pages; IOTimeout applies to each Read on a
// Reader. Expired calls fail with a temporary KindUnexpected error, so a
// Retry layer stacked above retries them.
type Timeout struct {
	timeout   time.Duration
	ioTimeout time.Duration
}

func NewTimeout(timeout, ioTimeout time.Duration) *Timeout {
	return &Timeout{timeout: timeout, ioTimeout: ioTimeout}
}

func (t *Timeout) Layer(inner anystore.Accessor) anystore.Accessor {
	return &timeoutAccessor{Accessor: inner, t: t}
}

func (t *Timeout) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

// expired converts a deadline hit by the layer itself into a temporary
// error. Deadlines of the caller's context pass through unchanged.
func expired(parent context.Context, op anystore.Operation, path string, d time.Duration, err error) error {
	if err == nil || parent.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &anystore.Error{
		Kind:      anystore.KindUnexpected,
		Operation: op,
		Path:      path,
		Message:   "operation timed out after " + d.String(),
		Temporary: true,
		Cause:     err,
	}
}

func timed[T any](t *Timeout, ctx context.Context, op anystore.Operation, path string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := t.context(ctx)
	defer cancel()
	v, err := fn(cctx)
	return v, expired(ctx, op, path, t.timeout, err)
}

type timeoutAccessor struct {
	anystore.Accessor
	t *Timeout
}

func (a *timeoutAccessor) CreateDir(ctx context.Context, path string, opts anystore.CreateDirOptions) error {
	_, err := timed(a.t, ctx, anystore.OpCreateDir, path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.Accessor.CreateDir(ctx, path, opts)
	})
	return err
}

func (a *timeoutAccessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	return timed(a.t, ctx, anystore.OpStat, path, func(ctx context.Context) (anystore.Metadata, error) {
		return a.Accessor.Stat(ctx, path, opts)
	})
}

// Read keeps the reader's context alive until Close. The open call is
// bounded by Timeout, each Read by IOTimeout.
func (a *timeoutAccessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	rctx, cancel := context.WithCancel(ctx)

	var fired atomic.Bool
	var timer *time.Timer
	if a.t.timeout > 0 {
		timer = time.AfterFunc(a.t.timeout, func() {
			fired.Store(true)
			cancel()
		})
	}
	r, err := a.Accessor.Read(rctx, path, opts)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		cancel()
		if fired.Load() {
			return nil, expired(ctx, anystore.OpRead, path, a.t.timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	if fired.Load() {
		cancel()
		_ = r.Close()
		return nil, expired(ctx, anystore.OpRead, path, a.t.timeout, context.DeadlineExceeded)
	}
	return &timeoutReader{Reader: r, parent: ctx, cancel: cancel, path: path, ioTimeout: a.t.ioTimeout}, nil
}

func (a *timeoutAccessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	w, err := a.Accessor.Write(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &timeoutWriter{Writer: w, t: a.t, path: path}, nil
}

func (a *timeoutAccessor) Delete(ctx context.Context, path string, opts anystore.DeleteOptions) error {
	_, err := timed(a.t, ctx, anystore.OpDelete, path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.Accessor.Delete(ctx, path, opts)
	})
	return err
}

func (a *timeoutAccessor) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	p, err := a.Accessor.List(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &timeoutPager{Pager: p, t: a.t, path: path}, nil
}

func (a *timeoutAccessor) Copy(ctx context.Context, from, to string, opts anystore.CopyOptions) error {
	_, err := timed(a.t, ctx, anystore.OpCopy, from, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.Accessor.Copy(ctx, from, to, opts)
	})
	return err
}

func (a *timeoutAccessor) Rename(ctx context.Context, from, to string, opts anystore.RenameOptions) error {
	_, err := timed(a.t, ctx, anystore.OpRename, from, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.Accessor.Rename(ctx, from, to, opts)
	})
	return err
}

func (a *timeoutAccessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	return timed(a.t, ctx, anystore.OpPresign, path, func(ctx context.Context) (anystore.PresignedRequest, error) {
		return a.Accessor.Presign(ctx, path, opts)
	})
}

func (a *timeoutAccessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	return timed(a.t, ctx, anystore.OpBatch, "", func(ctx context.Context) (anystore.BatchResult, error) {
		return a.Accessor.Batch(ctx, opts)
	})
}

type timeoutReader struct {
	anystore.Reader
	parent    context.Context
	cancel    context.CancelFunc
	path      string
	ioTimeout time.Duration

	mu    sync.Mutex
	fired bool
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	if r.ioTimeout <= 0 {
		return r.Reader.Read(p)
	}

	timer := time.AfterFunc(r.ioTimeout, func() {
		r.mu.Lock()
		r.fired = true
		r.mu.Unlock()
		r.cancel()
	})
	n, err := r.Reader.Read(p)
	timer.Stop()

	r.mu.Lock()
	fired := r.fired
	r.mu.Unlock()
	if fired && err != nil {
		return n, expired(r.parent, anystore.OpReaderRead, r.path, r.ioTimeout, context.DeadlineExceeded)
	}
	return n, err
}

func (r *timeoutReader) Close() error {
	defer r.cancel()
	return r.Reader.Close()
}

type timeoutWriter struct {
	anystore.Writer
	t    *Timeout
	path string
}

func (w *timeoutWriter) Write(ctx context.Context, p []byte) (int, error) {
	return timed(w.t, ctx, anystore.OpWriterWrite, w.path, func(ctx context.Context) (int, error) {
		return w.Writer.Write(ctx, p)
	})
}

func (w *timeoutWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	return timed(w.t, ctx, anystore.OpWriterFinalize, w.path, func(ctx context.Context) (anystore.Metadata, error) {
		return w.Writer.Finalize(ctx)
	})
}

func (w *timeoutWriter) Abort(ctx context.Context) error {
	_, err := timed(w.t, ctx, anystore.OpWriterAbort, w.path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.Writer.Abort(ctx)
	})
	return err
}

type timeoutPager struct {
	anystore.Pager
	t    *Timeout
	path string
}

func (p *timeoutPager) NextPage(ctx context.Context) ([]anystore.Entry, error) {
	return timed(p.t, ctx, anystore.OpPagerNext, p.path, func(ctx context.Context) ([]anystore.Entry, error) {
		return p.Pager.NextPage(ctx)
	})
}
