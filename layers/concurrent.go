package layers

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sagarc03/anystore"
	"golang.org/x/sync/semaphore"
)

// ConcurrentLimit bounds the number of operations in flight against the
// accessors it wraps. Every accessor wrapped by the same ConcurrentLimit
// shares its permits.
//
// A call that finds no free permit waits until one is released. With a
// non-zero timeout the wait is bounded and fails with a temporary
// KindRateLimited error. Handles hold their permit until they are done:
// a Reader until Close or io.EOF, a Pager until Close or io.EOF, a Writer
// until Finalize succeeds or Abort is called. A Writer whose Finalize failed
// keeps its permit until it is aborted.
type ConcurrentLimit struct {
	sem     *semaphore.Weighted
	permits int64
	timeout time.Duration
}

// NewConcurrentLimit creates a limit of permits concurrent operations.
// A timeout of zero waits for as long as the caller's context allows.
func NewConcurrentLimit(permits int64, timeout time.Duration) *ConcurrentLimit {
	if permits <= 0 {
		permits = 1
	}
	return &ConcurrentLimit{
		sem:     semaphore.NewWeighted(permits),
		permits: permits,
		timeout: timeout,
	}
}

func (l *ConcurrentLimit) Permits() int64 { return l.permits }

func (l *ConcurrentLimit) Layer(inner anystore.Accessor) anystore.Accessor {
	return &limitAccessor{Accessor: inner, l: l}
}

// acquire takes a permit and returns its release func, which is safe to
// call more than once.
func (l *ConcurrentLimit) acquire(ctx context.Context, op anystore.Operation, path string) (func(), error) {
	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &anystore.Error{
			Kind:      anystore.KindRateLimited,
			Operation: op,
			Path:      path,
			Message:   "timed out waiting for a concurrency permit",
			Temporary: true,
			Cause:     err,
		}
	}

	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

type limitAccessor struct {
	anystore.Accessor
	l *ConcurrentLimit
}

func (a *limitAccessor) CreateDir(ctx context.Context, path string, opts anystore.CreateDirOptions) error {
	release, err := a.l.acquire(ctx, anystore.OpCreateDir, path)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.CreateDir(ctx, path, opts)
}

func (a *limitAccessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	release, err := a.l.acquire(ctx, anystore.OpStat, path)
	if err != nil {
		return anystore.Metadata{}, err
	}
	defer release()
	return a.Accessor.Stat(ctx, path, opts)
}

func (a *limitAccessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	release, err := a.l.acquire(ctx, anystore.OpRead, path)
	if err != nil {
		return nil, err
	}
	r, err := a.Accessor.Read(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return &limitReader{Reader: r, release: release}, nil
}

func (a *limitAccessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	release, err := a.l.acquire(ctx, anystore.OpWrite, path)
	if err != nil {
		return nil, err
	}
	w, err := a.Accessor.Write(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return &limitWriter{Writer: w, release: release}, nil
}

func (a *limitAccessor) Delete(ctx context.Context, path string, opts anystore.DeleteOptions) error {
	release, err := a.l.acquire(ctx, anystore.OpDelete, path)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Delete(ctx, path, opts)
}

func (a *limitAccessor) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	release, err := a.l.acquire(ctx, anystore.OpList, path)
	if err != nil {
		return nil, err
	}
	p, err := a.Accessor.List(ctx, path, opts)
	if err != nil {
		release()
		return nil, err
	}
	return &limitPager{Pager: p, release: release}, nil
}

func (a *limitAccessor) Copy(ctx context.Context, from, to string, opts anystore.CopyOptions) error {
	release, err := a.l.acquire(ctx, anystore.OpCopy, from)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Copy(ctx, from, to, opts)
}

func (a *limitAccessor) Rename(ctx context.Context, from, to string, opts anystore.RenameOptions) error {
	release, err := a.l.acquire(ctx, anystore.OpRename, from)
	if err != nil {
		return err
	}
	defer release()
	return a.Accessor.Rename(ctx, from, to, opts)
}

func (a *limitAccessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	release, err := a.l.acquire(ctx, anystore.OpPresign, path)
	if err != nil {
		return anystore.PresignedRequest{}, err
	}
	defer release()
	return a.Accessor.Presign(ctx, path, opts)
}

func (a *limitAccessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	release, err := a.l.acquire(ctx, anystore.OpBatch, "")
	if err != nil {
		return anystore.BatchResult{}, err
	}
	defer release()
	return a.Accessor.Batch(ctx, opts)
}

type limitReader struct {
	anystore.Reader
	release func()
}

func (r *limitReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if errors.Is(err, io.EOF) {
		r.release()
	}
	return n, err
}

func (r *limitReader) Close() error {
	defer r.release()
	return r.Reader.Close()
}

type limitWriter struct {
	anystore.Writer
	release func()
}

func (w *limitWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	meta, err := w.Writer.Finalize(ctx)
	if err == nil {
		w.release()
	}
	return meta, err
}

func (w *limitWriter) Abort(ctx context.Context) error {
	defer w.release()
	return w.Writer.Abort(ctx)
}

type limitPager struct {
	anystore.Pager
	release func()
}

func (p *limitPager) NextPage(ctx context.Context) ([]anystore.Entry, error) {
	entries, err := p.Pager.NextPage(ctx)
	if errors.Is(err, io.EOF) {
		p.release()
	}
	return entries, err
}

func (p *limitPager) Close() error {
	defer p.release()
	return p.Pager.Close()
}
