package layers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sagarc03/anystore"
)

// RetryConfig controls the retry schedule. Zero fields take the defaults
// below.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, the first one included.
	// 1 disables retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the randomization factor applied to every interval, in
	// [0, 1].
	Jitter float64
}

const (
	DefaultRetryMaxAttempts     = 3
	DefaultRetryInitialInterval = 100 * time.Millisecond
	DefaultRetryMaxInterval     = 10 * time.Second
	DefaultRetryMultiplier      = 2.0
	DefaultRetryJitter          = 0.5
)

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultRetryInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultRetryMaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultRetryMultiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = DefaultRetryJitter
	}
	return c
}

// Retry retries calls that fail with a retryable error, waiting an
// exponentially growing, jittered interval between attempts. Errors that
// are not retryable are returned at once.
//
// Handles are wrapped too: a Pager retries NextPage, a Reader reopens at
// the offset it reached when the accessor supports ranged reads, and a
// Writer retries chunks and Finalize only when the accessor declares
// WriteIdempotent.
type Retry struct {
	cfg    RetryConfig
	logger *slog.Logger
	notify func(op anystore.Operation, err error, wait time.Duration)
}

func NewRetry(cfg RetryConfig) *Retry {
	return &Retry{cfg: cfg.withDefaults()}
}

// WithLogger returns a copy of r that logs every retry to logger.
func (r *Retry) WithLogger(logger *slog.Logger) *Retry {
	c := *r
	c.logger = logger
	return &c
}

// WithNotify returns a copy of r that calls fn before every wait.
func (r *Retry) WithNotify(fn func(op anystore.Operation, err error, wait time.Duration)) *Retry {
	c := *r
	c.notify = fn
	return &c
}

func (r *Retry) Config() RetryConfig { return r.cfg }

func (r *Retry) Layer(inner anystore.Accessor) anystore.Accessor {
	return &retryAccessor{Accessor: inner, r: r}
}

func (r *Retry) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.cfg.InitialInterval),
		backoff.WithMaxInterval(r.cfg.MaxInterval),
		backoff.WithMultiplier(r.cfg.Multiplier),
		backoff.WithRandomizationFactor(r.cfg.Jitter),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func (r *Retry) onRetry(op anystore.Operation, path string) backoff.Notify {
	return func(err error, wait time.Duration) {
		logger := r.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("retrying", "operation", op.String(), "path", path, "wait", wait, "err", err)
		if r.notify != nil {
			r.notify(op, err, wait)
		}
	}
}

func retryValue[T any](ctx context.Context, r *Retry, op anystore.Operation, path string, fn func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn()
		if err != nil && !anystore.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, r.backOff(ctx), r.onRetry(op, path))
}

func retryCall(ctx context.Context, r *Retry, op anystore.Operation, path string, fn func() error) error {
	_, err := retryValue(ctx, r, op, path, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type retryAccessor struct {
	anystore.Accessor
	r *Retry
}

func (a *retryAccessor) CreateDir(ctx context.Context, path string, opts anystore.CreateDirOptions) error {
	return retryCall(ctx, a.r, anystore.OpCreateDir, path, func() error {
		return a.Accessor.CreateDir(ctx, path, opts)
	})
}

func (a *retryAccessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	return retryValue(ctx, a.r, anystore.OpStat, path, func() (anystore.Metadata, error) {
		return a.Accessor.Stat(ctx, path, opts)
	})
}

func (a *retryAccessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	rd, err := retryValue(ctx, a.r, anystore.OpRead, path, func() (anystore.Reader, error) {
		return a.Accessor.Read(ctx, path, opts)
	})
	if err != nil {
		return nil, err
	}
	return &retryReader{
		ctx:       ctx,
		a:         a,
		path:      path,
		opts:      opts,
		cur:       rd,
		resumable: a.Info().Capability.ReadWithRange,
	}, nil
}

func (a *retryAccessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	w, err := retryValue(ctx, a.r, anystore.OpWrite, path, func() (anystore.Writer, error) {
		return a.Accessor.Write(ctx, path, opts)
	})
	if err != nil {
		return nil, err
	}
	return &retryWriter{
		w:          w,
		r:          a.r,
		path:       path,
		idempotent: a.Info().Capability.WriteIdempotent,
	}, nil
}

func (a *retryAccessor) Delete(ctx context.Context, path string, opts anystore.DeleteOptions) error {
	return retryCall(ctx, a.r, anystore.OpDelete, path, func() error {
		return a.Accessor.Delete(ctx, path, opts)
	})
}

func (a *retryAccessor) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	p, err := retryValue(ctx, a.r, anystore.OpList, path, func() (anystore.Pager, error) {
		return a.Accessor.List(ctx, path, opts)
	})
	if err != nil {
		return nil, err
	}
	return &retryPager{Pager: p, r: a.r, path: path}, nil
}

func (a *retryAccessor) Copy(ctx context.Context, from, to string, opts anystore.CopyOptions) error {
	return retryCall(ctx, a.r, anystore.OpCopy, from, func() error {
		return a.Accessor.Copy(ctx, from, to, opts)
	})
}

func (a *retryAccessor) Rename(ctx context.Context, from, to string, opts anystore.RenameOptions) error {
	return retryCall(ctx, a.r, anystore.OpRename, from, func() error {
		return a.Accessor.Rename(ctx, from, to, opts)
	})
}

func (a *retryAccessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	return retryValue(ctx, a.r, anystore.OpPresign, path, func() (anystore.PresignedRequest, error) {
		return a.Accessor.Presign(ctx, path, opts)
	})
}

func (a *retryAccessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	return retryValue(ctx, a.r, anystore.OpBatch, "", func() (anystore.BatchResult, error) {
		return a.Accessor.Batch(ctx, opts)
	})
}

// retryReader reopens the object at the offset reached so far when a read
// fails with a retryable error. Consecutive failures without progress are
// bounded by MaxAttempts.
type retryReader struct {
	ctx       context.Context
	a         *retryAccessor
	path      string
	opts      anystore.ReadOptions
	cur       anystore.Reader
	read      int64
	failures  int
	resumable bool
	err       error
}

func (rr *retryReader) Read(p []byte) (int, error) {
	if rr.err != nil {
		return 0, rr.err
	}

	n, err := rr.cur.Read(p)
	rr.read += int64(n)
	if n > 0 {
		rr.failures = 0
	}
	if err == nil || errors.Is(err, io.EOF) || !rr.resumable || !anystore.IsRetryable(err) {
		return n, err
	}

	rr.failures++
	if rr.failures >= rr.a.r.cfg.MaxAttempts {
		rr.err = err
		return n, err
	}

	_ = rr.cur.Close()
	opts := rr.opts
	opts.Range = opts.Range.Advance(rr.read)
	next, rerr := retryValue(rr.ctx, rr.a.r, anystore.OpReaderRead, rr.path, func() (anystore.Reader, error) {
		return rr.a.Accessor.Read(rr.ctx, rr.path, opts)
	})
	if rerr != nil {
		rr.cur = nil
		rr.err = rerr
		return n, rerr
	}
	rr.cur = next
	return n, nil
}

func (rr *retryReader) Close() error {
	if rr.cur == nil {
		return nil
	}
	err := rr.cur.Close()
	rr.cur = nil
	rr.err = &anystore.Error{Kind: anystore.KindInvalidState, Operation: anystore.OpReaderRead, Path: rr.path, Message: "read on closed reader"}
	return err
}

type retryWriter struct {
	w          anystore.Writer
	r          *Retry
	path       string
	idempotent bool
}

// Write retries the unwritten tail of p. Without idempotent writes a failed
// chunk may already be partly committed, so it is never resent.
func (rw *retryWriter) Write(ctx context.Context, p []byte) (int, error) {
	if !rw.idempotent {
		return rw.w.Write(ctx, p)
	}
	written := 0
	err := retryCall(ctx, rw.r, anystore.OpWriterWrite, rw.path, func() error {
		n, err := rw.w.Write(ctx, p[written:])
		written += n
		return err
	})
	return written, err
}

func (rw *retryWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	if !rw.idempotent {
		return rw.w.Finalize(ctx)
	}
	return retryValue(ctx, rw.r, anystore.OpWriterFinalize, rw.path, func() (anystore.Metadata, error) {
		return rw.w.Finalize(ctx)
	})
}

func (rw *retryWriter) Abort(ctx context.Context) error {
	return retryCall(ctx, rw.r, anystore.OpWriterAbort, rw.path, func() error {
		return rw.w.Abort(ctx)
	})
}

type retryPager struct {
	anystore.Pager
	r    *Retry
	path string
}

func (p *retryPager) NextPage(ctx context.Context) ([]anystore.Entry, error) {
	entries, err := retryValue(ctx, p.r, anystore.OpPagerNext, p.path, func() ([]anystore.Entry, error) {
		return p.Pager.NextPage(ctx)
	})
	return entries, err
}
