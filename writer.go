package anystore

import (
	"context"
	"errors"
	"io"
	"sync"
)

type writerState int

const (
	writerOpen writerState = iota
	writerFinalized
	writerAborted
)

func (s writerState) String() string {
	switch s {
	case writerFinalized:
		return "finalized"
	case writerAborted:
		return "aborted"
	default:
		return "open"
	}
}

// ObjectWriter enforces the open -> finalized | aborted lifecycle on top of a
// backend Writer. It implements io.Writer, io.ReaderFrom and io.Closer;
// Close finalizes. Use it from one goroutine at a time.
//
// An open writer holds backend resources, including a concurrency permit
// when the stack has a limit. They are released only by a successful
// Finalize or by Abort, so a caller that gives up after a failed Finalize
// must still call Abort. Operator.WithWriter does that on every exit.
type ObjectWriter struct {
	ctx      context.Context
	w        Writer
	path     string
	maxTotal int64
	canEmpty bool
	wrap     func(op Operation, err error) error

	mu      sync.Mutex
	state   writerState
	written int64
	meta    Metadata
}

func newObjectWriter(ctx context.Context, w Writer, path string, c Capability, wrap func(Operation, error) error) *ObjectWriter {
	return &ObjectWriter{
		ctx:      ctx,
		w:        w,
		path:     path,
		maxTotal: c.WriteTotalMaxSize,
		canEmpty: c.WriteCanEmpty,
		wrap:     wrap,
	}
}

// Write implements io.Writer using the context the writer was opened with.
func (w *ObjectWriter) Write(p []byte) (int, error) {
	return w.WriteContext(w.ctx, p)
}

// WriteContext appends p.
func (w *ObjectWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return 0, invalidStateError(OpWriterWrite, w.path, "write on "+w.state.String()+" writer")
	}
	if w.maxTotal > 0 && w.written+int64(len(p)) > w.maxTotal {
		return 0, &Error{Kind: KindInvalidInput, Operation: OpWriterWrite, Path: w.path, Message: "write exceeds the maximum object size"}
	}

	n, err := w.w.Write(ctx, p)
	w.written += int64(n)
	if err != nil {
		return n, w.wrap(OpWriterWrite, err)
	}
	return n, nil
}

// ReadFrom copies r into the writer until EOF.
func (w *ObjectWriter) ReadFrom(r io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.WriteContext(w.ctx, buf[:n])
			total += int64(m)
			if werr != nil {
				return total, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// Finalize commits the write. A failed finalize that is not retryable
// leaves the writer aborted; a retryable one leaves it open so the caller
// may call Finalize again or Abort.
func (w *ObjectWriter) Finalize(ctx context.Context) (Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return Metadata{}, invalidStateError(OpWriterFinalize, w.path, "finalize on "+w.state.String()+" writer")
	}
	if w.written == 0 && !w.canEmpty {
		w.state = writerAborted
		_ = w.w.Abort(context.WithoutCancel(ctx))
		return Metadata{}, &Error{Kind: KindUnsupported, Operation: OpWriterFinalize, Path: w.path, Message: "backend cannot store empty objects"}
	}

	meta, err := w.w.Finalize(ctx)
	if err != nil {
		err = w.wrap(OpWriterFinalize, err)
		if !IsRetryable(err) {
			w.state = writerAborted
			_ = w.w.Abort(context.WithoutCancel(ctx))
		}
		return Metadata{}, err
	}

	w.state = writerFinalized
	w.meta = meta
	return meta, nil
}

// Close finalizes the writer with the context it was opened with.
func (w *ObjectWriter) Close() error {
	_, err := w.Finalize(w.ctx)
	return err
}

// Abort discards the write. Calling Abort on a finalized or aborted writer
// returns InvalidState without reaching the backend.
func (w *ObjectWriter) Abort(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != writerOpen {
		return invalidStateError(OpWriterAbort, w.path, "abort on "+w.state.String()+" writer")
	}

	w.state = writerAborted
	if err := w.w.Abort(ctx); err != nil {
		return w.wrap(OpWriterAbort, err)
	}
	return nil
}

// Written returns the number of bytes accepted so far.
func (w *ObjectWriter) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Metadata returns what Finalize returned.
func (w *ObjectWriter) Metadata() Metadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta
}

// release aborts the writer if it is still open. It backs the scoped
// helpers: every exit path that did not finalize ends here.
func (w *ObjectWriter) release(ctx context.Context) {
	w.mu.Lock()
	open := w.state == writerOpen
	w.mu.Unlock()
	if open {
		_ = w.Abort(context.WithoutCancel(ctx))
	}
}

// OneShotWriter buffers everything in memory and hands it to a single
// upload call on Finalize. Backends without streaming writes use it.
type OneShotWriter struct {
	buf    []byte
	commit func(ctx context.Context, data []byte) (Metadata, error)
}

// NewOneShotWriter creates a writer that calls commit on Finalize.
func NewOneShotWriter(commit func(ctx context.Context, data []byte) (Metadata, error)) *OneShotWriter {
	return &OneShotWriter{commit: commit}
}

func (w *OneShotWriter) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *OneShotWriter) Finalize(ctx context.Context) (Metadata, error) {
	meta, err := w.commit(ctx, w.buf)
	if err != nil {
		return Metadata{}, err
	}
	w.buf = nil
	return meta, nil
}

func (w *OneShotWriter) Abort(context.Context) error {
	w.buf = nil
	return nil
}
