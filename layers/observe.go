package layers

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sagarc03/anystore"
)

// observer is the hook shared by the Logging, Metrics and Tracing layers.
// begin is called when an operation starts; the returned func is called
// exactly once with its outcome.
type observer interface {
	begin(ctx context.Context, scheme string, op anystore.Operation, path string) (context.Context, func(err error))
	transferred(scheme string, op anystore.Operation, n int)
}

// observed reports every accessor call and every handle operation to an
// observer. A Reader is reported once, from open to Close, including the
// first error it returned. Writer chunks only count bytes; Finalize and
// Abort are reported as operations.
type observed struct {
	anystore.Accessor
	o      observer
	scheme string
}

func observe(inner anystore.Accessor, o observer) anystore.Accessor {
	return &observed{Accessor: inner, o: o, scheme: inner.Info().Scheme}
}

func (a *observed) CreateDir(ctx context.Context, path string, opts anystore.CreateDirOptions) error {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpCreateDir, path)
	err := a.Accessor.CreateDir(ctx, path, opts)
	done(err)
	return err
}

func (a *observed) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpStat, path)
	meta, err := a.Accessor.Stat(ctx, path, opts)
	done(err)
	return meta, err
}

func (a *observed) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	octx, done := a.o.begin(ctx, a.scheme, anystore.OpRead, path)
	r, err := a.Accessor.Read(octx, path, opts)
	done(err)
	if err != nil {
		return nil, err
	}
	_, finish := a.o.begin(ctx, a.scheme, anystore.OpReaderRead, path)
	return &observedReader{Reader: r, a: a, finish: finish}, nil
}

func (a *observed) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	octx, done := a.o.begin(ctx, a.scheme, anystore.OpWrite, path)
	w, err := a.Accessor.Write(octx, path, opts)
	done(err)
	if err != nil {
		return nil, err
	}
	return &observedWriter{Writer: w, a: a, path: path}, nil
}

func (a *observed) Delete(ctx context.Context, path string, opts anystore.DeleteOptions) error {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpDelete, path)
	err := a.Accessor.Delete(ctx, path, opts)
	done(err)
	return err
}

func (a *observed) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	octx, done := a.o.begin(ctx, a.scheme, anystore.OpList, path)
	p, err := a.Accessor.List(octx, path, opts)
	done(err)
	if err != nil {
		return nil, err
	}
	return &observedPager{Pager: p, a: a, path: path}, nil
}

func (a *observed) Copy(ctx context.Context, from, to string, opts anystore.CopyOptions) error {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpCopy, from)
	err := a.Accessor.Copy(ctx, from, to, opts)
	done(err)
	return err
}

func (a *observed) Rename(ctx context.Context, from, to string, opts anystore.RenameOptions) error {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpRename, from)
	err := a.Accessor.Rename(ctx, from, to, opts)
	done(err)
	return err
}

func (a *observed) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpPresign, path)
	req, err := a.Accessor.Presign(ctx, path, opts)
	done(err)
	return req, err
}

func (a *observed) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	ctx, done := a.o.begin(ctx, a.scheme, anystore.OpBatch, "")
	res, err := a.Accessor.Batch(ctx, opts)
	done(err)
	return res, err
}

type observedReader struct {
	anystore.Reader
	a      *observed
	finish func(error)

	once sync.Once
	err  error
}

func (r *observedReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n > 0 {
		r.a.o.transferred(r.a.scheme, anystore.OpReaderRead, n)
	}
	if err != nil && !errors.Is(err, io.EOF) && r.err == nil {
		r.err = err
	}
	return n, err
}

func (r *observedReader) Close() error {
	err := r.Reader.Close()
	r.once.Do(func() {
		if r.err != nil {
			r.finish(r.err)
			return
		}
		r.finish(err)
	})
	return err
}

type observedWriter struct {
	anystore.Writer
	a    *observed
	path string
}

func (w *observedWriter) Write(ctx context.Context, p []byte) (int, error) {
	n, err := w.Writer.Write(ctx, p)
	if n > 0 {
		w.a.o.transferred(w.a.scheme, anystore.OpWriterWrite, n)
	}
	if err != nil {
		_, done := w.a.o.begin(ctx, w.a.scheme, anystore.OpWriterWrite, w.path)
		done(err)
	}
	return n, err
}

func (w *observedWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	ctx, done := w.a.o.begin(ctx, w.a.scheme, anystore.OpWriterFinalize, w.path)
	meta, err := w.Writer.Finalize(ctx)
	done(err)
	return meta, err
}

func (w *observedWriter) Abort(ctx context.Context) error {
	ctx, done := w.a.o.begin(ctx, w.a.scheme, anystore.OpWriterAbort, w.path)
	err := w.Writer.Abort(ctx)
	done(err)
	return err
}

type observedPager struct {
	anystore.Pager
	a    *observed
	path string
}

func (p *observedPager) NextPage(ctx context.Context) ([]anystore.Entry, error) {
	ctx, done := p.a.o.begin(ctx, p.a.scheme, anystore.OpPagerNext, p.path)
	entries, err := p.Pager.NextPage(ctx)
	if errors.Is(err, io.EOF) {
		done(nil)
	} else {
		done(err)
	}
	return entries, err
}

// outcome labels an error for logs and metrics: "ok" for success, the kind
// name otherwise.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return anystore.KindOf(err).String()
}
