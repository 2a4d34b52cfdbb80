package anystore

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultPartSize is the part size used when none is configured.
const DefaultPartSize = 8 << 20

// MultipartUploader is the backend side of a multipart protocol. Errors
// should be *Error values so the writer can tell retryable failures apart.
type MultipartUploader interface {
	InitiateUpload(ctx context.Context) (uploadID string, err error)
	UploadPart(ctx context.Context, uploadID string, number int, data []byte) (MultipartPart, error)
	CompleteUpload(ctx context.Context, uploadID string, parts []MultipartPart) (Metadata, error)
	AbortUpload(ctx context.Context, uploadID string) error
	// PutObject stores data in a single call. It is used when the whole
	// object fits in one part.
	PutObject(ctx context.Context, data []byte) (Metadata, error)
}

// MultipartPart identifies an uploaded part.
type MultipartPart struct {
	Number int
	ETag   string
	Size   int64
}

// MultipartWriter buffers writes up to the part size and uploads each full
// buffer as a numbered part. The upload is initiated lazily, so objects
// smaller than one part are stored with a single PutObject.
//
// A retryable part failure keeps the buffer so the same Write can be
// repeated. Any other failure aborts the upload before the error is
// returned. With concurrent uploads every part failure aborts.
type MultipartWriter struct {
	ctx        context.Context
	u          MultipartUploader
	partSize   int64
	concurrent int

	buf      []byte
	uploadID string
	next     int
	done     bool
	group    *errgroup.Group

	mu       sync.Mutex
	parts    []MultipartPart
	asyncErr error
}

// NewMultipartWriter creates a writer. ctx bounds concurrent part uploads
// that outlive the Write call that started them.
func NewMultipartWriter(ctx context.Context, u MultipartUploader, partSize int64, concurrent int) *MultipartWriter {
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	w := &MultipartWriter{
		ctx:        context.WithoutCancel(ctx),
		u:          u,
		partSize:   partSize,
		concurrent: concurrent,
		next:       1,
	}
	if concurrent > 1 {
		w.group = new(errgroup.Group)
		w.group.SetLimit(concurrent)
	}
	return w
}

func (w *MultipartWriter) Write(ctx context.Context, p []byte) (int, error) {
	if w.done {
		return 0, invalidStateError(OpWriterWrite, "", "write on closed multipart writer")
	}
	if err := w.failedAsync(ctx); err != nil {
		return 0, err
	}

	n := 0
	for len(p) > 0 {
		// A full buffer is flushed before new bytes are accepted, so a failed
		// flush reports exactly the prefix of p that was taken.
		if int64(len(w.buf)) >= w.partSize {
			if err := w.flush(ctx); err != nil {
				return n, err
			}
		}
		take := min(int(w.partSize)-len(w.buf), len(p))
		w.buf = append(w.buf, p[:take]...)
		p = p[take:]
		n += take
	}
	return n, nil
}

func (w *MultipartWriter) Finalize(ctx context.Context) (Metadata, error) {
	if w.done {
		return Metadata{}, invalidStateError(OpWriterFinalize, "", "finalize on closed multipart writer")
	}

	if w.uploadID == "" {
		meta, err := w.u.PutObject(ctx, w.buf)
		if err != nil {
			if !IsRetryable(err) {
				w.done = true
				w.buf = nil
			}
			return Metadata{}, err
		}
		w.done = true
		w.buf = nil
		return meta, nil
	}

	if len(w.buf) > 0 {
		if err := w.flush(ctx); err != nil {
			return Metadata{}, err
		}
	}

	if w.group != nil {
		if err := w.group.Wait(); err != nil {
			w.abort(ctx)
			return Metadata{}, err
		}
	}

	w.mu.Lock()
	parts := slices.Clone(w.parts)
	w.mu.Unlock()
	slices.SortFunc(parts, func(a, b MultipartPart) int { return a.Number - b.Number })

	meta, err := w.u.CompleteUpload(ctx, w.uploadID, parts)
	if err != nil {
		return Metadata{}, w.fail(ctx, err)
	}
	w.done = true
	return meta, nil
}

// Abort cancels the upload. It is a no-op once the writer is done.
func (w *MultipartWriter) Abort(ctx context.Context) error {
	if w.done {
		return nil
	}
	if w.group != nil {
		_ = w.group.Wait()
	}
	w.done = true
	w.buf = nil
	if w.uploadID == "" {
		return nil
	}
	return w.u.AbortUpload(ctx, w.uploadID)
}

// UploadID returns the backend upload id, empty until the first part.
func (w *MultipartWriter) UploadID() string { return w.uploadID }

func (w *MultipartWriter) flush(ctx context.Context) error {
	if w.uploadID == "" {
		id, err := w.u.InitiateUpload(ctx)
		if err != nil {
			return w.fail(ctx, err)
		}
		w.uploadID = id
	}

	number := w.next
	data := w.buf

	if w.group == nil {
		part, err := w.u.UploadPart(ctx, w.uploadID, number, data)
		if err != nil {
			return w.fail(ctx, err)
		}
		w.mu.Lock()
		w.parts = append(w.parts, part)
		w.mu.Unlock()
		w.next++
		w.buf = make([]byte, 0, w.partSize)
		return nil
	}

	w.next++
	w.buf = make([]byte, 0, w.partSize)
	uploadID := w.uploadID
	w.group.Go(func() error {
		part, err := w.u.UploadPart(w.ctx, uploadID, number, data)
		w.mu.Lock()
		defer w.mu.Unlock()
		if err != nil {
			if w.asyncErr == nil {
				w.asyncErr = err
			}
			return err
		}
		w.parts = append(w.parts, part)
		return nil
	})
	return nil
}

func (w *MultipartWriter) failedAsync(ctx context.Context) error {
	w.mu.Lock()
	err := w.asyncErr
	w.mu.Unlock()
	if err != nil {
		w.abort(ctx)
	}
	return err
}

func (w *MultipartWriter) fail(ctx context.Context, err error) error {
	if IsRetryable(err) && w.group == nil {
		return err
	}
	w.abort(ctx)
	return err
}

func (w *MultipartWriter) abort(ctx context.Context) {
	if w.done {
		return
	}
	_ = w.Abort(context.WithoutCancel(ctx))
}
