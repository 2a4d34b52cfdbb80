package anystore

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ObjectReader reads a window of an object. It implements io.ReadSeekCloser
// and io.ReaderAt on top of ranged reads: every Seek that moves the cursor
// reopens the underlying Reader at the new offset. Use it from one goroutine
// at a time, except ReadAt which is safe for concurrent use.
//
// The underlying Reader is closed before any other accessor call is made,
// so an ObjectReader never holds two concurrency permits at once.
type ObjectReader struct {
	ctx  context.Context
	path string
	base BytesRange
	open func(ctx context.Context, rng BytesRange) (Reader, error)
	stat func(ctx context.Context) (Metadata, error)
	wrap func(op Operation, err error) error

	size    int64
	hasSize bool
	pos     int64

	mu     sync.Mutex
	cur    Reader
	closed bool
}

func newObjectReader(
	ctx context.Context,
	path string,
	base BytesRange,
	open func(context.Context, BytesRange) (Reader, error),
	stat func(context.Context) (Metadata, error),
	wrap func(Operation, error) error,
) *ObjectReader {
	size, hasSize := base.Size()
	return &ObjectReader{
		ctx:     ctx,
		path:    path,
		base:    base,
		open:    open,
		stat:    stat,
		wrap:    wrap,
		size:    size,
		hasSize: hasSize,
	}
}

func (r *ObjectReader) window(from int64) BytesRange {
	if r.hasSize {
		return RangeOf(r.base.Offset()+from, max(r.size-from, 0))
	}
	return RangeFrom(r.base.Offset() + from)
}

// SetObjectSize records the full length of the object, which spares Seek
// relative to the end a Stat. It has no effect once the size is known.
func (r *ObjectReader) SetObjectSize(length int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasSize {
		return
	}
	r.size, r.hasSize = max(length-r.base.Offset(), 0), true
}

// drop closes the current underlying Reader. The caller holds r.mu.
func (r *ObjectReader) drop() {
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
}

func (r *ObjectReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, invalidStateError(OpReaderRead, r.path, "read on closed reader")
	}
	if r.hasSize && r.pos >= r.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if r.cur == nil {
		cur, err := r.open(r.ctx, r.window(r.pos))
		if err != nil {
			return 0, r.wrap(OpReaderRead, err)
		}
		r.cur = cur
	}

	n, err := r.cur.Read(p)
	r.pos += int64(n)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return n, io.EOF
	default:
		// The next Read reopens at the current position.
		r.drop()
		return n, r.wrap(OpReaderRead, err)
	}
}

// Seek moves the cursor. Seeking relative to the end needs the object size
// and may issue a Stat.
func (r *ObjectReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, invalidStateError(OpReaderRead, r.path, "seek on closed reader")
	}

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		if !r.hasSize {
			r.drop()
			meta, err := r.stat(r.ctx)
			if err != nil {
				return 0, r.wrap(OpStat, err)
			}
			length, ok := meta.ContentLength()
			if !ok {
				return 0, &Error{Kind: KindUnsupported, Operation: OpReaderRead, Path: r.path, Message: "object size is unknown"}
			}
			r.size, r.hasSize = max(length-r.base.Offset(), 0), true
		}
		next = r.size + offset
	default:
		return 0, &Error{Kind: KindInvalidInput, Operation: OpReaderRead, Path: r.path, Message: "invalid whence"}
	}

	if next < 0 {
		return 0, &Error{Kind: KindInvalidInput, Operation: OpReaderRead, Path: r.path, Message: "negative position"}
	}
	if next != r.pos {
		r.drop()
	}
	r.pos = next
	return next, nil
}

// ReadAt reads len(p) bytes at off with a dedicated ranged read.
func (r *ObjectReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &Error{Kind: KindInvalidInput, Operation: OpReaderRead, Path: r.path, Message: "negative offset"}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, invalidStateError(OpReaderRead, r.path, "read on closed reader")
	}
	r.drop()
	size, hasSize := r.size, r.hasSize
	r.mu.Unlock()

	want := int64(len(p))
	if hasSize {
		if off >= size {
			return 0, io.EOF
		}
		want = min(want, size-off)
	}

	rd, err := r.open(r.ctx, RangeOf(r.base.Offset()+off, want))
	if err != nil {
		return 0, r.wrap(OpReaderRead, err)
	}
	defer rd.Close()

	n, err := io.ReadFull(rd, p[:want])
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return n, io.EOF
	case err != nil:
		return n, r.wrap(OpReaderRead, err)
	case int64(n) < int64(len(p)):
		return n, io.EOF
	}
	return n, nil
}

func (r *ObjectReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	if err != nil {
		return r.wrap(OpReaderRead, err)
	}
	return nil
}

// skipReader emulates a ranged read on a backend that can only read from
// the start: it discards the leading bytes and stops after the range.
type skipReader struct {
	io.Reader
	closer io.Closer
}

func (s *skipReader) Close() error { return s.closer.Close() }

func discardToRange(r Reader, rng BytesRange) (Reader, error) {
	if off := rng.Offset(); off > 0 {
		if _, err := io.CopyN(io.Discard, r, off); err != nil {
			if errors.Is(err, io.EOF) {
				return &skipReader{Reader: eofReader{}, closer: r}, nil
			}
			_ = r.Close()
			return nil, err
		}
	}
	if size, ok := rng.Size(); ok {
		return &skipReader{Reader: io.LimitReader(r, size), closer: r}, nil
	}
	return r, nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// bytesReader serves an in-memory slice as a Reader.
type bytesReader struct {
	data []byte
}

// NewBytesReader returns a Reader over data. Backends that load whole
// objects use it after applying the requested range.
func NewBytesReader(data []byte) Reader {
	return &bytesReader{data: data}
}

func (b *bytesReader) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *bytesReader) Close() error { return nil }
