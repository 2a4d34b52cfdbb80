package anystore

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"
)

// Operator is the entry point applications use. It normalizes paths,
// rejects operations the accessor does not support before they reach it,
// and offers byte-slice and streaming helpers on top of the Accessor
// contract.
//
// An Operator is immutable and safe for concurrent use. Handles it returns
// are not.
type Operator struct {
	backend Accessor
	layers  Stack
	acc     Accessor
	info    AccessorInfo
	mapper  *ErrorMapper
}

// NewOperator wraps backend with layers, the first layer innermost.
func NewOperator(backend Accessor, layers ...Layer) *Operator {
	stack := Stack(nil).Append(layers...)
	return newOperator(backend, stack, stack.Apply(backend))
}

func newOperator(backend Accessor, stack Stack, acc Accessor) *Operator {
	info := acc.Info()
	return &Operator{
		backend: backend,
		layers:  stack,
		acc:     acc,
		info:    info,
		mapper:  NewErrorMapper(info.Scheme),
	}
}

// Layer returns a new Operator with layers stacked on top of the current
// ones. The receiver is unchanged.
func (op *Operator) Layer(layers ...Layer) *Operator {
	return newOperator(op.backend, op.layers.Append(layers...), Stack(layers).Apply(op.acc))
}

// Info returns the description of the outermost accessor.
func (op *Operator) Info() AccessorInfo { return op.info }

func (op *Operator) Capability() Capability { return op.info.Capability }

// Layers returns a copy of the layer stack, innermost first.
func (op *Operator) Layers() Stack { return op.layers.Append() }

// Accessor returns the layered accessor the operator dispatches to.
func (op *Operator) Accessor() Accessor { return op.acc }

func (op *Operator) wrapErr(o Operation, path string, err error) error {
	return op.mapper.Map(o, path, err)
}

func (op *Operator) gate(o Operation, path string) error {
	if op.info.Capability.Supports(o) {
		return nil
	}
	return unsupportedError(o, path, op.info.Scheme)
}

func (op *Operator) require(o Operation, path string, supported bool, feature string) error {
	if supported {
		return nil
	}
	e := unsupportedError(o, path, op.info.Scheme)
	e.Message = feature + " is not supported by this accessor"
	return e
}

func (op *Operator) normalize(o Operation, path string) (string, error) {
	p, err := NormalizePath(path)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return "", e.fill(o, path, op.info.Scheme)
		}
		return "", err
	}
	return p, nil
}

func (op *Operator) invalid(o Operation, path, message string) error {
	return &Error{Kind: KindInvalidInput, Operation: o, Path: path, Backend: op.info.Scheme, Message: message}
}

func (op *Operator) filePath(o Operation, path string) (string, error) {
	p, err := op.normalize(o, path)
	if err != nil {
		return "", err
	}
	if IsDir(p) {
		return "", op.invalid(o, p, "path is a directory")
	}
	return p, nil
}

func (op *Operator) dirPath(o Operation, path string) (string, error) {
	p, err := op.normalize(o, path)
	if err != nil {
		return "", err
	}
	if !IsDir(p) {
		return "", op.invalid(o, p, "path is not a directory")
	}
	return p, nil
}

// Check verifies the backend is reachable by listing or stating the root.
func (op *Operator) Check(ctx context.Context) error {
	c := op.info.Capability
	switch {
	case c.List:
		pager, err := op.acc.List(ctx, RootPath, ListOptions{Limit: 1})
		if err != nil {
			return op.wrapErr(OpList, RootPath, err)
		}
		defer pager.Close()
		if _, err := pager.NextPage(ctx); err != nil && !errors.Is(err, io.EOF) {
			return op.wrapErr(OpPagerNext, RootPath, err)
		}
		return nil
	case c.Stat:
		_, err := op.acc.Stat(ctx, RootPath, StatOptions{})
		if err != nil && !IsKind(err, KindNotFound) {
			return op.wrapErr(OpStat, RootPath, err)
		}
		return nil
	default:
		return unsupportedError(OpList, RootPath, op.info.Scheme)
	}
}

// Stat returns the metadata of path.
func (op *Operator) Stat(ctx context.Context, path string) (Metadata, error) {
	return op.StatWith(ctx, path, StatOptions{})
}

func (op *Operator) StatWith(ctx context.Context, path string, opts StatOptions) (Metadata, error) {
	p, err := op.normalize(OpStat, path)
	if err != nil {
		return Metadata{}, err
	}
	if err := op.gate(OpStat, p); err != nil {
		return Metadata{}, err
	}
	c := op.info.Capability
	if opts.IfMatch != "" {
		if err := op.require(OpStat, p, c.StatWithIfMatch, "If-Match"); err != nil {
			return Metadata{}, err
		}
	}
	if opts.IfNoneMatch != "" {
		if err := op.require(OpStat, p, c.StatWithIfNoneMatch, "If-None-Match"); err != nil {
			return Metadata{}, err
		}
	}

	meta, err := op.acc.Stat(ctx, p, opts)
	if err != nil {
		return Metadata{}, op.wrapErr(OpStat, p, err)
	}
	return meta, nil
}

// Exists reports whether path exists.
func (op *Operator) Exists(ctx context.Context, path string) (bool, error) {
	_, err := op.Stat(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case IsKind(err, KindNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Read returns the whole content of path.
func (op *Operator) Read(ctx context.Context, path string) ([]byte, error) {
	return op.ReadWith(ctx, path, ReadOptions{})
}

func (op *Operator) ReadWith(ctx context.Context, path string, opts ReadOptions) ([]byte, error) {
	r, err := op.Reader(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Reader opens path for streaming. The returned reader covers opts.Range;
// on backends without native range reads the leading bytes are read and
// discarded.
func (op *Operator) Reader(ctx context.Context, path string, opts ReadOptions) (*ObjectReader, error) {
	p, err := op.filePath(OpRead, path)
	if err != nil {
		return nil, err
	}
	if err := op.gate(OpRead, p); err != nil {
		return nil, err
	}
	c := op.info.Capability
	if opts.IfMatch != "" {
		if err := op.require(OpRead, p, c.ReadWithIfMatch, "If-Match"); err != nil {
			return nil, err
		}
	}
	if opts.IfNoneMatch != "" {
		if err := op.require(OpRead, p, c.ReadWithIfNoneMatch, "If-None-Match"); err != nil {
			return nil, err
		}
	}
	if err := opts.Range.validate(); err != nil {
		return nil, op.invalid(OpRead, p, err.Error())
	}

	open := func(ctx context.Context, rng BytesRange) (Reader, error) {
		o := opts
		o.Range = rng
		return op.openRead(ctx, p, o)
	}
	stat := func(ctx context.Context) (Metadata, error) {
		if err := op.gate(OpStat, p); err != nil {
			return Metadata{}, err
		}
		return op.acc.Stat(ctx, p, StatOptions{})
	}
	wrap := func(o Operation, err error) error { return op.wrapErr(o, p, err) }

	first, err := open(ctx, opts.Range)
	if err != nil {
		return nil, op.wrapErr(OpRead, p, err)
	}
	r := newObjectReader(ctx, p, opts.Range, open, stat, wrap)
	r.cur = first
	return r, nil
}

func (op *Operator) openRead(ctx context.Context, path string, opts ReadOptions) (Reader, error) {
	if opts.Range.IsFull() || op.info.Capability.ReadWithRange {
		return op.acc.Read(ctx, path, opts)
	}

	rng := opts.Range
	opts.Range = BytesRange{}
	r, err := op.acc.Read(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return discardToRange(r, rng)
}

// Write stores data at path.
func (op *Operator) Write(ctx context.Context, path string, data []byte) (Metadata, error) {
	return op.WriteWith(ctx, path, data, WriteOptions{})
}

func (op *Operator) WriteWith(ctx context.Context, path string, data []byte, opts WriteOptions) (Metadata, error) {
	if opts.SizeHint == 0 {
		opts.SizeHint = int64(len(data))
	}
	return op.WithWriter(ctx, path, opts, func(w *ObjectWriter) error {
		if len(data) == 0 {
			return nil
		}
		_, err := w.WriteContext(ctx, data)
		return err
	})
}

// WriteFrom streams r to path.
func (op *Operator) WriteFrom(ctx context.Context, path string, r io.Reader, opts WriteOptions) (Metadata, error) {
	return op.WithWriter(ctx, path, opts, func(w *ObjectWriter) error {
		_, err := w.ReadFrom(r)
		return err
	})
}

// WithWriter opens a writer, runs fn and finalizes the writer if fn
// succeeds. On every other exit, including a panic in fn, the writer is
// aborted.
func (op *Operator) WithWriter(ctx context.Context, path string, opts WriteOptions, fn func(w *ObjectWriter) error) (Metadata, error) {
	w, err := op.Writer(ctx, path, opts)
	if err != nil {
		return Metadata{}, err
	}
	defer w.release(ctx)

	if err := fn(w); err != nil {
		return Metadata{}, err
	}
	return w.Finalize(ctx)
}

// Writer opens a writer for path. The caller must call Finalize or Abort,
// and Abort after a Finalize that failed with a retryable error; the writer
// stays open until then. Prefer WithWriter.
func (op *Operator) Writer(ctx context.Context, path string, opts WriteOptions) (*ObjectWriter, error) {
	p, err := op.filePath(OpWrite, path)
	if err != nil {
		return nil, err
	}
	if err := op.gate(OpWrite, p); err != nil {
		return nil, err
	}
	if err := op.checkWrite(p, opts); err != nil {
		return nil, err
	}

	w, err := op.acc.Write(ctx, p, opts)
	if err != nil {
		return nil, op.wrapErr(OpWrite, p, err)
	}
	wrap := func(o Operation, err error) error { return op.wrapErr(o, p, err) }
	return newObjectWriter(ctx, w, p, op.info.Capability, wrap), nil
}

func (op *Operator) checkWrite(p string, opts WriteOptions) error {
	c := op.info.Capability
	if opts.ContentType != "" {
		if err := op.require(OpWrite, p, c.WriteWithContentType, "content type"); err != nil {
			return err
		}
	}
	if opts.ContentDisposition != "" {
		if err := op.require(OpWrite, p, c.WriteWithContentDisposition, "content disposition"); err != nil {
			return err
		}
	}
	if opts.IfNotExists {
		if err := op.require(OpWrite, p, c.WriteWithIfNotExists, "if-not-exists"); err != nil {
			return err
		}
	}
	if opts.Concurrent > 1 {
		if err := op.require(OpWrite, p, c.WriteCanMulti, "concurrent multipart write"); err != nil {
			return err
		}
	}
	if opts.SizeHint < 0 {
		return op.invalid(OpWrite, p, "size hint is negative")
	}
	if c.WriteTotalMaxSize > 0 && opts.SizeHint > c.WriteTotalMaxSize {
		return op.invalid(OpWrite, p, "size hint exceeds the maximum object size")
	}
	if opts.ChunkSize != 0 {
		if err := op.require(OpWrite, p, c.WriteCanMulti, "chunked write"); err != nil {
			return err
		}
		if opts.ChunkSize < c.WriteMultiMinSize {
			return op.invalid(OpWrite, p, "chunk size is below the minimum part size")
		}
		if c.WriteMultiMaxSize > 0 && opts.ChunkSize > c.WriteMultiMaxSize {
			return op.invalid(OpWrite, p, "chunk size is above the maximum part size")
		}
	}
	return nil
}

// Delete removes path. Whether deleting a missing path succeeds is up to
// the backend, see Capability.DeleteMissingIsOK.
func (op *Operator) Delete(ctx context.Context, path string) error {
	p, err := op.normalize(OpDelete, path)
	if err != nil {
		return err
	}
	if err := op.gate(OpDelete, p); err != nil {
		return err
	}
	if err := op.acc.Delete(ctx, p, DeleteOptions{}); err != nil {
		return op.wrapErr(OpDelete, p, err)
	}
	return nil
}

// RemoveAll deletes path and, for directories, everything below it.
// Missing entries are ignored. Deletes are grouped into batches when the
// accessor supports them.
func (op *Operator) RemoveAll(ctx context.Context, path string) error {
	p, err := op.normalize(OpDelete, path)
	if err != nil {
		return err
	}
	if err := op.gate(OpDelete, p); err != nil {
		return err
	}
	if !IsDir(p) {
		return op.ignoreNotFound(op.Delete(ctx, p))
	}
	if err := op.gate(OpList, p); err != nil {
		return err
	}

	entries, err := op.ListAll(ctx, p, ListOptions{Recursive: true})
	if err != nil {
		return op.ignoreNotFound(err)
	}

	paths := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	if p != RootPath {
		paths = append(paths, p)
	}
	// Children go before their parents.
	slices.SortStableFunc(paths, func(a, b string) int {
		return strings.Count(b, "/") - strings.Count(a, "/")
	})

	c := op.info.Capability
	if !c.Batch {
		for _, path := range paths {
			if err := op.ignoreNotFound(op.Delete(ctx, path)); err != nil {
				return err
			}
		}
		return nil
	}

	size := len(paths)
	if c.BatchMaxOperations > 0 {
		size = c.BatchMaxOperations
	}
	for chunk := range slices.Chunk(paths, max(size, 1)) {
		res, err := op.Batch(ctx, BatchOptions{Deletes: chunk})
		if err != nil {
			return err
		}
		for _, item := range res.Failed() {
			if err := op.ignoreNotFound(item.Err); err != nil {
				return err
			}
		}
	}
	return nil
}

func (op *Operator) ignoreNotFound(err error) error {
	if IsKind(err, KindNotFound) {
		return nil
	}
	return err
}

// List lists the directory path.
func (op *Operator) List(ctx context.Context, path string, opts ListOptions) (*Lister, error) {
	p, err := op.dirPath(OpList, path)
	if err != nil {
		return nil, err
	}
	if err := op.gate(OpList, p); err != nil {
		return nil, err
	}

	c := op.info.Capability
	if opts.Limit < 0 {
		return nil, op.invalid(OpList, p, "limit is negative")
	}
	if !c.ListWithLimit {
		opts.Limit = 0
	}
	if opts.StartAfter != "" {
		if err := op.require(OpList, p, c.ListWithStartAfter, "start-after"); err != nil {
			return nil, err
		}
		if opts.StartAfter, err = op.normalize(OpList, opts.StartAfter); err != nil {
			return nil, err
		}
	}

	var pager Pager
	if opts.Recursive && !c.ListWithRecursive {
		if !opts.Token.IsZero() {
			return nil, op.invalid(OpList, p, "emulated recursive listings cannot be resumed")
		}
		pager = newFlatPager(op.acc, p, opts)
	} else {
		pager, err = op.acc.List(ctx, p, opts)
		if err != nil {
			return nil, op.wrapErr(OpList, p, err)
		}
	}

	return &Lister{
		pager: pager,
		wrap:  func(err error) error { return op.wrapErr(OpPagerNext, p, err) },
	}, nil
}

// ListAll collects the whole listing of path.
func (op *Operator) ListAll(ctx context.Context, path string, opts ListOptions) ([]Entry, error) {
	l, err := op.List(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	var all []Entry
	for {
		page, err := l.NextPage(ctx)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
}

// CreateDir creates the directory path, which must end with "/".
func (op *Operator) CreateDir(ctx context.Context, path string) error {
	p, err := op.dirPath(OpCreateDir, path)
	if err != nil {
		return err
	}
	if err := op.gate(OpCreateDir, p); err != nil {
		return err
	}
	if err := op.acc.CreateDir(ctx, p, CreateDirOptions{}); err != nil {
		return op.wrapErr(OpCreateDir, p, err)
	}
	return nil
}

func (op *Operator) fromTo(o Operation, from, to string) (string, string, error) {
	f, err := op.filePath(o, from)
	if err != nil {
		return "", "", err
	}
	t, err := op.filePath(o, to)
	if err != nil {
		return "", "", err
	}
	if f == t {
		return "", "", op.invalid(o, f, "source and target are the same")
	}
	return f, t, op.gate(o, f)
}

// Copy copies the file from to the path to.
func (op *Operator) Copy(ctx context.Context, from, to string) error {
	f, t, err := op.fromTo(OpCopy, from, to)
	if err != nil {
		return err
	}
	if err := op.acc.Copy(ctx, f, t, CopyOptions{}); err != nil {
		return op.wrapErr(OpCopy, f, err)
	}
	return nil
}

// Rename moves the file from to the path to.
func (op *Operator) Rename(ctx context.Context, from, to string) error {
	f, t, err := op.fromTo(OpRename, from, to)
	if err != nil {
		return err
	}
	if err := op.acc.Rename(ctx, f, t, RenameOptions{}); err != nil {
		return op.wrapErr(OpRename, f, err)
	}
	return nil
}

// Presign creates a presigned request for path.
func (op *Operator) Presign(ctx context.Context, path string, opts PresignOptions) (PresignedRequest, error) {
	p, err := op.filePath(OpPresign, path)
	if err != nil {
		return PresignedRequest{}, err
	}
	if err := op.gate(OpPresign, p); err != nil {
		return PresignedRequest{}, err
	}

	c := op.info.Capability
	switch opts.Operation {
	case OpRead:
		err = op.require(OpPresign, p, c.PresignRead, "presigned read")
	case OpStat:
		err = op.require(OpPresign, p, c.PresignStat, "presigned stat")
	case OpWrite:
		err = op.require(OpPresign, p, c.PresignWrite, "presigned write")
	default:
		err = op.invalid(OpPresign, p, "only read, stat and write can be presigned")
	}
	if err != nil {
		return PresignedRequest{}, err
	}
	if opts.Expires <= 0 {
		return PresignedRequest{}, op.invalid(OpPresign, p, "expiry must be positive")
	}

	req, err := op.acc.Presign(ctx, p, opts)
	if err != nil {
		return PresignedRequest{}, op.wrapErr(OpPresign, p, err)
	}
	return req, nil
}

func (op *Operator) PresignRead(ctx context.Context, path string, expires time.Duration) (PresignedRequest, error) {
	return op.Presign(ctx, path, PresignOptions{Operation: OpRead, Expires: expires})
}

func (op *Operator) PresignStat(ctx context.Context, path string, expires time.Duration) (PresignedRequest, error) {
	return op.Presign(ctx, path, PresignOptions{Operation: OpStat, Expires: expires})
}

func (op *Operator) PresignWrite(ctx context.Context, path string, expires time.Duration) (PresignedRequest, error) {
	return op.Presign(ctx, path, PresignOptions{Operation: OpWrite, Expires: expires})
}

// Batch deletes several paths in one backend call. Per-path failures are
// reported in the result, not as the returned error.
func (op *Operator) Batch(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	if err := op.gate(OpBatch, ""); err != nil {
		return BatchResult{}, err
	}
	c := op.info.Capability
	if c.BatchMaxOperations > 0 && len(opts.Deletes) > c.BatchMaxOperations {
		return BatchResult{}, op.invalid(OpBatch, "", "batch exceeds the maximum number of operations")
	}

	deletes := make([]string, len(opts.Deletes))
	for i, path := range opts.Deletes {
		p, err := op.normalize(OpBatch, path)
		if err != nil {
			return BatchResult{}, err
		}
		deletes[i] = p
	}

	res, err := op.acc.Batch(ctx, BatchOptions{Deletes: deletes})
	if err != nil {
		return BatchResult{}, op.wrapErr(OpBatch, "", err)
	}
	for i, item := range res.Results {
		if item.Err != nil {
			res.Results[i].Err = op.wrapErr(OpDelete, item.Path, item.Err)
		}
	}
	return res, nil
}
