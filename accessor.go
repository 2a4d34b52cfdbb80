package anystore

import (
	"context"
	"io"
)

// AccessorInfo describes an accessor instance. It is immutable and safe to
// call per operation.
type AccessorInfo struct {
	// Scheme names the backend, e.g. "fs" or "s3".
	Scheme string
	// Root is the backend-side prefix every path is resolved against.
	Root string
	// Name identifies the instance, e.g. a bucket or a table.
	Name       string
	Capability Capability
}

// Accessor is the contract every backend implements and every layer wraps.
//
// Paths passed to an Accessor are already canonical (see NormalizePath) and
// the operation has already passed the capability gate, so implementations
// need neither normalize nor re-check capabilities. Every error returned
// should be an *Error; anything else is mapped to KindUnexpected by the
// Operator and logged as a mapping gap.
//
// Read, Write and List return handles owned by the caller. Abandoning a
// Writer without Finalize must be followed by Abort, which releases the
// backend's partial state.
type Accessor interface {
	Info() AccessorInfo

	CreateDir(ctx context.Context, path string, opts CreateDirOptions) error
	Stat(ctx context.Context, path string, opts StatOptions) (Metadata, error)
	Read(ctx context.Context, path string, opts ReadOptions) (Reader, error)
	Write(ctx context.Context, path string, opts WriteOptions) (Writer, error)
	Delete(ctx context.Context, path string, opts DeleteOptions) error
	List(ctx context.Context, path string, opts ListOptions) (Pager, error)
	Copy(ctx context.Context, from, to string, opts CopyOptions) error
	Rename(ctx context.Context, from, to string, opts RenameOptions) error
	Presign(ctx context.Context, path string, opts PresignOptions) (PresignedRequest, error)
	Batch(ctx context.Context, opts BatchOptions) (BatchResult, error)
}

// Reader streams the bytes of one read. Reading past the requested range
// returns io.EOF. A failure mid-stream is returned by the next Read.
type Reader interface {
	io.ReadCloser
}

// Writer is the sink of one write. Write may be called any number of times,
// followed by exactly one Finalize or Abort.
type Writer interface {
	Write(ctx context.Context, p []byte) (int, error)
	// Finalize commits everything written and returns the stored metadata.
	Finalize(ctx context.Context) (Metadata, error)
	// Abort discards everything written. Backends without atomic abort
	// clean up on a best-effort basis.
	Abort(ctx context.Context) error
}

// Pager produces a listing one page at a time. NextPage returns io.EOF once
// the listing is exhausted and keeps returning it. A failed NextPage leaves
// the continuation state untouched, so the call can be repeated.
type Pager interface {
	NextPage(ctx context.Context) ([]Entry, error)
	// Token returns the continuation token of the next page. It is the
	// zero Token once the listing is exhausted.
	Token() Token
	Close() error
}

// UnsupportedAccessor answers every operation with KindUnsupported. Backends
// embed it and override what they implement.
type UnsupportedAccessor struct {
	Scheme string
}

func (u UnsupportedAccessor) unsupported(op Operation, path string) error {
	return unsupportedError(op, path, u.Scheme)
}

func (u UnsupportedAccessor) CreateDir(_ context.Context, path string, _ CreateDirOptions) error {
	return u.unsupported(OpCreateDir, path)
}

func (u UnsupportedAccessor) Stat(_ context.Context, path string, _ StatOptions) (Metadata, error) {
	return Metadata{}, u.unsupported(OpStat, path)
}

func (u UnsupportedAccessor) Read(_ context.Context, path string, _ ReadOptions) (Reader, error) {
	return nil, u.unsupported(OpRead, path)
}

func (u UnsupportedAccessor) Write(_ context.Context, path string, _ WriteOptions) (Writer, error) {
	return nil, u.unsupported(OpWrite, path)
}

func (u UnsupportedAccessor) Delete(_ context.Context, path string, _ DeleteOptions) error {
	return u.unsupported(OpDelete, path)
}

func (u UnsupportedAccessor) List(_ context.Context, path string, _ ListOptions) (Pager, error) {
	return nil, u.unsupported(OpList, path)
}

func (u UnsupportedAccessor) Copy(_ context.Context, from, _ string, _ CopyOptions) error {
	return u.unsupported(OpCopy, from)
}

func (u UnsupportedAccessor) Rename(_ context.Context, from, _ string, _ RenameOptions) error {
	return u.unsupported(OpRename, from)
}

func (u UnsupportedAccessor) Presign(_ context.Context, path string, _ PresignOptions) (PresignedRequest, error) {
	return PresignedRequest{}, u.unsupported(OpPresign, path)
}

func (u UnsupportedAccessor) Batch(_ context.Context, _ BatchOptions) (BatchResult, error) {
	return BatchResult{}, u.unsupported(OpBatch, "")
}
