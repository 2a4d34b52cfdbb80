package layers

import (
	"context"

	"github.com/sagarc03/anystore"
)

// ReadOnly removes every mutating operation from the wrapped accessor. The
// advertised capability is narrowed accordingly, so the Operator rejects
// those calls before they reach this layer; direct calls are rejected here.
type ReadOnly struct{}

func NewReadOnly() ReadOnly { return ReadOnly{} }

func (ReadOnly) Layer(inner anystore.Accessor) anystore.Accessor {
	info := inner.Info()
	info.Capability = info.Capability.Without(
		anystore.OpWrite,
		anystore.OpCreateDir,
		anystore.OpDelete,
		anystore.OpCopy,
		anystore.OpRename,
		anystore.OpBatch,
	)
	info.Capability.PresignWrite = false
	if !info.Capability.PresignRead && !info.Capability.PresignStat {
		info.Capability.Presign = false
	}
	return &readOnlyAccessor{Accessor: inner, info: info}
}

type readOnlyAccessor struct {
	anystore.Accessor
	info anystore.AccessorInfo
}

func (a *readOnlyAccessor) Info() anystore.AccessorInfo { return a.info }

func (a *readOnlyAccessor) denied(op anystore.Operation, path string) error {
	return &anystore.Error{
		Kind:      anystore.KindUnsupported,
		Operation: op,
		Path:      path,
		Backend:   a.info.Scheme,
		Message:   "accessor is read-only",
	}
}

func (a *readOnlyAccessor) CreateDir(_ context.Context, path string, _ anystore.CreateDirOptions) error {
	return a.denied(anystore.OpCreateDir, path)
}

func (a *readOnlyAccessor) Write(_ context.Context, path string, _ anystore.WriteOptions) (anystore.Writer, error) {
	return nil, a.denied(anystore.OpWrite, path)
}

func (a *readOnlyAccessor) Delete(_ context.Context, path string, _ anystore.DeleteOptions) error {
	return a.denied(anystore.OpDelete, path)
}

func (a *readOnlyAccessor) Copy(_ context.Context, from, _ string, _ anystore.CopyOptions) error {
	return a.denied(anystore.OpCopy, from)
}

func (a *readOnlyAccessor) Rename(_ context.Context, from, _ string, _ anystore.RenameOptions) error {
	return a.denied(anystore.OpRename, from)
}

func (a *readOnlyAccessor) Batch(context.Context, anystore.BatchOptions) (anystore.BatchResult, error) {
	return anystore.BatchResult{}, a.denied(anystore.OpBatch, "")
}

func (a *readOnlyAccessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	if opts.Operation == anystore.OpWrite {
		return anystore.PresignedRequest{}, a.denied(anystore.OpPresign, path)
	}
	return a.Accessor.Presign(ctx, path, opts)
}
