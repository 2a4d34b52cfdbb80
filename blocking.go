package anystore

import (
	"context"
	"time"
)

// BlockingOperator exposes the Operator API without contexts, for callers
// that have none to pass. Every call runs the regular path to completion on
// the calling goroutine, bounded by the configured timeout.
type BlockingOperator struct {
	op      *Operator
	timeout time.Duration
}

// Blocking returns a blocking view of op. It fails with Unsupported when the
// accessor does not declare the Blocking capability.
func (op *Operator) Blocking() (*BlockingOperator, error) {
	if !op.info.Capability.Blocking {
		e := unsupportedError(OpUnknown, "", op.info.Scheme)
		e.Message = "blocking calls are not supported by this accessor"
		return nil, e
	}
	return &BlockingOperator{op: op}, nil
}

// WithTimeout returns a copy of b whose calls give up after d. Zero means
// no timeout.
func (b *BlockingOperator) WithTimeout(d time.Duration) *BlockingOperator {
	return &BlockingOperator{op: b.op, timeout: d}
}

// Operator returns the underlying operator.
func (b *BlockingOperator) Operator() *Operator { return b.op }

func (b *BlockingOperator) context() (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(context.Background(), b.timeout)
	}
	return context.WithCancel(context.Background())
}

func (b *BlockingOperator) Stat(path string) (Metadata, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Stat(ctx, path)
}

func (b *BlockingOperator) Exists(path string) (bool, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Exists(ctx, path)
}

func (b *BlockingOperator) Read(path string) ([]byte, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Read(ctx, path)
}

func (b *BlockingOperator) ReadWith(path string, opts ReadOptions) ([]byte, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.ReadWith(ctx, path, opts)
}

func (b *BlockingOperator) Write(path string, data []byte) (Metadata, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Write(ctx, path, data)
}

func (b *BlockingOperator) WriteWith(path string, data []byte, opts WriteOptions) (Metadata, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.WriteWith(ctx, path, data, opts)
}

func (b *BlockingOperator) Delete(path string) error {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Delete(ctx, path)
}

func (b *BlockingOperator) RemoveAll(path string) error {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.RemoveAll(ctx, path)
}

func (b *BlockingOperator) List(path string, opts ListOptions) ([]Entry, error) {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.ListAll(ctx, path, opts)
}

func (b *BlockingOperator) CreateDir(path string) error {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.CreateDir(ctx, path)
}

func (b *BlockingOperator) Copy(from, to string) error {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Copy(ctx, from, to)
}

func (b *BlockingOperator) Rename(from, to string) error {
	ctx, cancel := b.context()
	defer cancel()
	return b.op.Rename(ctx, from, to)
}
