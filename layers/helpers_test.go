package layers_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sagarc03/anystore"
)

// stubAccessor lets each test script the calls it cares about and counts
// how often every operation reached it.
type stubAccessor struct {
	anystore.UnsupportedAccessor
	caps anystore.Capability

	stat  func(ctx context.Context, path string) (anystore.Metadata, error)
	read  func(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error)
	write func(ctx context.Context, path string) (anystore.Writer, error)
	list  func(ctx context.Context, path string) (anystore.Pager, error)

	mu    sync.Mutex
	calls map[anystore.Operation]int
}

func newStub(c anystore.Capability) *stubAccessor {
	return &stubAccessor{
		UnsupportedAccessor: anystore.UnsupportedAccessor{Scheme: "stub"},
		caps:                c,
		calls:               map[anystore.Operation]int{},
	}
}

func (s *stubAccessor) count(op anystore.Operation) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

func (s *stubAccessor) Calls(op anystore.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubAccessor) Info() anystore.AccessorInfo {
	return anystore.AccessorInfo{Scheme: "stub", Capability: s.caps}
}

func (s *stubAccessor) Stat(ctx context.Context, path string, _ anystore.StatOptions) (anystore.Metadata, error) {
	s.count(anystore.OpStat)
	if s.stat == nil {
		return anystore.NewMetadata(anystore.ModeFile), nil
	}
	return s.stat(ctx, path)
}

func (s *stubAccessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	s.count(anystore.OpRead)
	return s.read(ctx, path, opts)
}

func (s *stubAccessor) Write(ctx context.Context, path string, _ anystore.WriteOptions) (anystore.Writer, error) {
	s.count(anystore.OpWrite)
	return s.write(ctx, path)
}

func (s *stubAccessor) Delete(context.Context, string, anystore.DeleteOptions) error {
	s.count(anystore.OpDelete)
	return nil
}

func (s *stubAccessor) List(ctx context.Context, path string, _ anystore.ListOptions) (anystore.Pager, error) {
	s.count(anystore.OpList)
	return s.list(ctx, path)
}

func caps() anystore.Capability {
	return anystore.Capability{
		Stat: true, Read: true, ReadWithRange: true,
		Write: true, WriteCanEmpty: true, WriteIdempotent: true,
		Delete: true, List: true, CreateDir: true, Copy: true, Rename: true,
		Batch: true, Presign: true, PresignRead: true, PresignWrite: true,
	}
}

// failN returns a func failing the first n calls with err.
func failN(n int, err error) func() error {
	var calls atomic.Int32
	return func() error {
		if int(calls.Add(1)) <= n {
			return err
		}
		return nil
	}
}

func retryable() error {
	return anystore.NewError(anystore.KindRateLimited, "slow down")
}

// flakyReader serves data but fails with err after failAfter bytes.
type flakyReader struct {
	r         io.Reader
	served    int
	failAfter int
	err       error
	closed    bool
}

func newFlakyReader(data string, failAfter int, err error) *flakyReader {
	return &flakyReader{r: strings.NewReader(data), failAfter: failAfter, err: err}
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.err != nil && f.served >= f.failAfter {
		return 0, f.err
	}
	if f.err != nil {
		p = p[:min(len(p), f.failAfter-f.served)]
	}
	n, err := f.r.Read(p)
	f.served += n
	return n, err
}

func (f *flakyReader) Close() error {
	f.closed = true
	return nil
}

type recordingWriter struct {
	mu        sync.Mutex
	data      []byte
	writes    int
	finalizes int
	aborts    int
	writeErr  func() error
	// partial is the number of bytes accepted by a failing write.
	partial int
}

func (w *recordingWriter) Write(_ context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writeErr != nil {
		if err := w.writeErr(); err != nil {
			n := min(w.partial, len(p))
			w.data = append(w.data, p[:n]...)
			return n, err
		}
	}
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *recordingWriter) Finalize(context.Context) (anystore.Metadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalizes++
	m := anystore.NewMetadata(anystore.ModeFile)
	m.SetContentLength(int64(len(w.data)))
	return m, nil
}

func (w *recordingWriter) Abort(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborts++
	return nil
}
