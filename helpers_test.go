package anystore_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sagarc03/anystore"
	"github.com/stretchr/testify/mock"
)

type SpyAccessor struct {
	mock.Mock
	info anystore.AccessorInfo
}

func NewSpyAccessor(c anystore.Capability) *SpyAccessor {
	return &SpyAccessor{info: anystore.AccessorInfo{Scheme: "spy", Capability: c}}
}

func (s *SpyAccessor) Info() anystore.AccessorInfo { return s.info }

func (s *SpyAccessor) CreateDir(ctx context.Context, path string, opts anystore.CreateDirOptions) error {
	args := s.Called(ctx, path, opts)
	return args.Error(0)
}

func (s *SpyAccessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	args := s.Called(ctx, path, opts)
	return args.Get(0).(anystore.Metadata), args.Error(1)
}

func (s *SpyAccessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	args := s.Called(ctx, path, opts)
	r, _ := args.Get(0).(anystore.Reader)
	return r, args.Error(1)
}

func (s *SpyAccessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	args := s.Called(ctx, path, opts)
	w, _ := args.Get(0).(anystore.Writer)
	return w, args.Error(1)
}

func (s *SpyAccessor) Delete(ctx context.Context, path string, opts anystore.DeleteOptions) error {
	args := s.Called(ctx, path, opts)
	return args.Error(0)
}

func (s *SpyAccessor) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	args := s.Called(ctx, path, opts)
	p, _ := args.Get(0).(anystore.Pager)
	return p, args.Error(1)
}

func (s *SpyAccessor) Copy(ctx context.Context, from, to string, opts anystore.CopyOptions) error {
	args := s.Called(ctx, from, to, opts)
	return args.Error(0)
}

func (s *SpyAccessor) Rename(ctx context.Context, from, to string, opts anystore.RenameOptions) error {
	args := s.Called(ctx, from, to, opts)
	return args.Error(0)
}

func (s *SpyAccessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	args := s.Called(ctx, path, opts)
	return args.Get(0).(anystore.PresignedRequest), args.Error(1)
}

func (s *SpyAccessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	args := s.Called(ctx, opts)
	return args.Get(0).(anystore.BatchResult), args.Error(1)
}

type SpyWriter struct {
	mock.Mock
}

func (s *SpyWriter) Write(ctx context.Context, p []byte) (int, error) {
	args := s.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

func (s *SpyWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	args := s.Called(ctx)
	return args.Get(0).(anystore.Metadata), args.Error(1)
}

func (s *SpyWriter) Abort(ctx context.Context) error {
	args := s.Called(ctx)
	return args.Error(0)
}

// fakeAccessor keeps objects in a map. It backs reader and listing tests
// that need real bytes rather than scripted calls.
type fakeAccessor struct {
	anystore.UnsupportedAccessor
	mu      sync.Mutex
	objects map[string][]byte
	caps    anystore.Capability
	reads   []anystore.ReadOptions
}

func newFakeAccessor(c anystore.Capability) *fakeAccessor {
	return &fakeAccessor{
		UnsupportedAccessor: anystore.UnsupportedAccessor{Scheme: "fake"},
		objects:             map[string][]byte{},
		caps:                c,
	}
}

func (f *fakeAccessor) Info() anystore.AccessorInfo {
	return anystore.AccessorInfo{Scheme: "fake", Capability: f.caps}
}

func (f *fakeAccessor) Stat(_ context.Context, path string, _ anystore.StatOptions) (anystore.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return anystore.Metadata{}, anystore.NewError(anystore.KindNotFound, "no such object")
	}
	m := anystore.NewMetadata(anystore.ModeFile)
	m.SetContentLength(int64(len(data)))
	return m, nil
}

func (f *fakeAccessor) Read(_ context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, opts)
	data, ok := f.objects[path]
	if !ok {
		return nil, anystore.NewError(anystore.KindNotFound, "no such object")
	}
	start, end := opts.Range.Clamp(int64(len(data)))
	return io.NopCloser(strings.NewReader(string(data[start:end]))), nil
}

func (f *fakeAccessor) Write(_ context.Context, path string, _ anystore.WriteOptions) (anystore.Writer, error) {
	return anystore.NewOneShotWriter(func(_ context.Context, data []byte) (anystore.Metadata, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.objects[path] = append([]byte(nil), data...)
		m := anystore.NewMetadata(anystore.ModeFile)
		m.SetContentLength(int64(len(data)))
		return m, nil
	}), nil
}

func (f *fakeAccessor) Delete(_ context.Context, path string, _ anystore.DeleteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	return nil
}

// List returns one level below path: files and the first directory
// segment of deeper keys.
func (f *fakeAccessor) List(_ context.Context, path string, _ anystore.ListOptions) (anystore.Pager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := map[string]bool{}
	var entries []anystore.Entry
	for key := range f.objects {
		rest, ok := strings.CutPrefix(key, path)
		if !ok || rest == "" {
			continue
		}
		name := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i+1]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, anystore.NewEntry(path+name))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return anystore.EntriesPager(entries), nil
}

func fullCapability() anystore.Capability {
	return anystore.Capability{
		Stat: true, StatWithIfMatch: true, StatWithIfNoneMatch: true,
		Read: true, ReadWithRange: true, ReadWithIfMatch: true, ReadWithIfNoneMatch: true,
		Write: true, WriteCanEmpty: true, WriteCanMulti: true, WriteWithContentType: true,
		WriteWithContentDisposition: true, WriteWithIfNotExists: true, WriteIdempotent: true,
		CreateDir: true, Delete: true, DeleteMissingIsOK: true,
		List: true, ListWithLimit: true, ListWithStartAfter: true, ListWithRecursive: true,
		Copy: true, Rename: true,
		Presign: true, PresignRead: true, PresignStat: true, PresignWrite: true,
		Batch: true, Blocking: true,
	}
}
