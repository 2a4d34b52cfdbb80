// Package memory provides an in-process accessor. Everything lives in a map
// guarded by a mutex, which makes it the reference backend for tests and
// for caching small data sets.
package memory

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content-md5 is an integrity header, not a security boundary
	"encoding/base64"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
)

// Scheme is the scheme name of the memory backend.
const Scheme = "memory"

const (
	defaultPageSize = 1000
	maxBatchDeletes = 1000
)

// Config configures a memory accessor.
type Config struct {
	// Root prefixes every stored key.
	Root string `mapstructure:"root"`
	// Name identifies the instance in AccessorInfo.
	Name     string `mapstructure:"name"`
	PartSize int64  `mapstructure:"part_size" validate:"min=0"`

	options.Presign `mapstructure:",squash"`
}

type object struct {
	data []byte
	meta anystore.Metadata
}

type upload struct {
	path  string
	opts  anystore.WriteOptions
	parts map[int][]byte
}

// Accessor is an in-memory anystore.Accessor. The zero value is not usable,
// create one with New.
type Accessor struct {
	cfg    Config
	signer *anystore.Signer
	now    func() time.Time

	mu      sync.RWMutex
	objects map[string]object
	uploads map[string]*upload
}

// New creates an empty memory accessor.
func New(cfg Config) (*Accessor, error) {
	signer, err := cfg.Signer()
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = Scheme
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = anystore.DefaultPartSize
	}
	return &Accessor{
		cfg:     cfg,
		signer:  signer,
		now:     time.Now,
		objects: make(map[string]object),
		uploads: make(map[string]*upload),
	}, nil
}

// FromOptions creates a memory accessor from an option map.
func FromOptions(raw map[string]string) (*Accessor, error) {
	var cfg Config
	if err := options.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

func (a *Accessor) Info() anystore.AccessorInfo {
	c := anystore.Capability{
		Stat:                        true,
		StatWithIfMatch:             true,
		StatWithIfNoneMatch:         true,
		Read:                        true,
		ReadWithRange:               true,
		ReadWithIfMatch:             true,
		ReadWithIfNoneMatch:         true,
		Write:                       true,
		WriteCanEmpty:               true,
		WriteCanMulti:               true,
		WriteWithContentType:        true,
		WriteWithContentDisposition: true,
		WriteWithIfNotExists:        true,
		WriteIdempotent:             true,
		CreateDir:                   true,
		Delete:                      true,
		DeleteMissingIsOK:           true,
		List:                        true,
		ListWithLimit:               true,
		ListWithStartAfter:          true,
		ListWithRecursive:           true,
		Copy:                        true,
		Rename:                      true,
		Batch:                       true,
		BatchMaxOperations:          maxBatchDeletes,
		Blocking:                    true,
	}
	return anystore.AccessorInfo{
		Scheme:     Scheme,
		Root:       a.cfg.Root,
		Name:       a.cfg.Name,
		Capability: options.WithPresign(c, a.signer),
	}
}

func (a *Accessor) key(path string) string {
	return anystore.JoinRoot(a.cfg.Root, path)
}

func notFound() error {
	return anystore.NewError(anystore.KindNotFound, "object does not exist")
}

// dirExists reports whether key is an explicit directory marker or the
// prefix of any stored key. Callers hold a.mu.
func (a *Accessor) dirExists(key string) bool {
	if key == "" || key == a.key(anystore.RootPath) {
		return true
	}
	if _, ok := a.objects[key]; ok {
		return true
	}
	for k := range a.objects {
		if strings.HasPrefix(k, key) {
			return true
		}
	}
	return false
}

func (a *Accessor) CreateDir(ctx context.Context, path string, _ anystore.CreateDirOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(path)
	if _, ok := a.objects[key]; !ok {
		meta := anystore.NewMetadata(anystore.ModeDir)
		meta.SetLastModified(a.now())
		a.objects[key] = object{meta: meta}
	}
	return nil
}

func (a *Accessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return anystore.Metadata{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	key := a.key(path)
	if anystore.IsDir(path) {
		if obj, ok := a.objects[key]; ok {
			return obj.meta, nil
		}
		if a.dirExists(key) {
			return anystore.NewMetadata(anystore.ModeDir), nil
		}
		return anystore.Metadata{}, notFound()
	}

	obj, ok := a.objects[key]
	if !ok {
		return anystore.Metadata{}, notFound()
	}
	if err := anystore.CheckConditions(obj.meta, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return anystore.Metadata{}, err
	}
	return obj.meta, nil
}

func (a *Accessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	obj, ok := a.objects[a.key(path)]
	if !ok {
		return nil, notFound()
	}
	if err := anystore.CheckConditions(obj.meta, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return nil, err
	}

	start, end := opts.Range.Clamp(int64(len(obj.data)))
	// Stored slices are never mutated, so the reader can share them.
	return anystore.NewBytesReader(obj.data[start:end]), nil
}

func (a *Accessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	partSize := a.cfg.PartSize
	if opts.ChunkSize > 0 {
		partSize = opts.ChunkSize
	}
	u := &uploader{a: a, path: path, opts: opts}
	return anystore.NewMultipartWriter(ctx, u, partSize, opts.Concurrent), nil
}

// commit stores data at path. Callers hold no lock.
func (a *Accessor) commit(path string, opts anystore.WriteOptions, data []byte) (anystore.Metadata, error) {
	sum := md5.Sum(data) //nolint:gosec // see import
	meta := anystore.NewMetadata(anystore.ModeFile)
	meta.SetContentLength(int64(len(data)))
	meta.SetContentMD5(base64.StdEncoding.EncodeToString(sum[:]))
	meta.SetETag(hex.EncodeToString(sum[:]))
	meta.SetLastModified(a.now())
	if opts.ContentType != "" {
		meta.SetContentType(opts.ContentType)
	}
	if opts.ContentDisposition != "" {
		meta.SetContentDisposition(opts.ContentDisposition)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.key(path)
	if opts.IfNotExists {
		if _, ok := a.objects[key]; ok {
			return anystore.Metadata{}, anystore.NewError(anystore.KindAlreadyExists, "object already exists")
		}
	}
	a.objects[key] = object{data: data, meta: meta}
	return meta, nil
}

func (a *Accessor) Delete(ctx context.Context, path string, _ anystore.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.objects, a.key(path))
	return nil
}

func (a *Accessor) List(ctx context.Context, path string, opts anystore.ListOptions) (anystore.Pager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	return anystore.NewPager(func(ctx context.Context, cursor string) ([]anystore.Entry, string, error) {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		after := cursor
		if opts.StartAfter > after {
			after = opts.StartAfter
		}
		return a.page(path, after, limit, opts.Recursive)
	}, opts.Token), nil
}

// page returns up to limit entries below dir that sort after the given
// path, plus the cursor of the next page.
func (a *Accessor) page(dir, after string, limit int, recursive bool) ([]anystore.Entry, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix := a.key(dir)
	seen := make(map[string]bool)
	var paths []string
	for k := range a.objects {
		if !strings.HasPrefix(k, prefix) || k == prefix {
			continue
		}
		p := anystore.StripRoot(a.cfg.Root, k)
		if !recursive {
			rest := p[len(dir):]
			if i := strings.IndexByte(rest, '/'); i >= 0 && i < len(rest)-1 {
				p = dir + rest[:i+1]
			}
		}
		if p <= after || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	slices.Sort(paths)

	next := ""
	if len(paths) > limit {
		paths = paths[:limit]
		next = paths[limit-1]
	}

	entries := make([]anystore.Entry, 0, len(paths))
	for _, p := range paths {
		e := anystore.NewEntry(p)
		if obj, ok := a.objects[a.key(p)]; ok {
			e.Metadata = obj.meta
		}
		entries = append(entries, e)
	}
	return entries, next, nil
}

func (a *Accessor) Copy(ctx context.Context, from, to string, _ anystore.CopyOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[a.key(from)]
	if !ok || obj.meta.IsDir() {
		return notFound()
	}
	obj.meta.SetLastModified(a.now())
	a.objects[a.key(to)] = obj
	return nil
}

func (a *Accessor) Rename(ctx context.Context, from, to string, _ anystore.RenameOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	obj, ok := a.objects[a.key(from)]
	if !ok || obj.meta.IsDir() {
		return notFound()
	}
	delete(a.objects, a.key(from))
	a.objects[a.key(to)] = obj
	return nil
}

func (a *Accessor) Presign(_ context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	return options.SignRequest(a.signer, path, opts.Operation, opts.Expires)
}

func (a *Accessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return anystore.BatchResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res := anystore.BatchResult{Results: make([]anystore.BatchItem, len(opts.Deletes))}
	for i, p := range opts.Deletes {
		delete(a.objects, a.key(p))
		res.Results[i] = anystore.BatchItem{Path: p}
	}
	return res, nil
}

// uploader implements the multipart protocol on top of the accessor's map.
type uploader struct {
	a    *Accessor
	path string
	opts anystore.WriteOptions
}

func (u *uploader) InitiateUpload(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()

	u.a.mu.Lock()
	defer u.a.mu.Unlock()
	u.a.uploads[id] = &upload{path: u.path, opts: u.opts, parts: make(map[int][]byte)}
	return id, nil
}

func (u *uploader) UploadPart(ctx context.Context, uploadID string, number int, data []byte) (anystore.MultipartPart, error) {
	if err := ctx.Err(); err != nil {
		return anystore.MultipartPart{}, err
	}
	u.a.mu.Lock()
	defer u.a.mu.Unlock()

	up, ok := u.a.uploads[uploadID]
	if !ok {
		return anystore.MultipartPart{}, anystore.NewError(anystore.KindInvalidState, "upload does not exist")
	}
	up.parts[number] = bytes.Clone(data)
	sum := md5.Sum(data) //nolint:gosec // see import
	return anystore.MultipartPart{Number: number, ETag: hex.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

func (u *uploader) CompleteUpload(ctx context.Context, uploadID string, parts []anystore.MultipartPart) (anystore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return anystore.Metadata{}, err
	}

	u.a.mu.Lock()
	up, ok := u.a.uploads[uploadID]
	if !ok {
		u.a.mu.Unlock()
		return anystore.Metadata{}, anystore.NewError(anystore.KindInvalidState, "upload does not exist")
	}
	var data []byte
	for _, part := range parts {
		chunk, ok := up.parts[part.Number]
		if !ok {
			u.a.mu.Unlock()
			return anystore.Metadata{}, anystore.NewError(anystore.KindInvalidInput, "upload is missing a part")
		}
		data = append(data, chunk...)
	}
	delete(u.a.uploads, uploadID)
	u.a.mu.Unlock()

	return u.a.commit(up.path, up.opts, data)
}

func (u *uploader) AbortUpload(_ context.Context, uploadID string) error {
	u.a.mu.Lock()
	defer u.a.mu.Unlock()
	delete(u.a.uploads, uploadID)
	return nil
}

func (u *uploader) PutObject(ctx context.Context, data []byte) (anystore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return anystore.Metadata{}, err
	}
	return u.a.commit(u.path, u.opts, bytes.Clone(data))
}

// Uploads returns the number of multipart uploads in progress.
func (a *Accessor) Uploads() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.uploads)
}
