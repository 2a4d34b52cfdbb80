// Package kv turns a key-value store into an anystore.Accessor.
//
// A store only needs to implement Adapter: point reads and writes plus an
// ordered prefix scan. Directories are derived from key prefixes; CreateDir
// stores an empty marker record whose key ends in "/".
package kv

import (
	"context"
	"crypto/md5" //nolint:gosec // content-md5 is an integrity header, not a security boundary
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sagarc03/anystore"
)

const (
	defaultPageSize = 1000
	// subtreeEnd sorts after every valid UTF-8 key with the same prefix.
	subtreeEnd = "\xff"
)

// Record is one stored value. Scan and Head leave Data nil.
type Record struct {
	Key                string
	Data               []byte
	Size               int64
	ContentType        string
	ContentDisposition string
	ETag               string
	ContentMD5         string
	UpdatedAt          time.Time
}

// Metadata converts the record's attributes into anystore.Metadata.
func (r Record) Metadata() anystore.Metadata {
	meta := anystore.NewMetadata(anystore.ModeForPath(r.Key))
	if meta.IsDir() {
		if !r.UpdatedAt.IsZero() {
			meta.SetLastModified(r.UpdatedAt)
		}
		return meta
	}
	meta.SetContentLength(r.Size)
	if r.ContentType != "" {
		meta.SetContentType(r.ContentType)
	}
	if r.ContentDisposition != "" {
		meta.SetContentDisposition(r.ContentDisposition)
	}
	if r.ETag != "" {
		meta.SetETag(r.ETag)
	}
	if r.ContentMD5 != "" {
		meta.SetContentMD5(r.ContentMD5)
	}
	if !r.UpdatedAt.IsZero() {
		meta.SetLastModified(r.UpdatedAt)
	}
	return meta
}

// Adapter is the storage a key-value accessor runs on. A missing key is
// reported as an error matching anystore.ErrNotFound. Errors should be
// *anystore.Error values; the accessor maps anything else.
type Adapter interface {
	// Scheme names the adapter, e.g. "sqlite".
	Scheme() string
	// Name identifies the instance, e.g. the table name.
	Name() string

	Get(ctx context.Context, key string) (Record, error)
	// Head returns the record without its data.
	Head(ctx context.Context, key string) (Record, error)
	// Set stores rec. With ifNotExists an existing key fails with
	// anystore.ErrAlreadyExists and leaves the stored value untouched.
	Set(ctx context.Context, rec Record, ifNotExists bool) error
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// Scan returns up to limit records whose key starts with prefix and
	// sorts after the given key, in byte order, without their data.
	Scan(ctx context.Context, prefix, after string, limit int) ([]Record, error)
}

// Accessor is an anystore.Accessor over an Adapter.
type Accessor struct {
	anystore.UnsupportedAccessor

	adapter Adapter
	root    string
	mapper  *anystore.ErrorMapper
	now     func() time.Time
}

// New creates an accessor that stores every path below root. The map funcs
// classify the adapter's native errors.
func New(adapter Adapter, root string, funcs ...anystore.MapFunc) *Accessor {
	return &Accessor{
		UnsupportedAccessor: anystore.UnsupportedAccessor{Scheme: adapter.Scheme()},
		adapter:             adapter,
		root:                root,
		mapper:              anystore.NewErrorMapper(adapter.Scheme(), funcs...),
		now:                 time.Now,
	}
}

// Adapter returns the underlying adapter.
func (a *Accessor) Adapter() Adapter { return a.adapter }

func (a *Accessor) Info() anystore.AccessorInfo {
	return anystore.AccessorInfo{
		Scheme: a.adapter.Scheme(),
		Root:   a.root,
		Name:   a.adapter.Name(),
		Capability: anystore.Capability{
			Stat:                        true,
			StatWithIfMatch:             true,
			StatWithIfNoneMatch:         true,
			Read:                        true,
			ReadWithRange:               true,
			ReadWithIfMatch:             true,
			ReadWithIfNoneMatch:         true,
			Write:                       true,
			WriteCanEmpty:               true,
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
			Blocking:                    true,
		},
	}
}

func (a *Accessor) key(path string) string {
	return anystore.JoinRoot(a.root, path)
}

func (a *Accessor) path(key string) string {
	return anystore.StripRoot(a.root, key)
}

func (a *Accessor) err(op anystore.Operation, path string, err error) error {
	return a.mapper.Map(op, path, err)
}

func (a *Accessor) CreateDir(ctx context.Context, path string, _ anystore.CreateDirOptions) error {
	if path == anystore.RootPath {
		return nil
	}
	err := a.adapter.Set(ctx, Record{Key: a.key(path), UpdatedAt: a.now().UTC()}, true)
	if err != nil && !anystore.IsKind(err, anystore.KindAlreadyExists) {
		return a.err(anystore.OpCreateDir, path, err)
	}
	return nil
}

func (a *Accessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	if anystore.IsDir(path) {
		return a.statDir(ctx, path)
	}

	rec, err := a.adapter.Head(ctx, a.key(path))
	if err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}
	meta := rec.Metadata()
	if err := anystore.CheckConditions(meta, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return anystore.Metadata{}, err
	}
	return meta, nil
}

// statDir reports a directory when a marker or any key below it exists.
func (a *Accessor) statDir(ctx context.Context, path string) (anystore.Metadata, error) {
	if path == anystore.RootPath {
		return anystore.NewMetadata(anystore.ModeDir), nil
	}
	key := a.key(path)
	recs, err := a.adapter.Scan(ctx, key, "", 1)
	if err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}
	if len(recs) == 0 {
		return anystore.Metadata{}, anystore.NewError(anystore.KindNotFound, "directory does not exist")
	}
	if recs[0].Key == key {
		return recs[0].Metadata(), nil
	}
	return anystore.NewMetadata(anystore.ModeDir), nil
}

func (a *Accessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	rec, err := a.adapter.Get(ctx, a.key(path))
	if err != nil {
		return nil, a.err(anystore.OpRead, path, err)
	}
	if err := anystore.CheckConditions(rec.Metadata(), opts.IfMatch, opts.IfNoneMatch); err != nil {
		return nil, err
	}
	start, end := opts.Range.Clamp(int64(len(rec.Data)))
	return anystore.NewBytesReader(rec.Data[start:end]), nil
}

func (a *Accessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return anystore.NewOneShotWriter(func(ctx context.Context, data []byte) (anystore.Metadata, error) {
		rec := newRecord(a.key(path), data, opts.ContentType, opts.ContentDisposition, a.now())
		if err := a.adapter.Set(ctx, rec, opts.IfNotExists); err != nil {
			return anystore.Metadata{}, a.err(anystore.OpWriterFinalize, path, err)
		}
		return rec.Metadata(), nil
	}), nil
}

func newRecord(key string, data []byte, contentType, contentDisposition string, now time.Time) Record {
	sum := md5.Sum(data) //nolint:gosec // see import
	if data == nil {
		data = []byte{}
	}
	return Record{
		Key:                key,
		Data:               data,
		Size:               int64(len(data)),
		ContentType:        contentType,
		ContentDisposition: contentDisposition,
		ETag:               hex.EncodeToString(sum[:]),
		ContentMD5:         base64.StdEncoding.EncodeToString(sum[:]),
		UpdatedAt:          now.UTC(),
	}
}

func (a *Accessor) Delete(ctx context.Context, path string, _ anystore.DeleteOptions) error {
	if path == anystore.RootPath {
		return nil
	}
	if err := a.adapter.Delete(ctx, a.key(path)); err != nil {
		return a.err(anystore.OpDelete, path, err)
	}
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
	start := ""
	if opts.StartAfter != "" {
		start = a.key(opts.StartAfter)
	}

	return anystore.NewPager(func(ctx context.Context, cursor string) ([]anystore.Entry, string, error) {
		return a.page(ctx, path, max(cursor, start), limit, opts.Recursive)
	}, opts.Token), nil
}

// page scans below dir starting after the key pos. In one-level listings a
// key deeper than one level is collapsed into its child directory, and the
// scan jumps past that directory's subtree.
func (a *Accessor) page(ctx context.Context, dir, pos string, limit int, recursive bool) ([]anystore.Entry, string, error) {
	prefix := a.key(dir)
	entries := make([]anystore.Entry, 0, limit)

	for {
		recs, err := a.adapter.Scan(ctx, prefix, pos, limit)
		if err != nil {
			return nil, "", a.err(anystore.OpPagerNext, dir, err)
		}

		skip := ""
		for _, rec := range recs {
			if skip != "" && strings.HasPrefix(rec.Key, skip) {
				continue
			}
			pos = rec.Key
			if rec.Key == prefix {
				continue
			}

			e := anystore.Entry{Path: a.path(rec.Key), Metadata: rec.Metadata()}
			if !recursive {
				rest := rec.Key[len(prefix):]
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					child := prefix + rest[:i+1]
					if child != rec.Key {
						e = anystore.NewEntry(a.path(child))
					}
					skip = child
					pos = child + subtreeEnd
				}
			}

			entries = append(entries, e)
			if len(entries) == limit {
				return entries, pos, nil
			}
		}

		if len(recs) < limit {
			return entries, "", nil
		}
	}
}

func (a *Accessor) Copy(ctx context.Context, from, to string, _ anystore.CopyOptions) error {
	rec, err := a.adapter.Get(ctx, a.key(from))
	if err != nil {
		return a.err(anystore.OpCopy, from, err)
	}
	rec.Key = a.key(to)
	rec.UpdatedAt = a.now().UTC()
	if err := a.adapter.Set(ctx, rec, false); err != nil {
		return a.err(anystore.OpCopy, to, err)
	}
	return nil
}

// Rename copies then deletes; it is not atomic.
func (a *Accessor) Rename(ctx context.Context, from, to string, _ anystore.RenameOptions) error {
	if err := a.Copy(ctx, from, to, anystore.CopyOptions{}); err != nil {
		return err
	}
	if err := a.adapter.Delete(ctx, a.key(from)); err != nil {
		return a.err(anystore.OpRename, from, err)
	}
	return nil
}
