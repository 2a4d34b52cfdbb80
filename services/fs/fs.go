// Package fs provides a local filesystem accessor.
// It supports atomic writes using temp files, SHA256-based etags, and
// content type detection based on file extensions and content sniffing.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
)

// Scheme is the scheme name of the filesystem backend.
const Scheme = "fs"

const (
	defaultPageSize = 1000
	tmpPrefix       = ".t"
	sniffLen        = 3072
)

// Config configures a filesystem accessor.
type Config struct {
	// Root is the directory every path is resolved in.
	Root string `mapstructure:"root" validate:"required"`
	// CreateRoot creates Root when it does not exist.
	CreateRoot bool `mapstructure:"create_root"`

	options.Presign `mapstructure:",squash"`
}

// Accessor provides file system storage operations.
type Accessor struct {
	anystore.UnsupportedAccessor

	root   *os.Root
	dir    string
	signer *anystore.Signer
	mapper *anystore.ErrorMapper
}

// New opens cfg.Root and returns an accessor sandboxed to it.
func New(cfg Config) (*Accessor, error) {
	if cfg.CreateRoot {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create root: %w", err)
		}
	}
	root, err := os.OpenRoot(cfg.Root)
	if err != nil {
		return nil, anystore.NewErrorMapper(Scheme).Map(anystore.OpInfo, cfg.Root, err)
	}
	signer, err := cfg.Signer()
	if err != nil {
		_ = root.Close()
		return nil, err
	}
	a := NewFromRoot(root)
	a.signer = signer
	return a, nil
}

// NewFromRoot creates an accessor on an already opened root.
// The root provides sandboxed file operations preventing path traversal.
func NewFromRoot(root *os.Root) *Accessor {
	return &Accessor{
		UnsupportedAccessor: anystore.UnsupportedAccessor{Scheme: Scheme},
		root:                root,
		dir:                 root.Name(),
		mapper:              anystore.NewErrorMapper(Scheme),
	}
}

// FromOptions creates a filesystem accessor from an option map.
func FromOptions(raw map[string]string) (*Accessor, error) {
	var cfg Config
	if err := options.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// Close releases the root directory handle.
func (a *Accessor) Close() error {
	return a.root.Close()
}

func (a *Accessor) Info() anystore.AccessorInfo {
	c := anystore.Capability{
		Stat:                 true,
		StatWithIfMatch:      true,
		StatWithIfNoneMatch:  true,
		Read:                 true,
		ReadWithRange:        true,
		ReadWithIfMatch:      true,
		ReadWithIfNoneMatch:  true,
		Write:                true,
		WriteCanEmpty:        true,
		WriteWithIfNotExists: true,
		CreateDir:            true,
		Delete:               true,
		List:                 true,
		ListWithLimit:        true,
		ListWithStartAfter:   true,
		Copy:                 true,
		Rename:               true,
		Blocking:             true,
	}
	return anystore.AccessorInfo{
		Scheme:     Scheme,
		Root:       a.dir,
		Name:       filepath.Base(a.dir),
		Capability: options.WithPresign(c, a.signer),
	}
}

// name converts a canonical path into a name relative to the root.
func name(path string) string {
	if path == anystore.RootPath {
		return "."
	}
	return strings.TrimSuffix(path, "/")
}

func isTempName(n string) bool {
	return strings.HasPrefix(n, tmpPrefix) && uuid.Validate(n[len(tmpPrefix):]) == nil
}

func tmpFileName() string {
	return tmpPrefix + uuid.New().String()
}

func (a *Accessor) err(op anystore.Operation, path string, err error) error {
	return a.mapper.Map(op, path, err)
}

func notFound(message string) error {
	return anystore.NewError(anystore.KindNotFound, message)
}

func (a *Accessor) CreateDir(ctx context.Context, path string, _ anystore.CreateDirOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.root.MkdirAll(name(path), 0o755); err != nil {
		return a.err(anystore.OpCreateDir, path, err)
	}
	return nil
}

func (a *Accessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return anystore.Metadata{}, err
	}

	info, err := a.root.Stat(name(path))
	if err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}
	if info.IsDir() != anystore.IsDir(path) {
		if info.IsDir() {
			return anystore.Metadata{}, notFound("path is a directory")
		}
		return anystore.Metadata{}, notFound("path is a file")
	}
	if info.IsDir() {
		meta := anystore.NewMetadata(anystore.ModeDir)
		meta.SetLastModified(info.ModTime())
		return meta, nil
	}

	meta, err := a.describe(ctx, path, info)
	if err != nil {
		return anystore.Metadata{}, err
	}
	if err := anystore.CheckConditions(meta, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return anystore.Metadata{}, err
	}
	return meta, nil
}

// describe hashes the file at path for its etag and sniffs its content
// type when the extension does not give one away.
func (a *Accessor) describe(ctx context.Context, path string, info fs.FileInfo) (anystore.Metadata, error) {
	f, err := a.root.Open(name(path))
	if err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close file", "path", path, "err", closeErr)
		}
	}()

	h := sha256.New()
	head := &prefixBuffer{limit: sniffLen}
	if _, err := io.Copy(io.MultiWriter(h, head), &ctxReader{ctx: ctx, r: f}); err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}

	meta := fileMetadata(path, info)
	meta.SetETag(hex.EncodeToString(h.Sum(nil)))
	if _, ok := meta.ContentType(); !ok {
		meta.SetContentType(mimetype.Detect(head.buf).String())
	}
	return meta, nil
}

func fileMetadata(path string, info fs.FileInfo) anystore.Metadata {
	meta := anystore.NewMetadata(anystore.ModeFile)
	meta.SetContentLength(info.Size())
	meta.SetLastModified(info.ModTime())
	if ct := contentTypeByExtension(path); ct != "" {
		meta.SetContentType(ct)
	}
	return meta
}

func contentTypeByExtension(path string) string {
	return mime.TypeByExtension(filepath.Ext(path))
}

func (a *Accessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.IfMatch != "" || opts.IfNoneMatch != "" {
		if _, err := a.Stat(ctx, path, anystore.StatOptions{IfMatch: opts.IfMatch, IfNoneMatch: opts.IfNoneMatch}); err != nil {
			return nil, err
		}
	}

	f, err := a.root.Open(name(path))
	if err != nil {
		return nil, a.err(anystore.OpRead, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, a.err(anystore.OpRead, path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, notFound("path is a directory")
	}

	start, end := opts.Range.Clamp(info.Size())
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, a.err(anystore.OpRead, path, err)
		}
	}

	return &fileReader{
		ctx: ctx,
		r:   io.LimitReader(f, end-start),
		f:   f,
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type fileReader struct {
	ctx context.Context
	r   io.Reader
	f   *os.File
}

func (r *fileReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (r *fileReader) Close() error {
	return r.f.Close()
}

// prefixBuffer keeps the first limit bytes written to it.
type prefixBuffer struct {
	buf   []byte
	limit int
}

func (b *prefixBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (a *Accessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmp := tmpFileName()
	t, err := a.root.Create(tmp)
	if err != nil {
		return nil, a.err(anystore.OpWrite, path, fmt.Errorf("could not open temp file: %w", err))
	}
	return &fileWriter{a: a, path: path, opts: opts, tmp: tmp, f: t, h: sha256.New()}, nil
}

func (a *Accessor) Delete(ctx context.Context, path string, _ anystore.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path == anystore.RootPath {
		return anystore.NewError(anystore.KindInvalidInput, "cannot delete the root directory")
	}

	if err := a.root.Remove(name(path)); err != nil {
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

	return anystore.NewPager(func(ctx context.Context, cursor string) ([]anystore.Entry, string, error) {
		after := max(cursor, opts.StartAfter)
		return a.readDir(ctx, path, after, limit)
	}, opts.Token), nil
}

// readDir lists one level of dir, ordered by path, starting after the
// given path. The directory is re-read for every page so a token stays
// valid across processes.
func (a *Accessor) readDir(ctx context.Context, dir, after string, limit int) ([]anystore.Entry, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	dirEntries, err := fs.ReadDir(a.root.FS(), name(dir))
	if err != nil {
		return nil, "", a.err(anystore.OpPagerNext, dir, err)
	}

	entries := make([]anystore.Entry, 0, min(len(dirEntries), limit+1))
	for _, de := range dirEntries {
		if dir == anystore.RootPath && isTempName(de.Name()) {
			continue
		}
		p := dir + de.Name()
		if de.IsDir() {
			p += "/"
		}
		if p <= after {
			continue
		}

		e := anystore.NewEntry(p)
		if !de.IsDir() {
			info, err := de.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, "", a.err(anystore.OpPagerNext, p, fmt.Errorf("walk dir: %w", err))
			}
			e.Metadata = fileMetadata(p, info)
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(x, y anystore.Entry) int { return strings.Compare(x.Path, y.Path) })

	if len(entries) > limit {
		return entries[:limit], entries[limit-1].Path, nil
	}
	return entries, "", nil
}

func (a *Accessor) mkdirParent(path string) error {
	destDir := filepath.Dir(name(path))
	if destDir == "." {
		return nil
	}
	if err := a.root.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("could not create intermediate directories: %w", err)
	}
	return nil
}

func (a *Accessor) Copy(ctx context.Context, from, to string, _ anystore.CopyOptions) error {
	src, err := a.Read(ctx, from, anystore.ReadOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	w, err := a.Write(ctx, to, anystore.WriteOptions{})
	if err != nil {
		return err
	}
	fw := w.(*fileWriter)
	if _, err := io.Copy(ctxWriter{ctx: ctx, w: fw}, src); err != nil {
		_ = fw.Abort(ctx)
		return err
	}
	_, err = fw.Finalize(ctx)
	return err
}

func (a *Accessor) Rename(ctx context.Context, from, to string, _ anystore.RenameOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := a.root.Stat(name(from))
	if err != nil {
		return a.err(anystore.OpRename, from, err)
	}
	if info.IsDir() {
		return notFound("path is a directory")
	}
	if err := a.mkdirParent(to); err != nil {
		return a.err(anystore.OpRename, to, err)
	}
	if err := a.root.Rename(name(from), name(to)); err != nil {
		return a.err(anystore.OpRename, from, err)
	}
	return nil
}

func (a *Accessor) Presign(_ context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	return options.SignRequest(a.signer, path, opts.Operation, opts.Expires)
}
