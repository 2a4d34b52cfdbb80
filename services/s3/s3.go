// Package s3 stores objects in an S3-compatible bucket through minio-go.
//
// Directories are zero-byte objects whose key ends in "/". A directory
// also exists implicitly while any key below it exists.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"unicode/utf8"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/internal/options"
)

// Scheme is the scheme name of the S3 backend.
const Scheme = "s3"

const (
	defaultPageSize = 1000
	maxBatchDeletes = 1000
	// MinPartSize is the smallest part S3 accepts for any part but the last.
	MinPartSize = 5 << 20
)

// subtreeEnd sorts after every key below a common prefix. S3 requires
// StartAfter to be valid UTF-8, so the largest rune is used.
var subtreeEnd = string(utf8.MaxRune)

// Config configures an S3 accessor.
type Config struct {
	// Endpoint is host[:port] without a scheme, e.g. "s3.amazonaws.com".
	Endpoint     string `mapstructure:"endpoint" validate:"required"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key" validate:"required_with=SecretKey"`
	SecretKey    string `mapstructure:"secret_key" validate:"required_with=AccessKey"`
	SessionToken string `mapstructure:"session_token"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Root         string `mapstructure:"root"`
	// PartSize is the multipart part size; zero uses anystore.DefaultPartSize.
	PartSize int64 `mapstructure:"part_size" validate:"omitempty,min=5242880"`
	// CreateBucket creates the bucket on New when it does not exist.
	CreateBucket bool `mapstructure:"create_bucket"`

	// Client replaces the client built from the fields above.
	Client *minio.Client `mapstructure:"-"`
}

// Accessor is an anystore.Accessor over one bucket.
type Accessor struct {
	client   *minio.Client
	core     *minio.Core
	bucket   string
	root     string
	partSize int64
	mapper   *anystore.ErrorMapper
}

// New creates an accessor. It only talks to the server when CreateBucket
// is set.
func New(ctx context.Context, cfg Config) (*Accessor, error) {
	client := cfg.Client
	if client == nil {
		var creds *credentials.Credentials
		if cfg.AccessKey != "" {
			creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
		} else {
			creds = credentials.NewChainCredentials([]credentials.Provider{
				&credentials.EnvAWS{},
				&credentials.EnvMinio{},
				&credentials.IAM{},
			})
		}

		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  creds,
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, anystore.NewError(anystore.KindInvalidInput, "create s3 client").WithCause(err)
		}
	}

	a := &Accessor{
		client:   client,
		core:     &minio.Core{Client: client},
		bucket:   cfg.Bucket,
		root:     cfg.Root,
		partSize: cfg.PartSize,
		mapper:   anystore.NewErrorMapper(Scheme, MapError),
	}
	if a.partSize == 0 {
		a.partSize = anystore.DefaultPartSize
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, a.err(anystore.OpUnknown, "", fmt.Errorf("check bucket: %w", err))
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, a.err(anystore.OpUnknown, "", fmt.Errorf("create bucket: %w", err))
			}
		}
	}
	return a, nil
}

// FromOptions decodes raw into a Config and calls New.
func FromOptions(ctx context.Context, raw map[string]string) (*Accessor, error) {
	var cfg Config
	if err := options.Decode(raw, &cfg); err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// Client returns the underlying minio client.
func (a *Accessor) Client() *minio.Client { return a.client }

func (a *Accessor) Info() anystore.AccessorInfo {
	return anystore.AccessorInfo{
		Scheme: Scheme,
		Root:   a.root,
		Name:   a.bucket,
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
			Presign:                     true,
			PresignRead:                 true,
			PresignStat:                 true,
			PresignWrite:                true,
			Batch:                       true,
			BatchMaxOperations:          maxBatchDeletes,
			Blocking:                    true,
		},
	}
}

func (a *Accessor) key(path string) string {
	return anystore.JoinRoot(a.root, path)
}

func (a *Accessor) err(op anystore.Operation, path string, err error) error {
	return a.mapper.Map(op, path, err)
}

// MapError classifies minio error responses by S3 error code, falling back
// to the HTTP status.
func MapError(err error) (anystore.ErrorKind, bool, bool) {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return 0, false, false
	}

	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return anystore.KindNotFound, false, true
	case "NoSuchUpload":
		return anystore.KindInvalidState, false, true
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return anystore.KindPermissionDenied, false, true
	case "PreconditionFailed", "NotModified":
		return anystore.KindConditionNotMatch, false, true
	case "SlowDown", "TooManyRequests", "RequestLimitExceeded", "Throttling":
		return anystore.KindRateLimited, true, true
	case "InternalError", "ServiceUnavailable", "RequestTimeout", "OperationAborted":
		return anystore.KindUnexpected, true, true
	case "InvalidArgument", "InvalidRange", "EntityTooSmall", "EntityTooLarge", "InvalidBucketName",
		"KeyTooLongError", "XMinioInvalidObjectName", "InvalidPart", "InvalidPartOrder":
		return anystore.KindInvalidInput, false, true
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return anystore.KindAlreadyExists, false, true
	case "NotImplemented":
		return anystore.KindUnsupported, false, true
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return anystore.KindNotFound, false, true
	case resp.StatusCode == http.StatusForbidden:
		return anystore.KindPermissionDenied, false, true
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusPreconditionFailed:
		return anystore.KindConditionNotMatch, false, true
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return anystore.KindRateLimited, true, true
	case resp.StatusCode >= 500:
		return anystore.KindUnexpected, true, true
	}
	return anystore.KindUnexpected, false, true
}

func isCode(err error, code string) bool {
	return minio.ToErrorResponse(err).Code == code
}

func objectMetadata(info minio.ObjectInfo) anystore.Metadata {
	meta := anystore.NewMetadata(anystore.ModeForPath(info.Key))
	if !info.LastModified.IsZero() {
		meta.SetLastModified(info.LastModified)
	}
	if meta.IsDir() {
		return meta
	}
	meta.SetContentLength(info.Size)
	if info.ETag != "" {
		meta.SetETag(info.ETag)
	}
	if info.ContentType != "" {
		meta.SetContentType(info.ContentType)
	}
	if cd := info.Metadata.Get("Content-Disposition"); cd != "" {
		meta.SetContentDisposition(cd)
	}
	if md5 := info.Metadata.Get("Content-Md5"); md5 != "" {
		meta.SetContentMD5(md5)
	}
	return meta
}

func (a *Accessor) CreateDir(ctx context.Context, path string, _ anystore.CreateDirOptions) error {
	if path == anystore.RootPath && a.root == "" {
		return nil
	}
	_, err := a.client.PutObject(ctx, a.bucket, a.key(path), bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return a.err(anystore.OpCreateDir, path, err)
	}
	return nil
}

func (a *Accessor) Stat(ctx context.Context, path string, opts anystore.StatOptions) (anystore.Metadata, error) {
	if anystore.IsDir(path) {
		return a.statDir(ctx, path)
	}

	getOpts := minio.StatObjectOptions{}
	if err := conditions(&getOpts, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return anystore.Metadata{}, err
	}
	info, err := a.client.StatObject(ctx, a.bucket, a.key(path), getOpts)
	if err != nil {
		return anystore.Metadata{}, a.err(anystore.OpStat, path, err)
	}
	return objectMetadata(info), nil
}

func (a *Accessor) statDir(ctx context.Context, path string) (anystore.Metadata, error) {
	if path == anystore.RootPath {
		return anystore.NewMetadata(anystore.ModeDir), nil
	}
	key := a.key(path)

	info, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return objectMetadata(info), nil
	}
	if err = a.err(anystore.OpStat, path, err); !anystore.IsKind(err, anystore.KindNotFound) {
		return anystore.Metadata{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: key, MaxKeys: 1}) {
		if obj.Err != nil {
			return anystore.Metadata{}, a.err(anystore.OpStat, path, obj.Err)
		}
		return anystore.NewMetadata(anystore.ModeDir), nil
	}
	return anystore.Metadata{}, anystore.NewError(anystore.KindNotFound, "directory does not exist")
}

// conditions copies If-Match and If-None-Match onto o.
func conditions(o *minio.GetObjectOptions, ifMatch, ifNoneMatch string) error {
	if ifMatch != "" {
		if err := o.SetMatchETag(ifMatch); err != nil {
			return anystore.NewError(anystore.KindInvalidInput, "invalid if-match").WithCause(err)
		}
	}
	if ifNoneMatch != "" {
		if err := o.SetMatchETagExcept(ifNoneMatch); err != nil {
			return anystore.NewError(anystore.KindInvalidInput, "invalid if-none-match").WithCause(err)
		}
	}
	return nil
}

func (a *Accessor) Read(ctx context.Context, path string, opts anystore.ReadOptions) (anystore.Reader, error) {
	getOpts := minio.GetObjectOptions{}
	if err := conditions(&getOpts, opts.IfMatch, opts.IfNoneMatch); err != nil {
		return nil, err
	}

	if size, ok := opts.Range.Size(); ok && size == 0 {
		// S3 cannot express an empty range; confirm the object exists.
		if _, err := a.client.StatObject(ctx, a.bucket, a.key(path), getOpts); err != nil {
			return nil, a.err(anystore.OpRead, path, err)
		}
		return anystore.NewBytesReader(nil), nil
	}

	if !opts.Range.IsFull() {
		end := int64(0)
		if size, ok := opts.Range.Size(); ok {
			end = opts.Range.Offset() + size - 1
		}
		if err := getOpts.SetRange(opts.Range.Offset(), end); err != nil {
			return nil, anystore.NewError(anystore.KindInvalidInput, "invalid range").WithCause(err)
		}
	}

	body, _, _, err := a.core.GetObject(ctx, a.bucket, a.key(path), getOpts)
	if err != nil {
		if isCode(err, "InvalidRange") {
			return anystore.NewBytesReader(nil), nil
		}
		return nil, a.err(anystore.OpRead, path, err)
	}
	return &objectReader{ctx: ctx, body: body, a: a, path: path}, nil
}

func (a *Accessor) Write(ctx context.Context, path string, opts anystore.WriteOptions) (anystore.Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	partSize := a.partSize
	if opts.ChunkSize > 0 {
		partSize = max(opts.ChunkSize, MinPartSize)
	}
	u := &uploader{a: a, path: path, key: a.key(path), opts: opts}
	return anystore.NewMultipartWriter(ctx, u, partSize, opts.Concurrent), nil
}

func (a *Accessor) Delete(ctx context.Context, path string, _ anystore.DeleteOptions) error {
	if path == anystore.RootPath && a.root == "" {
		return nil
	}
	if err := a.client.RemoveObject(ctx, a.bucket, a.key(path), minio.RemoveObjectOptions{}); err != nil {
		if isCode(err, "NoSuchKey") {
			return nil
		}
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

// page lists one page after the key pos. The cursor is the last key seen,
// or the end of the subtree when the page ends on a common prefix, since
// S3 would otherwise return that prefix again.
func (a *Accessor) page(ctx context.Context, dir, pos string, limit int, recursive bool) ([]anystore.Entry, string, error) {
	prefix := a.key(dir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: pos,
		Recursive:  recursive,
		MaxKeys:    limit,
	})

	entries := make([]anystore.Entry, 0, limit)
	for obj := range objects {
		if obj.Err != nil {
			return nil, "", a.err(anystore.OpPagerNext, dir, obj.Err)
		}
		if obj.Key == prefix || obj.Key <= pos {
			continue
		}

		entries = append(entries, anystore.Entry{
			Path:     anystore.StripRoot(a.root, obj.Key),
			Metadata: objectMetadata(obj),
		})

		if len(entries) == limit {
			next := obj.Key
			if !recursive && anystore.IsDir(obj.Key) {
				next = obj.Key + subtreeEnd
			}
			return entries, next, nil
		}
	}
	return entries, "", nil
}

func (a *Accessor) Copy(ctx context.Context, from, to string, _ anystore.CopyOptions) error {
	_, err := a.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: a.bucket, Object: a.key(to)},
		minio.CopySrcOptions{Bucket: a.bucket, Object: a.key(from)},
	)
	if err != nil {
		return a.err(anystore.OpCopy, from, err)
	}
	return nil
}

// Rename copies then deletes; it is not atomic.
func (a *Accessor) Rename(ctx context.Context, from, to string, _ anystore.RenameOptions) error {
	if err := a.Copy(ctx, from, to, anystore.CopyOptions{}); err != nil {
		return err
	}
	if err := a.client.RemoveObject(ctx, a.bucket, a.key(from), minio.RemoveObjectOptions{}); err != nil {
		return a.err(anystore.OpRename, from, err)
	}
	return nil
}

func (a *Accessor) Presign(ctx context.Context, path string, opts anystore.PresignOptions) (anystore.PresignedRequest, error) {
	key := a.key(path)

	var (
		u      *url.URL
		err    error
		method string
	)
	switch opts.Operation {
	case anystore.OpRead:
		method = http.MethodGet
		u, err = a.client.PresignedGetObject(ctx, a.bucket, key, opts.Expires, url.Values{})
	case anystore.OpStat:
		method = http.MethodHead
		u, err = a.client.PresignedHeadObject(ctx, a.bucket, key, opts.Expires, url.Values{})
	case anystore.OpWrite:
		method = http.MethodPut
		u, err = a.client.PresignedPutObject(ctx, a.bucket, key, opts.Expires)
	default:
		return anystore.PresignedRequest{}, anystore.NewError(anystore.KindUnsupported,
			fmt.Sprintf("cannot presign %s", opts.Operation))
	}
	if err != nil {
		return anystore.PresignedRequest{}, a.err(anystore.OpPresign, path, err)
	}

	req := anystore.PresignedRequest{Method: method, URL: u, Header: http.Header{}}
	if opts.Operation == anystore.OpWrite && opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	return req, nil
}

func (a *Accessor) Batch(ctx context.Context, opts anystore.BatchOptions) (anystore.BatchResult, error) {
	res := anystore.BatchResult{Results: make([]anystore.BatchItem, len(opts.Deletes))}
	index := make(map[string][]int, len(opts.Deletes))
	for i, p := range opts.Deletes {
		res.Results[i] = anystore.BatchItem{Path: p}
		key := a.key(p)
		index[key] = append(index[key], i)
	}

	objects := make(chan minio.ObjectInfo, len(opts.Deletes))
	for _, p := range opts.Deletes {
		objects <- minio.ObjectInfo{Key: a.key(p)}
	}
	close(objects)

	for rerr := range a.client.RemoveObjects(ctx, a.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err == nil || isCode(rerr.Err, "NoSuchKey") {
			continue
		}
		idx, ok := index[rerr.ObjectName]
		if !ok {
			// The whole request failed.
			return anystore.BatchResult{}, a.err(anystore.OpBatch, "", rerr.Err)
		}
		for _, i := range idx {
			res.Results[i].Err = a.err(anystore.OpDelete, res.Results[i].Path, rerr.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return anystore.BatchResult{}, err
	}
	return res, nil
}

// objectReader maps mid-stream failures.
type objectReader struct {
	ctx  context.Context
	body io.ReadCloser
	a    *Accessor
	path string
}

func (r *objectReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, r.a.err(anystore.OpReaderRead, r.path, err)
	}
	return n, err
}

func (r *objectReader) Close() error {
	return r.body.Close()
}
