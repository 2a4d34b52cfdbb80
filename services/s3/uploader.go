package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content-md5 is an integrity header, not a security boundary
	"encoding/base64"

	"github.com/minio/minio-go/v7"

	"github.com/sagarc03/anystore"
)

// uploader maps the multipart protocol onto S3 multipart uploads.
type uploader struct {
	a    *Accessor
	path string
	key  string
	opts anystore.WriteOptions
}

func (u *uploader) putOptions() minio.PutObjectOptions {
	o := minio.PutObjectOptions{
		ContentType:        u.opts.ContentType,
		ContentDisposition: u.opts.ContentDisposition,
	}
	if u.opts.IfNotExists {
		o.SetMatchETagExcept("*")
	}
	return o
}

// commitErr reports a failed conditional write as AlreadyExists.
func (u *uploader) commitErr(err error) error {
	if u.opts.IfNotExists && isCode(err, "PreconditionFailed") {
		return anystore.NewError(anystore.KindAlreadyExists, "object already exists").WithCause(err)
	}
	return u.a.err(anystore.OpWriterFinalize, u.path, err)
}

func (u *uploader) metadata(info minio.UploadInfo, size int64, md5sum string) anystore.Metadata {
	meta := anystore.NewMetadata(anystore.ModeFile)
	meta.SetContentLength(size)
	if info.ETag != "" {
		meta.SetETag(info.ETag)
	}
	if md5sum != "" {
		meta.SetContentMD5(md5sum)
	}
	if !info.LastModified.IsZero() {
		meta.SetLastModified(info.LastModified)
	}
	if u.opts.ContentType != "" {
		meta.SetContentType(u.opts.ContentType)
	}
	if u.opts.ContentDisposition != "" {
		meta.SetContentDisposition(u.opts.ContentDisposition)
	}
	return meta
}

func (u *uploader) InitiateUpload(ctx context.Context) (string, error) {
	id, err := u.a.core.NewMultipartUpload(ctx, u.a.bucket, u.key, u.putOptions())
	if err != nil {
		return "", u.a.err(anystore.OpWriterWrite, u.path, err)
	}
	return id, nil
}

func (u *uploader) UploadPart(ctx context.Context, uploadID string, number int, data []byte) (anystore.MultipartPart, error) {
	sum := md5.Sum(data) //nolint:gosec // see import
	part, err := u.a.core.PutObjectPart(ctx, u.a.bucket, u.key, uploadID, number,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectPartOptions{Md5Base64: base64.StdEncoding.EncodeToString(sum[:])},
	)
	if err != nil {
		return anystore.MultipartPart{}, u.a.err(anystore.OpWriterWrite, u.path, err)
	}
	return anystore.MultipartPart{Number: number, ETag: part.ETag, Size: int64(len(data))}, nil
}

func (u *uploader) CompleteUpload(ctx context.Context, uploadID string, parts []anystore.MultipartPart) (anystore.Metadata, error) {
	complete := make([]minio.CompletePart, 0, len(parts))
	var size int64
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.Number, ETag: p.ETag})
		size += p.Size
	}

	info, err := u.a.core.CompleteMultipartUpload(ctx, u.a.bucket, u.key, uploadID, complete, u.putOptions())
	if err != nil {
		return anystore.Metadata{}, u.commitErr(err)
	}
	return u.metadata(info, size, ""), nil
}

func (u *uploader) AbortUpload(ctx context.Context, uploadID string) error {
	if err := u.a.core.AbortMultipartUpload(ctx, u.a.bucket, u.key, uploadID); err != nil {
		return u.a.err(anystore.OpWriterAbort, u.path, err)
	}
	return nil
}

func (u *uploader) PutObject(ctx context.Context, data []byte) (anystore.Metadata, error) {
	sum := md5.Sum(data) //nolint:gosec // see import
	md5sum := base64.StdEncoding.EncodeToString(sum[:])

	opts := u.putOptions()
	opts.SendContentMd5 = true
	info, err := u.a.client.PutObject(ctx, u.a.bucket, u.key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return anystore.Metadata{}, u.commitErr(err)
	}
	return u.metadata(info, int64(len(data)), md5sum), nil
}
