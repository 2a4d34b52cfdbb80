package anystore

import (
	"net/http"
	"net/url"
	"time"
)

type CreateDirOptions struct{}

type StatOptions struct {
	IfMatch     string
	IfNoneMatch string
}

type ReadOptions struct {
	Range       BytesRange
	IfMatch     string
	IfNoneMatch string
}

type WriteOptions struct {
	ContentType        string
	ContentDisposition string
	// SizeHint is the expected total size in bytes, zero when unknown.
	SizeHint int64
	// IfNotExists makes the write fail with AlreadyExists when the path is
	// already present.
	IfNotExists bool
	// ChunkSize overrides the backend's multipart part size.
	ChunkSize int64
	// Concurrent is the number of parts a multipart writer may upload at
	// once. Zero or one uploads parts sequentially.
	Concurrent int
}

type DeleteOptions struct{}

type ListOptions struct {
	// Recursive lists every entry below the path instead of one level.
	Recursive bool
	// Limit is the page size hint.
	Limit int
	// StartAfter skips entries up to and including this path.
	StartAfter string
	// Token resumes a listing from a continuation token.
	Token Token
}

type CopyOptions struct{}

type RenameOptions struct{}

// PresignOptions selects the operation to presign. Operation is one of
// OpRead, OpStat or OpWrite.
type PresignOptions struct {
	Operation   Operation
	Expires     time.Duration
	ContentType string
}

// PresignedRequest is a request anyone can issue without credentials until
// it expires.
type PresignedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// BatchOptions groups deletes into one backend call.
type BatchOptions struct {
	Deletes []string
}

// BatchResult reports the outcome of each path in a batch, in input order.
type BatchResult struct {
	Results []BatchItem
}

type BatchItem struct {
	Path string
	Err  error
}

// Failed returns the items that did not succeed.
func (r BatchResult) Failed() []BatchItem {
	var failed []BatchItem
	for _, item := range r.Results {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}
