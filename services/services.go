// Package services builds accessors by scheme name from an opaque option
// map, so applications can pick a backend from configuration.
package services

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services/fs"
	httpservice "github.com/sagarc03/anystore/services/http"
	"github.com/sagarc03/anystore/services/memory"
	"github.com/sagarc03/anystore/services/postgres"
	"github.com/sagarc03/anystore/services/s3"
	"github.com/sagarc03/anystore/services/sqlite"
)

// Schemes lists every scheme New accepts.
func Schemes() []string {
	s := []string{
		fs.Scheme,
		httpservice.Scheme,
		memory.Scheme,
		postgres.Scheme,
		s3.Scheme,
		sqlite.Scheme,
	}
	slices.Sort(s)
	return s
}

// New creates the accessor for scheme. Option keys are documented on each
// backend's Config. Unknown keys are rejected.
func New(ctx context.Context, scheme string, raw map[string]string) (anystore.Accessor, error) {
	switch scheme {
	case fs.Scheme:
		return accessor(fs.FromOptions(raw))
	case httpservice.Scheme:
		return accessor(httpservice.FromOptions(raw))
	case memory.Scheme:
		return accessor(memory.FromOptions(raw))
	case postgres.Scheme:
		return accessor(postgres.FromOptions(ctx, raw))
	case s3.Scheme:
		return accessor(s3.FromOptions(ctx, raw))
	case sqlite.Scheme:
		return accessor(sqlite.FromOptions(ctx, raw))
	default:
		return nil, anystore.NewError(anystore.KindUnsupported, fmt.Sprintf("unsupported scheme: %s", scheme))
	}
}

// accessor avoids returning a typed nil inside the interface.
func accessor[A anystore.Accessor](acc A, err error) (anystore.Accessor, error) {
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Close releases resources held by acc, if it holds any.
func Close(acc anystore.Accessor) error {
	if c, ok := acc.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
