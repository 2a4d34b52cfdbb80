package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sagarc03/anystore"
)

// fileWriter streams into a temp file at the top of the root. Finalize
// syncs it and renames it into place, so readers never see a partial file.
type fileWriter struct {
	a    *Accessor
	path string
	opts anystore.WriteOptions
	tmp  string
	f    *os.File
	h    hash.Hash
	n    int64
	done bool
}

func (w *fileWriter) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	w.h.Write(p[:n])
	w.n += int64(n)
	if err != nil {
		return n, w.a.err(anystore.OpWriterWrite, w.path, fmt.Errorf("could not copy file contents: %w", err))
	}
	return n, nil
}

func (w *fileWriter) Finalize(ctx context.Context) (anystore.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return anystore.Metadata{}, err
	}
	if w.done {
		return anystore.Metadata{}, anystore.NewError(anystore.KindInvalidState, "writer already finished")
	}

	if err := w.commit(); err != nil {
		w.cleanup()
		return anystore.Metadata{}, err
	}
	w.done = true

	meta := anystore.NewMetadata(anystore.ModeFile)
	meta.SetContentLength(w.n)
	meta.SetETag(hex.EncodeToString(w.h.Sum(nil)))
	if ct := contentTypeByExtension(w.path); ct != "" {
		meta.SetContentType(ct)
	}
	if info, err := w.a.root.Stat(name(w.path)); err == nil {
		meta.SetLastModified(info.ModTime())
	}
	return meta, nil
}

func (w *fileWriter) commit() error {
	if err := w.f.Sync(); err != nil {
		return w.a.err(anystore.OpWriterFinalize, w.path, fmt.Errorf("could not sync written file: %w", err))
	}
	if err := w.f.Close(); err != nil {
		return w.a.err(anystore.OpWriterFinalize, w.path, fmt.Errorf("could not close temp file: %w", err))
	}
	if err := w.a.mkdirParent(w.path); err != nil {
		return w.a.err(anystore.OpWriterFinalize, w.path, err)
	}

	if w.opts.IfNotExists {
		// Link fails when the target exists, which makes the check atomic.
		if err := w.a.root.Link(w.tmp, name(w.path)); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return anystore.NewError(anystore.KindAlreadyExists, "object already exists").WithCause(err)
			}
			return w.a.err(anystore.OpWriterFinalize, w.path, fmt.Errorf("failed to link file: %w", err))
		}
		if err := w.a.root.Remove(w.tmp); err != nil {
			slog.Warn("failed to remove tmp file", "err", err)
		}
		return nil
	}

	if err := w.a.root.Rename(w.tmp, name(w.path)); err != nil {
		return w.a.err(anystore.OpWriterFinalize, w.path, fmt.Errorf("failed to rename file: %w", err))
	}
	return nil
}

func (w *fileWriter) Abort(context.Context) error {
	if !w.done {
		w.cleanup()
	}
	return nil
}

func (w *fileWriter) cleanup() {
	w.done = true
	if err := w.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Warn("failed to close tmp file", "err", err)
	}
	if err := w.a.root.Remove(w.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove tmp file", "err", err)
	}
}

type ctxWriter struct {
	ctx context.Context
	w   *fileWriter
}

func (c ctxWriter) Write(p []byte) (int, error) {
	return c.w.Write(c.ctx, p)
}
