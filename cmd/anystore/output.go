package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/sagarc03/anystore"
)

// Formatter formats command results for output.
type Formatter interface {
	FormatStat(w io.Writer, e anystore.Entry) error
	FormatList(w io.Writer, entries []anystore.Entry, next string) error
	FormatPresign(w io.Writer, req anystore.PresignedRequest) error
	FormatInfo(w io.Writer, info anystore.AccessorInfo) error
	FormatError(w io.Writer, err error) error
}

func formatter() Formatter {
	return newFormatter(jsonOutput, quiet)
}

func newFormatter(jsonOutput, quiet bool) Formatter {
	if jsonOutput {
		return &JSONFormatter{}
	}
	return &HumanFormatter{Quiet: quiet}
}

// entryJSON is the JSON form of an entry. Unknown attributes are omitted.
type entryJSON struct {
	Path         string     `json:"path"`
	Dir          bool       `json:"dir,omitempty"`
	Size         *int64     `json:"size_bytes,omitempty"`
	ContentType  string     `json:"content_type,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

func toEntryJSON(e anystore.Entry) entryJSON {
	out := entryJSON{Path: e.Path, Dir: e.Metadata.IsDir()}
	if n, ok := e.Metadata.ContentLength(); ok {
		out.Size = &n
	}
	out.ContentType, _ = e.Metadata.ContentType()
	out.ETag, _ = e.Metadata.ETag()
	if t, ok := e.Metadata.LastModified(); ok {
		out.LastModified = &t
	}
	return out
}

// HumanFormatter outputs human-readable text.
type HumanFormatter struct {
	Quiet bool
}

func (f *HumanFormatter) FormatStat(w io.Writer, e anystore.Entry) error {
	if f.Quiet {
		return nil
	}
	kind := "file"
	if e.Metadata.IsDir() {
		kind = "directory"
	}
	_, _ = fmt.Fprintf(w, "%s (%s)\n", e.Path, kind)
	if n, ok := e.Metadata.ContentLength(); ok {
		_, _ = fmt.Fprintf(w, "  Size: %s\n", formatSize(n))
	}
	if ct, ok := e.Metadata.ContentType(); ok {
		_, _ = fmt.Fprintf(w, "  Content-Type: %s\n", ct)
	}
	if etag, ok := e.Metadata.ETag(); ok {
		_, _ = fmt.Fprintf(w, "  ETag: %s\n", etag)
	}
	if t, ok := e.Metadata.LastModified(); ok {
		_, _ = fmt.Fprintf(w, "  Last-Modified: %s\n", t.Format(time.DateTime))
	}
	return nil
}

func (f *HumanFormatter) FormatList(w io.Writer, entries []anystore.Entry, next string) error {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "No entries found")
		return nil
	}

	maxPathLen := 4 // "PATH"
	for i := range entries {
		maxPathLen = max(maxPathLen, len(entries[i].Path))
	}
	maxPathLen = min(maxPathLen, 60)

	_, _ = fmt.Fprintf(w, "%-*s  %10s  %s\n", maxPathLen, "PATH", "SIZE", "UPDATED")
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n", strings.Repeat("-", maxPathLen), strings.Repeat("-", 10), strings.Repeat("-", 19))

	var total int64
	for i := range entries {
		e := &entries[i]
		path := e.Path
		if len(path) > maxPathLen {
			path = path[:maxPathLen-3] + "..."
		}
		size := "-"
		if n, ok := e.Metadata.ContentLength(); ok && !e.Metadata.IsDir() {
			size = formatSize(n)
			total += n
		}
		updated := ""
		if t, ok := e.Metadata.LastModified(); ok {
			updated = t.Format(time.DateTime)
		}
		_, _ = fmt.Fprintf(w, "%-*s  %10s  %s\n", maxPathLen, path, size, updated)
	}

	if !f.Quiet {
		_, _ = fmt.Fprintf(w, "\n%d entries (%s total)\n", len(entries), formatSize(total))
	}
	if next != "" {
		_, _ = fmt.Fprintf(w, "Next page: use --token %q\n", next)
	}
	return nil
}

func (f *HumanFormatter) FormatPresign(w io.Writer, req anystore.PresignedRequest) error {
	_, _ = fmt.Fprintf(w, "%s %s\n", req.Method, req.URL)
	if f.Quiet {
		return nil
	}
	for _, k := range slices.Sorted(maps.Keys(req.Header)) {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", k, strings.Join(req.Header[k], ", "))
	}
	return nil
}

func (f *HumanFormatter) FormatInfo(w io.Writer, info anystore.AccessorInfo) error {
	if f.Quiet {
		return nil
	}
	_, _ = fmt.Fprintf(w, "OK: %s", info.Scheme)
	if info.Name != "" {
		_, _ = fmt.Fprintf(w, " %s", info.Name)
	}
	if info.Root != "" {
		_, _ = fmt.Fprintf(w, " (root %s)", info.Root)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func (f *HumanFormatter) FormatError(w io.Writer, err error) error {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	return nil
}

// JSONFormatter outputs JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatStat(w io.Writer, e anystore.Entry) error {
	return writeJSON(w, toEntryJSON(e))
}

func (f *JSONFormatter) FormatList(w io.Writer, entries []anystore.Entry, next string) error {
	out := struct {
		Items      []entryJSON `json:"items"`
		NextCursor string      `json:"next_cursor,omitempty"`
	}{Items: make([]entryJSON, 0, len(entries)), NextCursor: next}
	for _, e := range entries {
		out.Items = append(out.Items, toEntryJSON(e))
	}
	return writeJSON(w, out)
}

func (f *JSONFormatter) FormatPresign(w io.Writer, req anystore.PresignedRequest) error {
	out := struct {
		Method string              `json:"method"`
		URL    string              `json:"url"`
		Header map[string][]string `json:"header,omitempty"`
	}{Method: req.Method, URL: req.URL.String(), Header: req.Header}
	return writeJSON(w, out)
}

func (f *JSONFormatter) FormatInfo(w io.Writer, info anystore.AccessorInfo) error {
	out := struct {
		Scheme string `json:"scheme"`
		Name   string `json:"name,omitempty"`
		Root   string `json:"root,omitempty"`
	}{info.Scheme, info.Name, info.Root}
	return writeJSON(w, out)
}

func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	out := struct {
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
	}{Error: err.Error(), Kind: anystore.KindOf(err).String()}
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
