package anystore

import (
	"fmt"
	"strconv"
	"strings"
)

// BytesRange is a byte range [offset, offset+size). A range without a size
// extends to the end of the object. The zero value is the full object.
type BytesRange struct {
	offset  int64
	size    int64
	hasSize bool
}

// RangeFrom returns the range starting at offset and running to the end.
func RangeFrom(offset int64) BytesRange {
	return BytesRange{offset: offset}
}

// RangeOf returns the range of size bytes starting at offset.
func RangeOf(offset, size int64) BytesRange {
	return BytesRange{offset: offset, size: size, hasSize: true}
}

func (r BytesRange) Offset() int64 { return r.offset }

// Size returns the length of the range, if bounded.
func (r BytesRange) Size() (int64, bool) { return r.size, r.hasSize }

// IsFull reports whether the range covers the whole object.
func (r BytesRange) IsFull() bool { return r.offset == 0 && !r.hasSize }

// Advance returns the remainder of r after n bytes were consumed.
func (r BytesRange) Advance(n int64) BytesRange {
	r.offset += n
	if r.hasSize {
		r.size -= n
		if r.size < 0 {
			r.size = 0
		}
	}
	return r
}

// Clamp resolves r against an object of total bytes and returns the
// half-open interval it covers. Ranges starting past the end are empty.
func (r BytesRange) Clamp(total int64) (start, end int64) {
	start = min(r.offset, total)
	end = total
	if r.hasSize && start+r.size < end {
		end = start + r.size
	}
	return start, end
}

func (r BytesRange) validate() error {
	if r.offset < 0 {
		return fmt.Errorf("range offset %d is negative", r.offset)
	}
	if r.hasSize && r.size < 0 {
		return fmt.Errorf("range size %d is negative", r.size)
	}
	return nil
}

// HeaderValue formats r as an HTTP Range header value. It returns "" for
// the full range and for empty ranges.
func (r BytesRange) HeaderValue() string {
	switch {
	case r.IsFull():
		return ""
	case !r.hasSize:
		return fmt.Sprintf("bytes=%d-", r.offset)
	case r.size == 0:
		return ""
	default:
		return fmt.Sprintf("bytes=%d-%d", r.offset, r.offset+r.size-1)
	}
}

func (r BytesRange) String() string {
	if !r.hasSize {
		return fmt.Sprintf("%d-", r.offset)
	}
	return fmt.Sprintf("%d-%d", r.offset, r.offset+r.size)
}

// BytesContentRange is the value of a Content-Range header. Total is -1
// when the server did not report it.
type BytesContentRange struct {
	Start int64
	End   int64
	Total int64
}

// Size is the number of bytes the range covers.
func (c BytesContentRange) Size() int64 {
	return c.End - c.Start + 1
}

func (c BytesContentRange) String() string {
	if c.Total < 0 {
		return fmt.Sprintf("bytes %d-%d/*", c.Start, c.End)
	}
	return fmt.Sprintf("bytes %d-%d/%d", c.Start, c.End, c.Total)
}

// ParseContentRange parses "bytes start-end/total" where total may be "*".
func ParseContentRange(s string) (BytesContentRange, error) {
	unit, spec, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || unit != "bytes" {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: unsupported unit", s)
	}

	rng, total, ok := strings.Cut(spec, "/")
	if !ok {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: missing total", s)
	}

	startStr, endStr, ok := strings.Cut(rng, "-")
	if !ok {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: missing end", s)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: %w", s, err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: %w", s, err)
	}
	if end < start {
		return BytesContentRange{}, fmt.Errorf("parse content range %q: end before start", s)
	}

	cr := BytesContentRange{Start: start, End: end, Total: -1}
	if total != "*" {
		cr.Total, err = strconv.ParseInt(total, 10, 64)
		if err != nil {
			return BytesContentRange{}, fmt.Errorf("parse content range %q: %w", s, err)
		}
	}
	return cr, nil
}
