// Package httpheader converts between HTTP headers and anystore.Metadata.
// Every parse failure is a KindUnexpected *anystore.Error naming the header.
package httpheader

import (
	"crypto/md5" //nolint:gosec // content-md5 is an integrity header, not a security boundary
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sagarc03/anystore"
)

const (
	ContentMD5 = "Content-Md5"
	Location   = "Location"
)

func invalid(header, message string, cause error) error {
	err := anystore.NewError(anystore.KindUnexpected, fmt.Sprintf("parse %s: %s", header, message))
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// value returns the first value of key. Values must be valid UTF-8.
func value(h http.Header, key string) (string, bool, error) {
	vs := h.Values(key)
	if len(vs) == 0 {
		return "", false, nil
	}
	if !utf8.ValidString(vs[0]) {
		return "", false, invalid(key, "header value is not valid utf-8 string", nil)
	}
	return vs[0], true, nil
}

// ParseLocation returns the redirect target, which may be a relative path.
func ParseLocation(h http.Header) (string, bool, error) {
	return value(h, Location)
}

func ParseContentLength(h http.Header) (int64, bool, error) {
	v, ok, err := value(h, "Content-Length")
	if !ok || err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false, invalid("Content-Length", "header value is not valid integer", err)
	}
	return n, true, nil
}

func ParseContentMD5(h http.Header) (string, bool, error) {
	return value(h, ContentMD5)
}

func ParseContentType(h http.Header) (string, bool, error) {
	return value(h, "Content-Type")
}

func ParseContentRange(h http.Header) (anystore.BytesContentRange, bool, error) {
	v, ok, err := value(h, "Content-Range")
	if !ok || err != nil {
		return anystore.BytesContentRange{}, false, err
	}
	cr, err := anystore.ParseContentRange(v)
	if err != nil {
		return anystore.BytesContentRange{}, false, invalid("Content-Range", "header value is not valid content range", err)
	}
	return cr, true, nil
}

// ParseLastModified accepts every format http.ParseTime does.
func ParseLastModified(h http.Header) (time.Time, bool, error) {
	v, ok, err := value(h, "Last-Modified")
	if !ok || err != nil {
		return time.Time{}, false, err
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false, invalid("Last-Modified", "header value is not valid http date", err)
	}
	return t, true, nil
}

// ParseETag returns the entity tag without quotes. Weak tags keep their
// "W/" prefix.
func ParseETag(h http.Header) (string, bool, error) {
	v, ok, err := value(h, "ETag")
	if !ok || err != nil {
		return "", false, err
	}
	return UnquoteETag(v), true, nil
}

func ParseContentDisposition(h http.Header) (string, bool, error) {
	return value(h, "Content-Disposition")
}

// ParseMetadata reads the standard headers into Metadata. The mode comes
// from path. Services with their own headers update the result.
func ParseMetadata(path string, h http.Header) (anystore.Metadata, error) {
	m := anystore.NewMetadata(anystore.ModeForPath(path))

	if n, ok, err := ParseContentLength(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetContentLength(n)
	}
	if v, ok, err := ParseContentType(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetContentType(v)
	}
	if v, ok, err := ParseContentRange(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetContentRange(v)
	}
	if v, ok, err := ParseETag(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetETag(v)
	}
	if v, ok, err := ParseContentMD5(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetContentMD5(v)
	}
	if v, ok, err := ParseLastModified(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetLastModified(v)
	}
	if v, ok, err := ParseContentDisposition(h); err != nil {
		return anystore.Metadata{}, err
	} else if ok {
		m.SetContentDisposition(v)
	}
	return m, nil
}

// SetMetadata writes m onto h. ETags are quoted.
func SetMetadata(h http.Header, m anystore.Metadata) {
	if n, ok := m.ContentLength(); ok {
		h.Set("Content-Length", strconv.FormatInt(n, 10))
	}
	if v, ok := m.ContentType(); ok {
		h.Set("Content-Type", v)
	}
	if v, ok := m.ContentRange(); ok {
		h.Set("Content-Range", v.String())
	}
	if v, ok := m.ETag(); ok {
		h.Set("ETag", QuoteETag(v))
	}
	if v, ok := m.ContentMD5(); ok {
		h.Set(ContentMD5, v)
	}
	if v, ok := m.LastModified(); ok {
		h.Set("Last-Modified", v.UTC().Format(http.TimeFormat))
	}
	if v, ok := m.ContentDisposition(); ok {
		h.Set("Content-Disposition", v)
	}
}

// QuoteETag wraps an unquoted entity tag in quotes.
func QuoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) || etag == "*" {
		return etag
	}
	return `"` + etag + `"`
}

// UnquoteETag strips the quotes of a strong tag. "*" is returned as is.
func UnquoteETag(etag string) string {
	etag = strings.TrimSpace(etag)
	if strings.HasPrefix(etag, "W/") {
		return etag
	}
	return strings.Trim(etag, `"`)
}

// FormatContentMD5 returns the base64 md5 digest of b.
func FormatContentMD5(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // see import
	return base64.StdEncoding.EncodeToString(sum[:])
}

// FormatBasicAuth builds a Basic authorization value. The username must
// not be empty.
func FormatBasicAuth(username, password string) (string, error) {
	if username == "" {
		return "", anystore.NewError(anystore.KindUnexpected, "can't build authorization header with empty username")
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)), nil
}

// FormatBearerAuth builds a Bearer authorization value. The token must not
// be empty.
func FormatBearerAuth(token string) (string, error) {
	if token == "" {
		return "", anystore.NewError(anystore.KindUnexpected, "can't build authorization header with empty token")
	}
	return "Bearer " + token, nil
}
