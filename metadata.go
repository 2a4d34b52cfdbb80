package anystore

import "time"

// EntryMode tells files and directories apart.
type EntryMode int

const (
	ModeUnknown EntryMode = iota
	ModeFile
	ModeDir
)

func (m EntryMode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeDir:
		return "dir"
	default:
		return "unknown"
	}
}

// ModeForPath returns ModeDir for directory paths and ModeFile otherwise.
func ModeForPath(p string) EntryMode {
	if IsDir(p) {
		return ModeDir
	}
	return ModeFile
}

// Metadata holds the attributes of a stored entry. Backends fill what they
// can report cheaply; every optional attribute is either set or explicitly
// absent, and the getters report which.
type Metadata struct {
	mode EntryMode

	contentLength    int64
	hasContentLength bool

	contentType        string
	contentDisposition string
	contentMD5         string
	etag               string

	lastModified time.Time

	contentRange    BytesContentRange
	hasContentRange bool
}

// NewMetadata creates Metadata with every optional attribute absent.
func NewMetadata(mode EntryMode) Metadata {
	return Metadata{mode: mode}
}

// Mode returns the entry mode.
func (m Metadata) Mode() EntryMode { return m.mode }

// IsDir reports whether the entry is a directory.
func (m Metadata) IsDir() bool { return m.mode == ModeDir }

// IsFile reports whether the entry is a file.
func (m Metadata) IsFile() bool { return m.mode == ModeFile }

// ContentLength returns the size in bytes, if known.
func (m Metadata) ContentLength() (int64, bool) {
	return m.contentLength, m.hasContentLength
}

func (m Metadata) ContentType() (string, bool) {
	return m.contentType, m.contentType != ""
}

func (m Metadata) ContentDisposition() (string, bool) {
	return m.contentDisposition, m.contentDisposition != ""
}

// ContentMD5 returns the base64 encoded MD5 digest, if known.
func (m Metadata) ContentMD5() (string, bool) {
	return m.contentMD5, m.contentMD5 != ""
}

func (m Metadata) ETag() (string, bool) {
	return m.etag, m.etag != ""
}

func (m Metadata) LastModified() (time.Time, bool) {
	return m.lastModified, !m.lastModified.IsZero()
}

// ContentRange returns the range a ranged read served, if any.
func (m Metadata) ContentRange() (BytesContentRange, bool) {
	return m.contentRange, m.hasContentRange
}

func (m *Metadata) SetMode(mode EntryMode) *Metadata {
	m.mode = mode
	return m
}

func (m *Metadata) SetContentLength(n int64) *Metadata {
	m.contentLength = n
	m.hasContentLength = true
	return m
}

func (m *Metadata) SetContentType(v string) *Metadata {
	m.contentType = v
	return m
}

func (m *Metadata) SetContentDisposition(v string) *Metadata {
	m.contentDisposition = v
	return m
}

func (m *Metadata) SetContentMD5(v string) *Metadata {
	m.contentMD5 = v
	return m
}

func (m *Metadata) SetETag(v string) *Metadata {
	m.etag = v
	return m
}

func (m *Metadata) SetLastModified(t time.Time) *Metadata {
	m.lastModified = t
	return m
}

func (m *Metadata) SetContentRange(r BytesContentRange) *Metadata {
	m.contentRange = r
	m.hasContentRange = true
	return m
}

// Entry is one item produced by a listing.
type Entry struct {
	Path     string
	Metadata Metadata
}

// NewEntry creates an entry whose mode follows the path.
func NewEntry(path string) Entry {
	return Entry{Path: path, Metadata: NewMetadata(ModeForPath(path))}
}

// CheckConditions evaluates If-Match and If-None-Match against the etag of
// m. Either condition may be "*". A failed condition is ConditionNotMatch.
func CheckConditions(m Metadata, ifMatch, ifNoneMatch string) error {
	etag, _ := m.ETag()
	if ifMatch != "" && ifMatch != "*" && ifMatch != etag {
		return NewError(KindConditionNotMatch, "etag does not match If-Match")
	}
	if ifNoneMatch != "" && (ifNoneMatch == "*" || ifNoneMatch == etag) {
		return NewError(KindConditionNotMatch, "etag matches If-None-Match")
	}
	return nil
}
