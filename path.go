package anystore

import (
	"strings"
	"unicode/utf8"
)

// RootPath is the canonical form of the accessor root.
const RootPath = ""

// NormalizePath returns the canonical form of p. It:
//   - drops leading slashes, so every path is relative to the root
//   - collapses repeated slashes and "." segments
//   - resolves ".." segments, failing with InvalidInput if one would escape the root
//   - keeps a trailing "/" for directories; a path whose last segment is "." or ".."
//     names a directory too
//   - rejects invalid UTF-8, NUL bytes and other control characters
//
// The root normalizes to RootPath. Normalizing a canonical path returns it
// unchanged.
func NormalizePath(p string) (string, error) {
	if !utf8.ValidString(p) {
		return "", invalidPathError(p, "path is not valid UTF-8")
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return "", invalidPathError(p, "path contains control characters")
		}
	}

	segments := strings.Split(p, "/")
	isDir := false
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		last := i == len(segments)-1
		switch seg {
		case "":
			if last {
				isDir = true
			}
		case ".":
			if last {
				isDir = true
			}
		case "..":
			if len(out) == 0 {
				return "", invalidPathError(p, "path escapes the root")
			}
			out = out[:len(out)-1]
			if last {
				isDir = true
			}
		default:
			out = append(out, seg)
		}
	}

	if len(out) == 0 {
		return RootPath, nil
	}

	normalized := strings.Join(out, "/")
	if isDir {
		normalized += "/"
	}
	return normalized, nil
}

// IsDir reports whether a canonical path names a directory.
func IsDir(p string) bool {
	return p == RootPath || strings.HasSuffix(p, "/")
}

// ParentDir returns the directory containing a canonical path.
func ParentDir(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return RootPath
	}
	return trimmed[:idx+1]
}

// BaseName returns the last segment of a canonical path, keeping the
// trailing slash of directories.
func BaseName(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	return p[idx+1:]
}

// JoinRoot prefixes a canonical path with a backend root. The root is
// normalized as a directory.
func JoinRoot(root, p string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return p
	}
	return root + "/" + p
}

// StripRoot removes the backend root prefix added by JoinRoot.
func StripRoot(root, p string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return p
	}
	return strings.TrimPrefix(p, root+"/")
}

func invalidPathError(p, message string) *Error {
	return &Error{Kind: KindInvalidInput, Path: p, Message: message}
}
