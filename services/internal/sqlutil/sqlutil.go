// Package sqlutil holds helpers shared by the SQL-backed key-value adapters.
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName reports whether name is safe to interpolate into SQL as
// a table name: lowercase, starting with a letter or underscore, and at
// most 63 characters.
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// ValidateTableName returns an error naming the rule an invalid table name
// breaks.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("validate table name: table name cannot be empty")
	}
	if !IsValidTableName(name) {
		return fmt.Errorf("validate table name: invalid table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", name)
	}
	return nil
}

// QuoteIdentifier quotes an identifier with double quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeLikePattern escapes the LIKE wildcards in pattern so it matches
// literally with ESCAPE '\'.
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}

// PrefixUpperBound returns the smallest string greater than every string
// with the given prefix, or "" when there is none. It turns a prefix scan
// into the range [prefix, bound).
func PrefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
