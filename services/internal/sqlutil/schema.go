package sqlutil

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Column describes one column as reported by the database catalog.
type Column struct {
	Type     string
	Nullable bool
}

// CompareSchema checks that actual has every expected column with the same
// type and nullability. Extra columns are allowed. Types compare
// case-insensitively.
func CompareSchema(table string, expected, actual map[string]Column) error {
	var missing, mismatched []string

	names := make([]string, 0, len(expected))
	for name := range expected {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		want := expected[name]
		got, ok := actual[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !strings.EqualFold(got.Type, want.Type) {
			mismatched = append(mismatched,
				fmt.Sprintf("%s: expected %s, got %s", name, want.Type, strings.ToLower(got.Type)))
		}
		if got.Nullable != want.Nullable {
			mismatched = append(mismatched,
				fmt.Sprintf("%s: expected nullable=%v, got nullable=%v", name, want.Nullable, got.Nullable))
		}
	}

	if len(missing) == 0 && len(mismatched) == 0 {
		return nil
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "table %s schema validation failed:\n", table)
	if len(missing) > 0 {
		fmt.Fprintf(&msg, "  missing columns: %s\n", strings.Join(missing, ", "))
	}
	if len(mismatched) > 0 {
		fmt.Fprintf(&msg, "  mismatched columns:\n")
		for _, m := range mismatched {
			fmt.Fprintf(&msg, "    - %s\n", m)
		}
	}
	return errors.New(msg.String())
}
