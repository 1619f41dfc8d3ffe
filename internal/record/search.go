// Implements case-insensitive name search.

package record

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Named is implemented by records that can be searched by name.
type Named interface {
	SearchName() string
}

// Search returns the records whose name contains term, ignoring case.
//
// The term is trimmed first. An empty term returns rows unchanged. Order is
// preserved. A search without matches returns an empty, non-nil slice.
func Search[T Named](rows []T, term string) []T {
	needle := strings.TrimSpace(term)
	if needle == "" {
		return rows
	}
	// A Caser is stateful; keep it local to the call.
	lower := cases.Lower(language.Und)
	needle = lower.String(needle)
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		if strings.Contains(lower.String(r.SearchName()), needle) {
			out = append(out, r)
		}
	}
	return out
}
