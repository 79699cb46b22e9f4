// Package routing provides shared route-matching helpers used by multiple
// gateway packages (proxy, ratelimit, auth).
package routing

import (
	"sort"
	"strings"
)

// MatchesPrefix checks if path matches prefix with boundary enforcement.
// The path must either equal the prefix, the prefix must end with "/",
// or the character after the prefix in path must be "/".
func MatchesPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}

// Table is a longest-prefix-first route table. It is immutable after
// NewTable and safe for concurrent use.
type Table[T any] struct {
	entries  []T
	prefixOf func(T) string
}

// NewTable returns a table over a copy of entries, ordered so that longer
// prefixes are tried first. prefixOf extracts the path prefix of an entry.
func NewTable[T any](entries []T, prefixOf func(T) string) *Table[T] {
	sorted := make([]T, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(prefixOf(sorted[i])) > len(prefixOf(sorted[j]))
	})
	return &Table[T]{entries: sorted, prefixOf: prefixOf}
}

// Match returns the entry with the longest prefix matching path.
func (t *Table[T]) Match(path string) (T, bool) {
	for _, e := range t.entries {
		if MatchesPrefix(path, t.prefixOf(e)) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// Entries returns the table contents in match order.
func (t *Table[T]) Entries() []T {
	out := make([]T, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	return len(t.entries)
}
