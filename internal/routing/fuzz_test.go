package routing

import (
	"strings"
	"testing"

	"github.com/dskow/prefix-fallback/internal/prefixretry"
)

func FuzzMatchesPrefix(f *testing.F) {
	f.Add("/api/users/123", "/api/users")
	f.Add("/api.evil.com/steal", "/api")
	f.Add("/apiary", "/api")
	f.Add("", "")
	f.Add("/", "/")
	f.Add("/api/", "/api/")
	f.Add("/api-extended", "/api")

	f.Fuzz(func(t *testing.T, path, prefix string) {
		result := MatchesPrefix(path, prefix)

		// A match past the end of the prefix must land on a segment boundary.
		if result && len(path) > len(prefix) && len(prefix) > 0 {
			if prefix[len(prefix)-1] != '/' && path[len(prefix)] != '/' {
				t.Errorf("MatchesPrefix(%q, %q) = true but boundary not enforced", path, prefix)
			}
		}
	})
}

// FuzzTableRetryPath checks that a path rewritten under a route's prefix is
// always routed, and never to a shorter prefix than the one it was built on.
func FuzzTableRetryPath(f *testing.F) {
	f.Add("api", "/users")
	f.Add("/api/", "users")
	f.Add(" v2 ", "/")
	f.Add("api", "")

	f.Fuzz(func(t *testing.T, prefix, path string) {
		mount := strings.TrimSuffix(prefixretry.PrefixPath(prefix, ""), "/")
		if mount == "" || strings.HasSuffix(mount, "/") {
			return
		}
		table := NewTable([]string{"/", mount}, func(s string) string { return s })

		got, ok := table.Match(prefixretry.PrefixPath(prefix, path))
		if !ok {
			t.Fatalf("no entry for %q under %q", prefixretry.PrefixPath(prefix, path), mount)
		}
		if len(got) < len(mount) {
			t.Errorf("matched %q, want the longer mount %q", got, mount)
		}
	})
}
