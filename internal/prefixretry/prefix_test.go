package prefixretry

import (
	"strings"
	"testing"
)

func TestPrefixPath(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"api", "/users", "/api/users"},
		{"/api", "/users", "/api/users"},
		{"api/", "/users", "/api/users"},
		{"/api/", "/users", "/api/users"},
		{"  api  ", "/users", "/api/users"},
		{"api", "users", "/api/users"},
		{"/api/v1", "/users/1", "/api/v1/users/1"},
		{"", "/users", "/users"},
		{"", "users", "/users"},
		{"   ", "/users", "/users"},
		{"/", "/users", "/users"},
		{"api//", "/users", "/api//users"},
		{"api", "/", "/api/"},
		{"api", "", "/api/"},
		{"", "", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"|"+tt.path, func(t *testing.T) {
			got := PrefixPath(tt.prefix, tt.path)
			if got != tt.want {
				t.Errorf("PrefixPath(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
			}
		})
	}
}

func TestPrefixPath_Deterministic(t *testing.T) {
	a := PrefixPath("/api/", "users")
	b := PrefixPath("/api/", "users")
	if a != b {
		t.Errorf("PrefixPath not deterministic: %q != %q", a, b)
	}
}

// normalizeForTest mirrors the documented prefix rules: trim, ensure a single
// leading slash, drop at most one trailing slash.
func normalizeForTest(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func FuzzPrefixPath(f *testing.F) {
	f.Add("api", "/users")
	f.Add("/api/", "users")
	f.Add("", "")
	f.Add("  v1 ", "a/b")
	f.Add("/", "/")

	f.Fuzz(func(t *testing.T, prefix, path string) {
		got := PrefixPath(prefix, path)

		if !strings.HasPrefix(got, "/") {
			t.Fatalf("PrefixPath(%q, %q) = %q does not start with /", prefix, path, got)
		}

		// A path without a leading slash behaves like the same path with one.
		if !strings.HasPrefix(path, "/") {
			if want := PrefixPath(prefix, "/"+path); got != want {
				t.Fatalf("PrefixPath(%q, %q) = %q, want %q", prefix, path, got, want)
			}
		}

		// Pre-normalizing the prefix changes nothing, unless the prefix ends
		// in more than one slash or whitespace surfaces once the slash is gone.
		norm := normalizeForTest(prefix)
		if !strings.HasSuffix(norm, "/") && norm == strings.TrimSpace(norm) {
			if want := PrefixPath(norm, path); got != want {
				t.Fatalf("PrefixPath(%q, %q) = %q, normalized prefix %q gives %q", prefix, path, got, norm, want)
			}
		}

		// An empty prefix is a no-op apart from path normalization.
		if strings.TrimSpace(prefix) == "" {
			want := path
			if !strings.HasPrefix(want, "/") {
				want = "/" + want
			}
			if got != want {
				t.Fatalf("PrefixPath(%q, %q) = %q, want %q", prefix, path, got, want)
			}
		}

		if !strings.HasSuffix(got, strings.TrimPrefix(path, "/")) {
			t.Fatalf("PrefixPath(%q, %q) = %q lost the path", prefix, path, got)
		}
	})
}
