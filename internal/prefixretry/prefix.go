package prefixretry

import "strings"

// PrefixPath returns path rewritten under prefix. The prefix is trimmed of
// surrounding whitespace, given a leading "/" when non-empty, and stripped of
// exactly one trailing "/". The path is given a leading "/" when missing.
// An empty prefix leaves the normalized path unchanged.
func PrefixPath(prefix, path string) string {
	return normalizePrefix(prefix) + normalizePath(path)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	// Only one trailing slash is removed: "/api//" becomes "/api/".
	return strings.TrimSuffix(p, "/")
}

func normalizePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
