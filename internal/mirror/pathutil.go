package mirror

import "strings"

// joinRemote normalizes a/b-style remote path concatenation into a path
// with exactly one leading slash, no double slash, and no trailing slash
// (except for the root "/"), without touching the local filesystem.
func joinRemote(base, sub string) string {
	if sub == "" {
		return normalizeRemote(base)
	}
	return normalizeRemote(base + "/" + sub)
}

func normalizeRemote(p string) string {
	p = "/" + p
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		p = "/"
	}
	return p
}
