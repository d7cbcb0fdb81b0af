package vectorcache

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize normalizes a bookmark URL so equivalent spellings share one cache entry.
// Scheme and host are lower-cased, the fragment is dropped and a trailing slash removed.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.TrimRight(trimmed, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// ContentHash is the cache key for a URL: sha256 of its canonical form.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(Canonicalize(raw)))
	return fmt.Sprintf("%x", sum)
}
