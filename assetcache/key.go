package assetcache

import (
	"encoding/base64"
	"regexp"
)

// tmpFilePrefix marks in-progress writes; such files never match
// keyRegexp and are ignored by the sweep until they go stale.
const tmpFilePrefix = "tmp."

// keyRegexp matches the base64url alphabet produced by keyFor.
var keyRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// keyFor derives the cache file name from the source URL.
//
// The encoding is reversible and deterministic: identical URLs always
// map to the same file, distinct URLs never collide. URLs longer than
// ~190 bytes exceed common file name limits and fail at Store time,
// which is acceptable for cover image URLs.
func keyFor(u string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(u))
}

// urlFor recovers the source URL from a cache file name.
func urlFor(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
