// Package urlutil provides URL helpers shared by the mirror and handlers.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Hash returns a short stable key for a URL, used for mirror file names.
func Hash(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])[:16]
}

// IsRemote checks whether u is a fetchable http(s) URL rather than a local
// path.
func IsRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Obfuscate hides credential-bearing query parameters and userinfo for
// logging.
func Obfuscate(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	query := u.Query()
	for _, param := range []string{"password", "token", "api_key", "apikey", "secret", "auth"} {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
