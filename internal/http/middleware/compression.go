package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForExports wraps a compression middleware so the raw
// XMLTV export routes bypass it. The gzip exports are already a single
// deflate stream shared with the artifact cache, and the plain export must
// stay byte-identical to the cached variant's payload.
func SkipCompressionForExports(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/epg.xml.gz") || strings.HasSuffix(r.URL.Path, "/epg.xml") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
