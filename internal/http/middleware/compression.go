package middleware

import (
	"net/http"
)

// SkipCompressionForStreams wraps a compression middleware handler so live
// byte streams bypass it. Compression buffers output, which breaks the
// per-chunk flushing the stream endpoints rely on.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if streamPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
