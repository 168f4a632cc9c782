package middleware

import (
	"fmt"
	"net/http"

	"github.com/cloo-solutions/docintel/internal/api"
)

// MaxBodyBytes caps request bodies at limit. A declared Content-Length over
// the limit is refused before the handler runs; chunked bodies fail with
// *http.MaxBytesError once the handler reads past it.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		msg := fmt.Sprintf("request body exceeds %d bytes", limit)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, msg)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
