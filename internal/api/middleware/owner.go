package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/cloo-solutions/docintel/internal/api"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// DefaultOwner scopes requests that carry no X-Owner-ID header.
const DefaultOwner = "anonymous"

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// OwnerID resolves the calling owner from the X-Owner-ID header. It is an
// identity label for listing and auditing, not authentication.
func OwnerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			owner = DefaultOwner
		}
		if !ownerPattern.MatchString(owner) {
			api.Error(w, http.StatusBadRequest, "invalid X-Owner-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), OwnerIDKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetOwnerID(ctx context.Context) string {
	owner, _ := ctx.Value(OwnerIDKey).(string)
	if owner == "" {
		return DefaultOwner
	}
	return owner
}
