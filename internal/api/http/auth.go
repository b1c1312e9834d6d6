package http

import (
	"context"
	"log"
	"net/http"

	"github.com/fluxbridge/fluxbridge/internal/auth"
)

// IssuedTokenHeader carries a freshly issued bearer token back to callers
// who authenticated with basic credentials.
const IssuedTokenHeader = "X-Authorization-Token"

// AuthMiddleware validates the Authorization header before the wrapped
// handler runs. Handlers behind it can read the caller identity from the
// request context.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "authentication required", requestID)
				return
			}
			identity, err := authenticator.Authenticate(r.Context(), header)
			if err != nil {
				log.Printf("http: request %s rejected: %v", requestID, err)
				writeError(w, http.StatusUnauthorized, "authentication required", requestID)
				return
			}
			if identity.Token != "" {
				w.Header().Set(IssuedTokenHeader, identity.Token)
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity retrieves the authenticated caller from the context, if any.
func GetIdentity(ctx context.Context) *auth.Identity {
	if id, ok := ctx.Value(identityKey).(*auth.Identity); ok {
		return id
	}
	return nil
}
