package overlay

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMiddleware requires a valid HS256 bearer token signed with the
// secret returned by SecretFunc on every request, when that secret is
// non-empty. Grounded on slashtechno-dash-of-pi's AuthMiddleware.Check,
// generalized from a plain shared-secret compare to a signed JWT per
// spec_full's `network.overlay_token` wiring (the overlay proxy's own
// downstream surface, not auth added to the control/MJPEG protocols).
// The secret is read fresh on every request so a live `set
// network.overlay_token ...` takes effect immediately.
type TokenMiddleware struct {
	SecretFunc func() string
}

// NewTokenMiddleware builds a TokenMiddleware around secretFunc.
func NewTokenMiddleware(secretFunc func() string) *TokenMiddleware {
	return &TokenMiddleware{SecretFunc: secretFunc}
}

// Wrap requires a valid Bearer token whenever SecretFunc returns a
// non-empty secret; it is a no-op otherwise.
func (m *TokenMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := m.SecretFunc()
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		token, err := jwt.Parse(parts[1], func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
