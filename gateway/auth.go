package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// requireAdmin guards the administrative routes with an HS256 bearer token.
// An empty secret disables the routes entirely rather than leaving them open.
func requireAdmin(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				writeError(w, http.StatusForbidden, "admin routes disabled")
				return
			}
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, http.StatusUnauthorized, "bearer token required")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
			token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logger.Warn("admin auth rejected", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminToken mints a bearer token for the admin routes. Operator tooling and
// tests call this.
func AdminToken(secret []byte, subject string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
	})
	return token.SignedString(secret)
}
