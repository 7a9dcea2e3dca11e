package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	coreauth "vpnfleet/core/auth"
)

type claimsKey struct{}

// ClaimsFromContext returns the admin claims attached by RequireAdmin.
func ClaimsFromContext(ctx context.Context) (*AdminClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*AdminClaims)
	return claims, ok
}

// RequireAdmin rejects requests without a valid admin token in the
// Authorization header or the auth_token cookie.
func (j *JWTManager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := coreauth.TokenFromRequest(r, coreauth.DefaultCookieName)
		if err != nil {
			http.Error(w, "missing authorization token", http.StatusUnauthorized)
			return
		}

		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected admin token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
