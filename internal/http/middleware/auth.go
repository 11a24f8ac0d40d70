package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/jobclient"
	"github.com/wolfman30/hospital-scheduling-admin/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// CodeAuthExpired tells the UI to send the user back through sign-in.
const CodeAuthExpired = "auth_expired"

// BearerAuth requires a bearer token on every request and forwards it to the
// backend through the request context. When secret is set the token must be an
// HMAC-signed JWT; otherwise the backend stays the verifier and only the expiry
// and subject of a JWT are read. Browsers cannot set headers on websocket upgrades, so
// an access_token query parameter is accepted for those.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeAuthError(w, "unauthorized", "missing authorization header")
				return
			}
			claims := jwt.RegisteredClaims{}
			var err error
			if secret != "" {
				_, err = parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
					return []byte(secret), nil
				})
			} else {
				err = parseUnverified(tokenString, &claims)
			}
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				writeAuthError(w, CodeAuthExpired, "session expired, sign in again")
				return
			case err != nil:
				writeAuthError(w, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			ctx = jobclient.WithCredential(ctx, tokenString)
			if claims.ExpiresAt != nil {
				ctx = jobclient.WithCredentialExpiry(ctx, claims.ExpiresAt.Time)
			}
			if claims.Subject != "" {
				ctx = tenancy.WithSubject(ctx, claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if auth == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// parseUnverified reads claims from a JWT without checking its signature.
// Opaque (non-JWT) tokens pass through untouched.
func parseUnverified(tokenString string, claims *jwt.RegisteredClaims) error {
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		*claims = jwt.RegisteredClaims{}
		return nil
	}
	return jwt.NewValidator().Validate(claims)
}

func writeAuthError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
