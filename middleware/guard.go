package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

// RenewedTokenHeader carries a grace-renewed access token back to the client.
const RenewedTokenHeader = "X-Renewed-Access-Token"

// AccessValidator is satisfied by *authcore.Engine.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (authcore.Principal, string, error)
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(v AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			principal, renewed, err := v.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if renewed != "" {
				w.Header().Set(RenewedTokenHeader, renewed)
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireVerifiedEmail must run after RequireAuth. It rejects principals whose
// email is not verified.
func RequireVerifiedEmail(next http.Handler) http.Handler {
	return requireFlag(next, func(p authcore.Principal) bool { return p.IsEmailVerified })
}

// RequireTwoFactor must run after RequireAuth. It rejects principals without
// two-factor authentication enabled.
func RequireTwoFactor(next http.Handler) http.Handler {
	return requireFlag(next, func(p authcore.Principal) bool { return p.Has2FA })
}

func requireFlag(next http.Handler, allowed func(authcore.Principal) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := authcore.PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !allowed(p) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
