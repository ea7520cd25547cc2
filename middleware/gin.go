package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

// PrincipalKey is the gin context key holding the authcore.Principal.
const PrincipalKey = "authcore.principal"

// GinRequireAuth is RequireAuth for gin. The principal is available both from
// c.Request.Context() and under PrincipalKey.
func GinRequireAuth(v AccessValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		principal, renewed, err := v.ValidateAccess(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if renewed != "" {
			c.Header(RenewedTokenHeader, renewed)
		}

		c.Request = c.Request.WithContext(authcore.WithPrincipal(c.Request.Context(), principal))
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// GinPrincipal returns the principal stored by GinRequireAuth.
func GinPrincipal(c *gin.Context) (authcore.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return authcore.Principal{}, false
	}
	p, ok := v.(authcore.Principal)
	return p, ok
}
