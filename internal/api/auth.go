// Package api is the thin gin HTTP/WS glue binding the core components
// (lifecycle, ledger, session) to the outside world: lobby create/join/
// leave, the commit/verify endpoint, account history, health, and the
// websocket upgrade into internal/session. Split into routes.go, auth.go,
// websocket.go and ratelimit.go by concern, with a bearer-JWT scheme in
// place of a static bearer token.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AccountClaims are the JWT claims the HTTP surface trusts for an
// authenticated account — distinct from session.Claims, which additionally
// scopes a token to one match for the websocket AUTH handshake.
type AccountClaims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates a bearer JWT signed with secret and stashes the
// account id in the gin context under "accountID". There is no dev-mode
// bypass: a missing secret is a startup-time config error
// (internal/config.Load requires JWT_SECRET), so this middleware always
// enforces.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid Authorization header format"})
			c.Abort()
			return
		}

		claims := &AccountClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.AccountID == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("accountID", claims.AccountID)
		c.Next()
	}
}

// accountID reads the id AuthMiddleware stashed in the context.
func accountID(c *gin.Context) string {
	v, _ := c.Get("accountID")
	s, _ := v.(string)
	return s
}
