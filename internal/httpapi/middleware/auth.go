package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/rental-chat/internal/auth"
	"github.com/suPer8Hu/rental-chat/internal/common"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"
)

// AuthRequired accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on a websocket handshake, so a token query parameter is accepted too.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c.GetHeader("Authorization"))
		if tok == "" {
			tok = c.Query("token")
		}
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "unauthorized")
			c.Abort()
			return
		}

		ident, err := auth.ParseJWT(tok, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, common.CodeUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, ident.UserID)
		c.Set(IdentityKey, ident)
		c.Next()
	}
}

// AdminRequired must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := IdentityFrom(c)
		if !ok || !ident.IsAdmin() {
			common.Fail(c, http.StatusForbidden, common.CodeForbidden, "admin only")
			c.Abort()
			return
		}
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	ident, ok := v.(auth.Identity)
	return ident, ok
}

func bearer(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
