package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/utils"
)

// WebSocketAuthMiddleware reads the token from the query string, browsers
// cannot set headers on websocket requests.
func WebSocketAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Set("role", utils.RoleAdmin)
			c.Next()
			return
		}

		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, err := utils.ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set("operator", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
