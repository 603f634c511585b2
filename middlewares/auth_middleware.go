package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/utils"
)

// AuthMiddleware checks the operator bearer token. An empty secret disables
// authentication and every caller acts as admin.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Set("role", utils.RoleAdmin)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.AbortError(c, http.StatusUnauthorized, errors.New("authorization header missing"))
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.AbortError(c, http.StatusUnauthorized, errors.New("authorization header must use the Bearer scheme"))
			return
		}

		claims, err := utils.ParseToken(secret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			utils.AbortError(c, http.StatusUnauthorized, err)
			return
		}

		c.Set("operator", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
