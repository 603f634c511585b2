package middlewares

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/inventory-sync/utils"
)

// RequireAdmin lets only admin operators through. Viewers may read but not
// change sync configs or start manual syncs.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			utils.AbortError(c, http.StatusUnauthorized, fmt.Errorf("unauthorized"))
			return
		}
		if role != utils.RoleAdmin {
			utils.AbortError(c, http.StatusForbidden, fmt.Errorf("admin access required"))
			return
		}
		c.Next()
	}
}
