package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/utils"
)

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		fields := logrus.Fields{
			"method":    c.Request.Method,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
			"path":      path,
		}
		if len(c.Errors) > 0 {
			utils.ErrorLogger.WithFields(fields).Warn(c.Errors.String())
			return
		}
		// scrapes and health checks are noisy at info level
		if c.FullPath() == "/metrics" || c.FullPath() == "/ping" {
			utils.InfoLogger.WithFields(fields).Debug("request")
			return
		}
		utils.InfoLogger.WithFields(fields).Info("request")
	}
}
