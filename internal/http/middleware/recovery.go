// README: Recovery middleware; a panicking handler or socket session becomes a logged 500.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func Recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.WithFields(logrus.Fields{
				"panic":  r,
				"method": c.Request.Method,
				"path":   c.FullPath(),
				"uid":    CallerUID(c),
				"stack":  string(debug.Stack()),
			}).Error("handler panic")
			if c.Writer.Written() {
				// upgraded sockets and partial responses cannot carry a status
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}()
		c.Next()
	}
}
