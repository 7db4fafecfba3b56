package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
)

// AuditSink accepts fire-and-forget audit entries.
type AuditSink interface {
	Record(entry models.AuditLog)
}

// Audit records an audit entry after each successful request on the wrapped
// route. Entries go through the async sink and never block the response.
func Audit(sink AuditSink, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if sink == nil || c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if claims := CurrentUser(c); claims != nil {
			userID = &claims.UserID
		}

		body, _ := json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		sink.Record(models.AuditLog{
			UserID:    userID,
			Action:    action,
			Resource:  resource,
			NewValues: body,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
	}
}
