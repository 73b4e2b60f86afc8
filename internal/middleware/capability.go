package middleware

import (
	"net/http"
	"time"

	"taskflow/backend/internal/authz"

	"github.com/gin-gonic/gin"
)

// RequireCapability lets the request through only when the session's view
// grants capability. Every decision goes to the auditor when one is set.
func RequireCapability(capability authz.Capability, auditor *authz.Auditor) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := SessionFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_session",
				"message": "Authentication is required",
			})
			return
		}

		allowed := session.Can(capability)
		if auditor != nil {
			reason := "granted by " + string(session.Role()) + " view"
			if !allowed {
				reason = "not granted to " + string(session.Role()) + " view"
			}
			auditor.Record(authz.Decision{
				Session:    session,
				Capability: capability,
				ResourceID: c.Param("id"),
				Allowed:    allowed,
				Reason:     reason,
				IPAddress:  c.ClientIP(),
				UserAgent:  c.GetHeader("User-Agent"),
				Method:     c.Request.Method,
				Path:       c.Request.URL.Path,
				At:         time.Now(),
			})
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "missing_capability",
				"message": "Session does not have required capability: " + string(capability),
			})
			return
		}
		c.Next()
	}
}
