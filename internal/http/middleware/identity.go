package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// Identity resolves the authenticated user from the X-User-ID header set by
// the upstream authenticator. Authentication itself happens outside this
// service; requests that reach it without an identity are rejected.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Request.Header.Get("X-User-ID"))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthenticated",
				"error_description": "Missing or invalid user identity.",
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id stored by Identity.
func UserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}
