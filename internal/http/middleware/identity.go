package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderUserID carries the caller identity. Authentication lives in the
// upstream gateway; this service trusts the header it forwards.
const HeaderUserID = "X-User-ID"

const userIDKey = "labintel.user_id"

// RequireUser rejects requests without a usable identity header and stashes
// the parsed id for handlers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderUserID)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing " + HeaderUserID + " header", "code": "unauthorized"},
			})
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "malformed " + HeaderUserID + " header", "code": "unauthorized"},
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID reads the identity set by RequireUser. Nil means the route skipped
// the middleware.
func UserID(c *gin.Context) uuid.UUID {
	v, ok := c.Get(userIDKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
