package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/barva88/trauck/internal/auditcontext"
	obscontext "github.com/barva88/trauck/internal/observability/context"
)

const userIDHeader = "X-User-ID"

// RequireUser extracts the authenticated user id forwarded by the
// platform gateway. This service trusts the header; authentication
// itself happens upstream.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(userIDHeader))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set("user_id", userID)

		ctx := c.Request.Context()
		ctx = obscontext.WithUserID(ctx, userID)
		ctx = auditcontext.WithActor(ctx, "user", raw)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) currentUser(c *gin.Context) int64 {
	return obscontext.UserIDFromGin(c)
}
