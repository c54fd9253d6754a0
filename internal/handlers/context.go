package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge/chatbridge/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID extracts the authenticated user id placed by the auth middleware.
func currentUserID(c *gin.Context) string {
	value, ok := c.Get(middleware.CtxUserIDKey)
	if !ok {
		return ""
	}
	id, _ := value.(string)
	return id
}
