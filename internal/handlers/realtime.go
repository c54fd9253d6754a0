package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/realtime"
	"github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub      *realtime.Hub
	jwt      *iauth.JWTService
	sessions *iauth.SessionService
}

// NewRealtimeHandler constructs the realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService, sessions *iauth.SessionService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt, sessions: sessions}
}

// Connect validates the caller and hands the request to the hub. Browsers
// cannot set headers on WebSocket dials, so the token is usually carried in
// the query string.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	// The session lookup also stamps activity, so a connected client keeps
	// its session fresh.
	if _, err := h.sessions.ValidateAccessToken(token); err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}
