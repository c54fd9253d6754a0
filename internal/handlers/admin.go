package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/internal/services"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/response"
)

// AdminHandler exposes moderation endpoints. All routes require the admin role.
type AdminHandler struct {
	db    *gorm.DB
	admin *services.AdminService
}

// NewAdminHandler constructs the admin handler.
func NewAdminHandler(db *gorm.DB, admin *services.AdminService) *AdminHandler {
	return &AdminHandler{db: db, admin: admin}
}

type banRequest struct {
	Reason      string     `json:"reason" validate:"max=500"`
	IsPermanent bool       `json:"isPermanent"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type adminUserResponse struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	Role           string     `json:"role"`
	IsBanned       bool       `json:"isBanned"`
	BanReason      string     `json:"banReason,omitempty"`
	IsPermanentBan bool       `json:"isPermanentBan,omitempty"`
	BanExpiresAt   *time.Time `json:"banExpiresAt,omitempty"`
	LastActiveAt   *time.Time `json:"lastActiveAt,omitempty"`
}

// GET /Admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.WithContext(requestContext(c)).Order("username ASC").Find(&users).Error; err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	payload := make([]adminUserResponse, 0, len(users))
	for i := range users {
		user := &users[i]
		payload = append(payload, adminUserResponse{
			ID:             user.ID,
			Username:       user.Username,
			Email:          user.Email,
			Role:           user.Role,
			IsBanned:       user.IsBanned,
			BanReason:      user.BanReason,
			IsPermanentBan: user.IsPermanentBan,
			BanExpiresAt:   user.BanExpiresAt,
			LastActiveAt:   user.LastActiveAt,
		})
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /Admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		response.Error(c, apperrors.NewBadRequest("user id is required"))
		return
	}

	var req banRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.admin.Ban(requestContext(c), userID, req.Reason, req.IsPermanent, req.ExpiresAt); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"banned": true})
}

// POST /Admin/users/:id/unban
func (h *AdminHandler) UnbanUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		response.Error(c, apperrors.NewBadRequest("user id is required"))
		return
	}

	if err := h.admin.Unban(requestContext(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"banned": false})
}
