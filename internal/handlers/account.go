package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/internal/services"
	"github.com/chatbridge/chatbridge/pkg/crypto"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/metrics"
	"github.com/chatbridge/chatbridge/pkg/response"
)

// AccountHandler manages registration, login, token refresh, and logout.
type AccountHandler struct {
	db                  *gorm.DB
	sessions            *iauth.SessionService
	admin               *services.AdminService
	registrationEnabled bool
}

// NewAccountHandler constructs the account handler.
func NewAccountHandler(db *gorm.DB, sessions *iauth.SessionService, admin *services.AdminService, registrationEnabled bool) *AccountHandler {
	return &AccountHandler{
		db:                  db,
		sessions:            sessions,
		admin:               admin,
		registrationEnabled: registrationEnabled,
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role"`
}

// POST /Account/Register
func (h *AccountHandler) Register(c *gin.Context) {
	if !h.registrationEnabled {
		response.Error(c, apperrors.ErrForbidden.WithMessage("registration is disabled"))
		return
	}

	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var existing int64
	err := h.db.WithContext(requestContext(c)).
		Model(&models.User{}).
		Where("username = ? OR email = ?", req.Username, req.Email).
		Count(&existing).Error
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	if existing > 0 {
		response.Error(c, apperrors.ErrConflict.WithMessage("username or email already taken"))
		return
	}

	hashed, err := crypto.HashPassword(req.Password)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Password: hashed,
		Role:     models.RoleUser,
	}
	if err := h.db.WithContext(requestContext(c)).Create(user).Error; err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	pair, _, err := h.sessions.CreateSession(user, h.sessionMetadata(c))
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"user":         toUserResponse(user),
	})
}

// POST /Account/Login
func (h *AccountHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	identifier := strings.TrimSpace(req.Username)

	var user models.User
	err := h.db.WithContext(requestContext(c)).
		Where("username = ? OR email = ?", identifier, strings.ToLower(identifier)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	if !crypto.VerifyPassword(user.Password, req.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	}

	// An expired temporary ban is lifted during the check.
	notice, err := h.admin.CheckBan(requestContext(c), user.ID)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	if notice != nil {
		metrics.AuthAttempts.WithLabelValues("banned").Inc()
		response.Error(c, apperrors.ErrBanned.WithMessage(notice.Message))
		return
	}

	pair, _, err := h.sessions.CreateSession(&user, h.sessionMetadata(c))
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"user":         toUserResponse(&user),
	})
}

// POST /Account/RefreshToken
func (h *AccountHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(strings.TrimSpace(req.RefreshToken))
	if err != nil {
		// Expired, revoked, and unknown tokens all read the same to the caller.
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// POST /Account/Logout
func (h *AccountHandler) Logout(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	// Logging out ends every session of the user, on all devices.
	if err := h.sessions.InvalidateUserSessions(userID); err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"loggedOut": true})
}

// GET /Account/CheckBanStatus/:userId
func (h *AccountHandler) CheckBanStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		response.Error(c, apperrors.NewBadRequest("user id is required"))
		return
	}

	notice, err := h.admin.CheckBan(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if notice == nil {
		response.Success(c, http.StatusOK, gin.H{"isBanned": false})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"isBanned":    true,
		"message":     notice.Message,
		"isPermanent": notice.IsPermanent,
		"expiresAt":   notice.ExpiresAt,
	})
}

func (h *AccountHandler) sessionMetadata(c *gin.Context) iauth.SessionMetadata {
	return iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func toUserResponse(user *models.User) userResponse {
	return userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Avatar:   user.Avatar,
		Role:     user.Role,
	}
}
