package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/internal/realtime"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/response"
)

// UsersHandler lists chat contacts with their presence state.
type UsersHandler struct {
	db  *gorm.DB
	hub *realtime.Hub
}

// NewUsersHandler constructs the users handler.
func NewUsersHandler(db *gorm.DB, hub *realtime.Hub) *UsersHandler {
	return &UsersHandler{db: db, hub: hub}
}

type contactResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// GET /Users
//
// Returns every other user as a potential conversation partner. Banned users
// stay listed; existing conversations with them remain readable.
func (h *UsersHandler) List(c *gin.Context) {
	var users []models.User
	err := h.db.WithContext(requestContext(c)).
		Where("id <> ?", currentUserID(c)).
		Order("username ASC").
		Find(&users).Error
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	contacts := make([]contactResponse, 0, len(users))
	for i := range users {
		user := &users[i]
		contacts = append(contacts, contactResponse{
			ID:       user.ID,
			Username: user.Username,
			Avatar:   user.Avatar,
			IsOnline: h.hub.IsOnline(user.ID),
		})
	}
	response.Success(c, http.StatusOK, contacts)
}

// GET /Users/:id
func (h *UsersHandler) Get(c *gin.Context) {
	var user models.User
	err := h.db.WithContext(requestContext(c)).
		Where("id = ?", c.Param("id")).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.Error(c, apperrors.ErrNotFound.WithMessage("user not found"))
			return
		}
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, contactResponse{
		ID:       user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		IsOnline: h.hub.IsOnline(user.ID),
	})
}
