package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatbridge/chatbridge/internal/services"
	"github.com/chatbridge/chatbridge/internal/storage"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/response"
)

// maxVoiceUploadBytes caps voice clip uploads at 10 MiB.
const maxVoiceUploadBytes = 10 << 20

// MessageHandler exposes the direct-messaging REST surface.
type MessageHandler struct {
	messages *services.MessageService
	voice    storage.VoiceStore
}

// NewMessageHandler constructs the message handler.
func NewMessageHandler(messages *services.MessageService, voice storage.VoiceStore) *MessageHandler {
	return &MessageHandler{messages: messages, voice: voice}
}

type sendMessageRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content" validate:"max=4000"`
	Emoji       string `json:"emoji" validate:"max=16"`
}

// GET /Message/conversations
func (h *MessageHandler) Conversations(c *gin.Context) {
	conversations, err := h.messages.Conversations(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, conversations)
}

// GET /Message/:otherUserId
func (h *MessageHandler) History(c *gin.Context) {
	otherID := strings.TrimSpace(c.Param("otherUserId"))
	if otherID == "" {
		response.Error(c, apperrors.NewBadRequest("user id is required"))
		return
	}

	history, err := h.messages.History(requestContext(c), currentUserID(c), otherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

// POST /Message
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	message, err := h.messages.Send(requestContext(c), currentUserID(c), req.RecipientID, req.Content, req.Emoji)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, message)
}

// POST /Message/voice
//
// Multipart form: voiceFile (audio blob), recipientId, duration (seconds).
func (h *MessageHandler) SendVoice(c *gin.Context) {
	recipientID := strings.TrimSpace(c.PostForm("recipientId"))
	if recipientID == "" {
		response.Error(c, apperrors.NewBadRequest("recipientId is required"))
		return
	}

	duration, _ := strconv.Atoi(strings.TrimSpace(c.PostForm("duration")))

	fileHeader, err := c.FormFile("voiceFile")
	if err != nil {
		response.Error(c, apperrors.NewBadRequest("voiceFile is required"))
		return
	}
	if fileHeader.Size > maxVoiceUploadBytes {
		response.Error(c, apperrors.NewBadRequest("voice clip is too large"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	defer file.Close()

	voiceURL, err := h.voice.Save(fileHeader.Filename, file)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	message, err := h.messages.SendVoice(requestContext(c), currentUserID(c), recipientID, voiceURL, duration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, message)
}

// PUT /Message/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID := strings.TrimSpace(c.Param("id"))
	if messageID == "" {
		response.Error(c, apperrors.NewBadRequest("message id is required"))
		return
	}

	message, err := h.messages.MarkRead(requestContext(c), messageID, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, message)
}

// DELETE /Message/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID := strings.TrimSpace(c.Param("id"))
	if messageID == "" {
		response.Error(c, apperrors.NewBadRequest("message id is required"))
		return
	}

	if err := h.messages.Delete(requestContext(c), messageID, currentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /Message/unread-count
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	count, err := h.messages.UnreadCount(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unreadCount": count})
}
