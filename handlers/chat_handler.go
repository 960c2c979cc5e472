package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"lawchat-backend/models"
	"lawchat-backend/observability"
	"lawchat-backend/service"

	"github.com/gin-gonic/gin"
)

// MaxRequestBodyBytes bounds POST /api/chat/stream bodies. 50 messages of
// 5000 characters fit comfortably.
const MaxRequestBodyBytes = 2 << 20

// ChatHandler handles the streaming chat endpoint
type ChatHandler struct {
	chatService *service.ChatService
	metrics     *observability.Metrics
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, metrics *observability.Metrics) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		metrics:     metrics,
	}
}

// StreamChat handles POST /api/chat/stream
func (h *ChatHandler) StreamChat(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.Rejected("validation")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrInvalidJSON.Reason})
		return
	}

	req, err := models.ParseChatRequest(body)
	if err != nil {
		h.metrics.Rejected("validation")
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Reason})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.Ready(); err != nil {
		slog.Error("chat service not ready", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Chat service is not configured"})
		return
	}

	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("streaming unsupported", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	result := h.chatService.Stream(c.Request.Context(), req, sse)
	if result.Err != nil && result.Outcome != service.OutcomeClientGone {
		slog.Warn("chat stream ended with error",
			"session_id", result.SessionID,
			"outcome", result.Outcome,
			"error", result.Err,
		)
	}
}
