package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"lawchat-backend/models"

	"github.com/gin-gonic/gin"
)

const (
	sampleArticleCount = 5
	pingTimeout        = 10 * time.Second
)

// ArticleIndex is the read side of the ranking engine used for diagnostics
type ArticleIndex interface {
	Size() int
	Search(query string, limit int) []models.Article
}

// ProviderChecker reports on the configured LLM provider
type ProviderChecker interface {
	ProviderName() string
	Ping(ctx context.Context) error
}

// DiagnosticsHandler serves the health and test endpoints
type DiagnosticsHandler struct {
	index    ArticleIndex
	provider ProviderChecker
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(index ArticleIndex, provider ProviderChecker) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		index:    index,
		provider: provider,
	}
}

// Health handles GET /health
func (h *DiagnosticsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Test handles GET /api/test
func (h *DiagnosticsHandler) Test(c *gin.Context) {
	sample := h.index.Search("", sampleArticleCount)
	numbers := make([]int, len(sample))
	for i, a := range sample {
		numbers[i] = a.Number
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"articleCount":   h.index.Size(),
		"provider":       h.provider.ProviderName(),
		"sampleArticles": numbers,
	})
}

// TestKey handles GET /api/test-key
func (h *DiagnosticsHandler) TestKey(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	name := h.provider.ProviderName()
	if err := h.provider.Ping(ctx); err != nil {
		slog.Warn("provider ping failed", "provider", name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"status":   "error",
			"provider": name,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"provider": name,
	})
}
