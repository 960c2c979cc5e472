package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"lawchat-backend/observability"
	"lawchat-backend/ratelimit"

	"github.com/gin-gonic/gin"
)

// Admitter decides whether a client may open another stream
type Admitter interface {
	Admit(clientKey string) ratelimit.Decision
}

// RateLimit rejects clients that exceed their window with 429 and a retry hint.
// Clients are keyed by c.ClientIP(); build the engine with NewEngine so
// forwarding headers count only when they come from a trusted proxy.
func RateLimit(limiter Admitter, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := limiter.Admit(c.ClientIP())
		if decision.Allowed {
			c.Next()
			return
		}

		metrics.Rejected("rate_limit")
		slog.Info("rate limit exceeded", "path", c.FullPath(), "retry_after", decision.RetryAfterSeconds)

		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "Too many requests, please try again later.",
			"retryAfter": decision.RetryAfterSeconds,
		})
	}
}
