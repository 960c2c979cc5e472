package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewEngine creates a gin engine that only honors forwarding headers from
// trustedProxies. With none configured, ClientIP is the connection's
// RemoteAddr, so clients cannot pick their own rate-limit key.
func NewEngine(trustedProxies []string, middleware ...gin.HandlerFunc) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	r.Use(middleware...)
	return r, nil
}

// Routes groups the handlers mounted by NewRouter
type Routes struct {
	Chat        *ChatHandler
	Diagnostics *DiagnosticsHandler
	Limiter     gin.HandlerFunc
	Metrics     http.Handler // nil disables /metrics
}

// Register mounts every route on r
func (rt Routes) Register(r *gin.Engine) {
	r.GET("/health", rt.Diagnostics.Health)
	if rt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.Metrics))
	}

	api := r.Group("/api")
	{
		// Chat endpoints
		if rt.Limiter != nil {
			api.POST("/chat/stream", rt.Limiter, rt.Chat.StreamChat)
		} else {
			api.POST("/chat/stream", rt.Chat.StreamChat)
		}

		// Diagnostics
		api.GET("/test", rt.Diagnostics.Test)
		api.GET("/test-key", rt.Diagnostics.TestKey)
	}
}
