// Package ratelimit enforces the per-client request quota on the moderation
// endpoints.
package ratelimit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/config"
)

// Limiter decides whether the client identified by key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Middleware rejects requests over quota with 429. Limiter errors let the
// request through.
func Middleware(limiter Limiter, quota config.RateLimit, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("ratelimit")
	message := "Rate limit exceeded: " + quota.String()

	return func(c *gin.Context) {
		key := c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("client_ip", key), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			logger.Info("rate limit exceeded", zap.String("client_ip", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
			return
		}
		c.Next()
	}
}
