package handlers

import (
	"embed"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/config"
	"github.com/example/nsfw-check/internal/metrics"
	"github.com/example/nsfw-check/internal/ratelimit"
	"github.com/example/nsfw-check/internal/usecase"
)

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-ID"

//go:embed static
var assets embed.FS

// Options collects the router's collaborators. Limiter and Metrics are optional.
type Options struct {
	Config  *config.Config
	Checker ImageChecker
	Limiter ratelimit.Limiter
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewRouter builds the Gin engine with middleware, the testing page and all routes.
func NewRouter(opts Options) (*gin.Engine, error) {
	cfg := opts.Config
	logger := opts.Logger

	corsCfg := corsConfig(cfg)
	if err := corsCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid CORS configuration: %w", err)
	}

	pages, err := static.EmbedFolder(assets, "static")
	if err != nil {
		return nil, fmt.Errorf("load static assets: %w", err)
	}

	router := gin.New()
	// ClientIP keys the rate limiter; forwarded headers only count from listed proxies.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(requestID())
	router.Use(accessLog(logger))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
	}
	router.Use(recovery(logger))
	router.Use(cors.New(corsCfg))
	router.Use(static.Serve("/", pages))
	router.StaticFS("/static", pages)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	var rateLimit gin.HandlerFunc
	if opts.Limiter != nil {
		rateLimit = ratelimit.Middleware(opts.Limiter, cfg.RateLimit, logger)
	}
	RegisterRoutes(router, NewHandler(opts.Checker, cfg.MaxFileSizeMB, cfg.RequestTimeout, logger), rateLimit)

	return router, nil
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowAllOrigins() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.CORSOrigins
		c.AllowCredentials = true
	}
	return c
}

// requestID reuses an incoming X-Request-ID or mints one, echoes it on the
// response and hands it to the pipeline through the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(usecase.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

func recovery(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("recovery")
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("panic while handling request",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	})
}
