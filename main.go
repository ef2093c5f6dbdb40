package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/config"
	"github.com/example/nsfw-check/internal/handlers"
	"github.com/example/nsfw-check/internal/logging"
	"github.com/example/nsfw-check/internal/metrics"
	"github.com/example/nsfw-check/internal/moderation"
	"github.com/example/nsfw-check/internal/ratelimit"
	"github.com/example/nsfw-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := moderation.NewClient(
		moderation.NewOpenAIAPI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		moderation.Options{
			ModerationModel:      cfg.ModerationModel,
			VisionModel:          cfg.VisionModel,
			DescriptionMaxTokens: cfg.DescriptionMaxTokens,
		},
		logger,
	)
	collector := metrics.NewCollector("nsfw_check", logger)
	uc := usecase.NewModerationUseCase(client, collector, logger)

	limiter, closeLimiter := initLimiter(ctx, cfg, logger)
	defer closeLimiter()

	router, err := handlers.NewRouter(handlers.Options{
		Config:  cfg,
		Checker: uc,
		Limiter: limiter,
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	logger.Info("nsfw-check listening",
		zap.String("addr", server.Addr),
		zap.Int("max_file_size_mb", cfg.MaxFileSizeMB),
		zap.String("rate_limit", cfg.RateLimit.String()),
		zap.Bool("redis_rate_limit", cfg.RedisAddr != ""),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initLimiter uses Redis when REDIS_ADDR is set so replicas share one quota,
// and an in-process limiter otherwise.
func initLimiter(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (ratelimit.Limiter, func()) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(ctx, cfg.RateLimit), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimit)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := limiter.Ping(pingCtx); err != nil {
		zapLogger.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return limiter, func() { _ = client.Close() }
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
