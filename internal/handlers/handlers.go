package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/usecase"
	"github.com/example/nsfw-check/internal/verdict"
)

// multipartOverhead is headroom above the file ceiling for form boundaries and
// JSON framing.
const multipartOverhead = 1 << 20

// ImageChecker runs the moderation pipeline. *usecase.ModerationUseCase satisfies it.
type ImageChecker interface {
	CheckImage(ctx context.Context, raw []byte) verdict.Verdict
}

type base64Request struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
}

// Handler serves the moderation endpoints.
type Handler struct {
	checker        ImageChecker
	maxBytes       int64
	maxMB          int
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler constructs the endpoint handlers. maxMB is the per-image ceiling.
func NewHandler(checker ImageChecker, maxMB int, requestTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		checker:        checker,
		maxBytes:       int64(maxMB) << 20,
		maxMB:          maxMB,
		requestTimeout: requestTimeout,
		logger:         logger.Named("handlers"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. rateLimit guards
// the moderation endpoints only.
func RegisterRoutes(router *gin.Engine, h *Handler, rateLimit gin.HandlerFunc) {
	router.GET("/health", h.health)

	limited := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		if rateLimit == nil {
			return []gin.HandlerFunc{handler}
		}
		return []gin.HandlerFunc{rateLimit, handler}
	}
	router.POST("/check-image", limited(h.checkImage)...)
	router.POST("/check-image-base64", limited(h.checkImageBase64)...)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) checkImage(c *gin.Context) {
	if !h.limitBody(c) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		respondDetail(c, http.StatusUnprocessableEntity, "Field required: file")
		return
	}

	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		respondDetail(c, http.StatusBadRequest, "File must be an image")
		return
	}
	if file.Size > h.maxBytes {
		h.tooLarge(c)
		return
	}

	src, err := file.Open()
	if err != nil {
		respondDetail(c, http.StatusBadRequest, "Unable to open uploaded file")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		h.logger.Error("failed to read upload", zap.Error(err))
		respondDetail(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.tooLarge(c)
		return
	}

	h.respondVerdict(c, data)
}

func (h *Handler) checkImageBase64(c *gin.Context) {
	if !h.limitBody(c) {
		return
	}

	var req base64Request
	if err := c.ShouldBindJSON(&req); err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		respondDetail(c, http.StatusUnprocessableEntity, "Field required: image_base64")
		return
	}

	data, err := usecase.DecodeBase64(req.ImageBase64)
	if err != nil {
		respondDetail(c, http.StatusBadRequest, "Invalid base64 image payload")
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.tooLarge(c)
		return
	}

	h.respondVerdict(c, data)
}

func (h *Handler) respondVerdict(c *gin.Context, data []byte) {
	ctx := c.Request.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}
	c.JSON(http.StatusOK, h.checker.CheckImage(ctx, data))
}

// limitBody caps how much of the request body is read. Base64 inflates the
// payload by a third, so the cap is twice the image ceiling plus overhead.
func (h *Handler) limitBody(c *gin.Context) bool {
	limit := 2*h.maxBytes + multipartOverhead
	if c.Request.ContentLength > limit {
		h.tooLarge(c)
		return false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return true
}

func (h *Handler) tooLarge(c *gin.Context) {
	respondDetail(c, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File size exceeds maximum allowed size of %dMB", h.maxMB))
}

func respondDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
