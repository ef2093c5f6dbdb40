package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/imageprocessor"
	"github.com/example/nsfw-check/internal/logging"
	"github.com/example/nsfw-check/internal/moderation"
	"github.com/example/nsfw-check/internal/verdict"
)

// Moderator classifies a validated image. *moderation.Client satisfies it.
type Moderator interface {
	Moderate(ctx context.Context, requestID string, img *imageprocessor.Image) (*moderation.Outcome, error)
}

var errNoOutcome = errors.New("moderator returned no outcome")

type requestIDKey struct{}

// WithRequestID stores the request identifier used for log correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the stored identifier or a fresh one.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// ModerationUseCase runs one image through validation, classification and the
// verdict policy.
type ModerationUseCase struct {
	moderator Moderator
	recorder  Recorder
	logger    *zap.Logger
}

// NewModerationUseCase constructs a new use case instance. A nil recorder disables metrics.
func NewModerationUseCase(moderator Moderator, recorder Recorder, logger *zap.Logger) *ModerationUseCase {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ModerationUseCase{
		moderator: moderator,
		recorder:  recorder,
		logger:    logger.Named("moderation_usecase"),
	}
}

// CheckImage never fails: any error becomes an Error verdict carrying the
// failure message.
func (uc *ModerationUseCase) CheckImage(ctx context.Context, raw []byte) verdict.Verdict {
	requestID := RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.check_image", requestID)
	opLogger.Debug("image received", zap.String("stage", string(StageReceived)), zap.Int("bytes", len(raw)))

	img, err := imageprocessor.Validate(raw)
	if err != nil {
		return uc.fail(opLogger, newPipelineError(StageValidating, err))
	}
	opLogger.Debug("image validated",
		zap.String("stage", string(StageValidating)),
		zap.String("format", img.Format),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
	)

	start := time.Now()
	outcome, err := uc.moderator.Moderate(ctx, requestID, img)
	uc.recorder.ObserveClassifierLatency(time.Since(start))
	if err == nil && outcome == nil {
		err = errNoOutcome
	}
	if err != nil {
		return uc.fail(opLogger, newPipelineError(StageModerating, err))
	}
	if outcome.Fallback {
		uc.recorder.ObserveFallback()
	}

	v := verdict.Evaluate(outcome.Result)
	opLogger.Debug("policy applied", zap.String("stage", string(StagePolicyApplied)))

	uc.recorder.ObserveVerdict(string(v.Status))
	opLogger.Info("image moderated",
		zap.String("stage", string(StageResponded)),
		zap.String("status", string(v.Status)),
		zap.Float64("confidence", v.Confidence),
		zap.Bool("fallback", outcome.Fallback),
	)
	return v
}

func (uc *ModerationUseCase) fail(opLogger *zap.Logger, err *PipelineError) verdict.Verdict {
	uc.recorder.ObserveFailure(string(err.Kind))
	uc.recorder.ObserveVerdict(string(verdict.StatusError))

	fields := []zap.Field{
		zap.String("stage", string(err.Stage)),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err),
	}
	if err.Kind == KindValidation {
		opLogger.Warn("image rejected", fields...)
	} else {
		opLogger.Error("image moderation failed", fields...)
	}
	return verdict.Failed(err.Reason())
}

// DecodeBase64 decodes a standard base64 image payload. Line breaks are not
// part of the alphabet and are rejected.
func DecodeBase64(payload string) ([]byte, error) {
	if i := strings.IndexAny(payload, "\r\n"); i >= 0 {
		return nil, &PipelineError{Stage: StageReceived, Kind: KindDecode, Err: base64.CorruptInputError(i)}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &PipelineError{Stage: StageReceived, Kind: KindDecode, Err: err}
	}
	return raw, nil
}
