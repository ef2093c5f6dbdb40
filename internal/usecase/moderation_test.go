package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/imageprocessor"
	"github.com/example/nsfw-check/internal/logging"
	"github.com/example/nsfw-check/internal/moderation"
	"github.com/example/nsfw-check/internal/verdict"
)

type stubModerator struct {
	outcome    *moderation.Outcome
	err        error
	calls      int
	requestIDs []string
}

func (s *stubModerator) Moderate(ctx context.Context, requestID string, img *imageprocessor.Image) (*moderation.Outcome, error) {
	s.calls++
	s.requestIDs = append(s.requestIDs, requestID)
	if s.err != nil {
		return nil, s.err
	}
	return s.outcome, nil
}

type recordingRecorder struct {
	verdicts  []string
	failures  []string
	fallbacks int
	latencies int
}

func (r *recordingRecorder) ObserveVerdict(status string)           { r.verdicts = append(r.verdicts, status) }
func (r *recordingRecorder) ObserveFailure(kind string)             { r.failures = append(r.failures, kind) }
func (r *recordingRecorder) ObserveFallback()                       { r.fallbacks++ }
func (r *recordingRecorder) ObserveClassifierLatency(time.Duration) { r.latencies++ }

func whitePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCheckImageReturnsPolicyVerdict(t *testing.T) {
	mod := &stubModerator{outcome: &moderation.Outcome{Result: moderation.Result{
		Flagged:        true,
		Categories:     map[string]bool{"sexual": true},
		CategoryScores: map[string]float64{"sexual": 0.92},
	}}}
	rec := &recordingRecorder{}
	uc := NewModerationUseCase(mod, rec, zap.NewNop())

	ctx := WithRequestID(context.Background(), "req-123")
	v := uc.CheckImage(ctx, whitePNG(t))

	if v.Status != verdict.StatusNotSafe || v.Reason != verdict.ReasonSexual {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if v.Confidence != 0.92 {
		t.Fatalf("expected confidence 0.92, got %v", v.Confidence)
	}
	if len(mod.requestIDs) != 1 || mod.requestIDs[0] != "req-123" {
		t.Fatalf("expected request id to be propagated, got %v", mod.requestIDs)
	}
	if len(rec.verdicts) != 1 || rec.verdicts[0] != "Not Safe" {
		t.Fatalf("expected one Not Safe observation, got %v", rec.verdicts)
	}
	if rec.latencies != 1 {
		t.Fatalf("expected classifier latency to be observed once, got %d", rec.latencies)
	}
}

func TestCheckImageRecordsFallback(t *testing.T) {
	mod := &stubModerator{outcome: &moderation.Outcome{Fallback: true}}
	rec := &recordingRecorder{}
	uc := NewModerationUseCase(mod, rec, zap.NewNop())

	v := uc.CheckImage(context.Background(), whitePNG(t))
	if v.Status != verdict.StatusSafe {
		t.Fatalf("expected Safe, got %+v", v)
	}
	if rec.fallbacks != 1 {
		t.Fatalf("expected fallback to be recorded, got %d", rec.fallbacks)
	}
	if len(mod.requestIDs) != 1 || mod.requestIDs[0] == "" {
		t.Fatalf("expected a generated request id, got %v", mod.requestIDs)
	}
}

func TestCheckImageRejectsInvalidImageWithoutClassifierCall(t *testing.T) {
	mod := &stubModerator{}
	rec := &recordingRecorder{}
	uc := NewModerationUseCase(mod, rec, zap.NewNop())

	v := uc.CheckImage(context.Background(), []byte("definitely not an image"))

	if v.Status != verdict.StatusError {
		t.Fatalf("expected Error verdict, got %+v", v)
	}
	if v.Confidence != 0 || v.Categories == nil || v.CategoryScores == nil {
		t.Fatalf("expected zero confidence and empty maps, got %+v", v)
	}
	if mod.calls != 0 {
		t.Fatalf("expected no classifier call, got %d", mod.calls)
	}
	if len(rec.failures) != 1 || rec.failures[0] != string(KindValidation) {
		t.Fatalf("expected validation failure, got %v", rec.failures)
	}
}

func TestCheckImageSurfacesClassifierMessage(t *testing.T) {
	cause := errors.New("upstream exploded")
	mod := &stubModerator{err: logging.NewOperationError("moderation.moderate", "req-1", cause)}
	rec := &recordingRecorder{}
	uc := NewModerationUseCase(mod, rec, zap.NewNop())

	v := uc.CheckImage(context.Background(), whitePNG(t))

	if v.Status != verdict.StatusError {
		t.Fatalf("expected Error verdict, got %+v", v)
	}
	if v.Reason != "upstream exploded" {
		t.Fatalf("expected reason without operation prefix, got %q", v.Reason)
	}
	if len(rec.failures) != 1 || rec.failures[0] != string(KindInternal) {
		t.Fatalf("expected internal failure kind, got %v", rec.failures)
	}
}

func TestCheckImageHandlesMissingOutcome(t *testing.T) {
	uc := NewModerationUseCase(&stubModerator{}, nil, zap.NewNop())

	v := uc.CheckImage(context.Background(), whitePNG(t))
	if v.Status != verdict.StatusError || v.Reason != errNoOutcome.Error() {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestClassify(t *testing.T) {
	_, invalidImage := imageprocessor.Validate([]byte("nope"))

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "validation", err: invalidImage, want: KindValidation},
		{name: "malformed", err: fmt.Errorf("%w: empty", moderation.ErrMalformedResult), want: KindMalformedResult},
		{name: "api error", err: logging.NewOperationError("moderation.moderate", "r", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}), want: KindClassifier},
		{name: "timeout", err: context.DeadlineExceeded, want: KindClassifier},
		{name: "empty description", err: moderation.ErrEmptyDescription, want: KindClassifier},
		{name: "pipeline error keeps kind", err: &PipelineError{Stage: StageReceived, Kind: KindDecode, Err: errors.New("x")}, want: KindDecode},
		{name: "bare base64 error", err: base64.CorruptInputError(3), want: KindInternal},
		{name: "unknown", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestDecodeBase64(t *testing.T) {
	payload := whitePNG(t)

	raw, err := DecodeBase64(base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !bytes.Equal(raw, payload) {
		t.Fatal("decoded bytes differ from input")
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	for _, bad := range []string{
		"not base64 at all!",
		encoded[:8] + "\n" + encoded[8:],
		encoded[:8] + "\r\n" + encoded[8:],
		encoded + "\n",
	} {
		_, err = DecodeBase64(bad)
		var pipeErr *PipelineError
		if !errors.As(err, &pipeErr) {
			t.Fatalf("DecodeBase64(%q): expected PipelineError, got %T", bad, err)
		}
		if pipeErr.Kind != KindDecode || Classify(err) != KindDecode {
			t.Fatalf("DecodeBase64(%q): expected decode kind, got %s", bad, pipeErr.Kind)
		}
	}
}
