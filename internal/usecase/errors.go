package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sashabaranov/go-openai"

	"github.com/example/nsfw-check/internal/imageprocessor"
	"github.com/example/nsfw-check/internal/logging"
	"github.com/example/nsfw-check/internal/moderation"
)

// Stage marks how far a request got through the pipeline.
type Stage string

const (
	StageReceived      Stage = "received"
	StageValidating    Stage = "validating"
	StageModerating    Stage = "moderating"
	StagePolicyApplied Stage = "policy_applied"
	StageResponded     Stage = "responded"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindDecode          Kind = "decode"
	KindValidation      Kind = "validation"
	KindClassifier      Kind = "classifier"
	KindMalformedResult Kind = "malformed_result"
	KindInternal        Kind = "internal"
)

// PipelineError is the failure union surfaced by the pipeline.
type PipelineError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Reason is the message reported to callers. Operation wrappers are stripped.
func (e *PipelineError) Reason() string {
	err := e.Err
	var opErr *logging.OperationError
	if errors.As(err, &opErr) {
		err = opErr.Cause()
	}
	if err == nil {
		return string(e.Kind)
	}
	return err.Error()
}

func newPipelineError(stage Stage, err error) *PipelineError {
	return &PipelineError{Stage: stage, Kind: Classify(err), Err: err}
}

// Classify maps an error to its failure kind. Anything unrecognised is KindInternal.
func Classify(err error) Kind {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Kind
	}

	var validationErr *imageprocessor.ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}

	if errors.Is(err, moderation.ErrMalformedResult) {
		return KindMalformedResult
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr),
		errors.As(err, &reqErr),
		errors.As(err, &netErr),
		errors.Is(err, moderation.ErrEmptyDescription),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindClassifier
	}

	return KindInternal
}
