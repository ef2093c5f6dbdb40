package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/example/nsfw-check/internal/imageprocessor"
	"github.com/example/nsfw-check/internal/logging"
)

const (
	describeSystemPrompt = "You are a content moderation assistant. Describe images factually and neutrally, without speculation."
	describeUserPrompt   = "Provide an objective description of this image."
)

// ErrEmptyDescription is returned when the vision model produced no choices.
var ErrEmptyDescription = errors.New("vision model returned no description")

// API is the subset of the OpenAI API the client depends on. *OpenAIAPI satisfies it.
// Moderations returns the response body undecoded.
type API interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (json.RawMessage, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options selects the upstream models.
type Options struct {
	ModerationModel      string
	VisionModel          string
	DescriptionMaxTokens int
}

// Outcome is a normalised result plus how it was obtained.
type Outcome struct {
	Result Result
	// Fallback is set when the image was moderated through a text description.
	Fallback bool
}

// Client moderates validated images.
type Client struct {
	api    API
	opts   Options
	logger *zap.Logger
}

// NewClient constructs a moderation client.
func NewClient(api API, opts Options, logger *zap.Logger) *Client {
	return &Client{
		api:    api,
		opts:   opts,
		logger: logger.Named("moderation_client"),
	}
}

// Moderate submits the image as a data URI. When the classifier refuses image
// input, the image is described by the vision model and the description is
// moderated instead. Other classifier errors are returned as is.
func (c *Client) Moderate(ctx context.Context, requestID string, img *imageprocessor.Image) (*Outcome, error) {
	opLogger := logging.WithOperation(c.logger, "moderation.moderate", requestID)
	dataURI := img.DataURI()

	res, err := c.classify(ctx, dataURI)
	if err == nil {
		return &Outcome{Result: res}, nil
	}
	if !IsUnsupportedInput(err) {
		wrapped := logging.NewOperationError("moderation.moderate", requestID, err)
		opLogger.Error("moderation call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Warn("image input rejected by classifier, moderating a description instead",
		zap.Error(err),
		zap.String("format", img.Format),
		zap.Int("bytes", img.Size()),
	)

	description, err := c.describe(ctx, dataURI)
	if err != nil {
		wrapped := logging.NewOperationError("moderation.describe", requestID, err)
		opLogger.Error("image description failed", zap.Error(wrapped))
		return nil, wrapped
	}

	res, err = c.classify(ctx, description)
	if err != nil {
		wrapped := logging.NewOperationError("moderation.moderate_description", requestID, err)
		opLogger.Error("description moderation failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return &Outcome{Result: res, Fallback: true}, nil
}

func (c *Client) classify(ctx context.Context, input string) (Result, error) {
	raw, err := c.api.Moderations(ctx, openai.ModerationRequest{
		Model: c.opts.ModerationModel,
		Input: input,
	})
	if err != nil {
		return Result{}, err
	}
	return Normalize(raw)
}

func (c *Client) describe(ctx context.Context, dataURI string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.opts.VisionModel,
		MaxTokens: c.opts.DescriptionMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: describeSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: describeUserPrompt,
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI},
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyDescription
	}
	return resp.Choices[0].Message.Content, nil
}

// IsUnsupportedInput reports whether err is the classifier rejecting image input.
//
// The match is on a 400 response whose message mentions "invalid input" or
// "image". It depends on upstream wording; keep all knowledge of it here.
func IsUnsupportedInput(err error) bool {
	status, message := badRequestDetails(err)
	if status != http.StatusBadRequest {
		return false
	}
	message = strings.ToLower(message)
	return strings.Contains(message, "invalid input") || strings.Contains(message, "image")
}

func badRequestDetails(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.Error()
	}
	return 0, ""
}
