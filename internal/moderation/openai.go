package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const maxModerationResponseBytes = 1 << 20

// OpenAIAPI is the production API. Chat completions go through the SDK.
// Moderations are posted directly and the body is returned as received: the
// SDK's typed result only carries the categories it declares and zero-fills
// the rest.
type OpenAIAPI struct {
	sdk     *openai.Client
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewOpenAIAPI builds the API client, optionally against a non-default base URL.
func NewOpenAIAPI(apiKey, baseURL string) *OpenAIAPI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAPI{
		sdk:     openai.NewClientWithConfig(cfg),
		http:    &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  apiKey,
	}
}

// Moderations posts one moderation request and returns the raw response body.
// Non-2xx responses become *openai.APIError so callers can inspect the status.
func (a *OpenAIAPI) Moderations(ctx context.Context, request openai.ModerationRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/moderations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create moderation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxModerationResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read moderation response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// CreateChatCompletion delegates to the SDK.
func (a *OpenAIAPI) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return a.sdk.CreateChatCompletion(ctx, request)
}

// newAPIError reads the {"error":{"message":...}} envelope, falling back to
// the body text.
func newAPIError(status int, body []byte) *openai.APIError {
	envelope := gjson.ParseBytes(body).Get("error")
	message := envelope.Get("message").String()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &openai.APIError{
		HTTPStatusCode: status,
		Message:        message,
		Type:           envelope.Get("type").String(),
	}
}
