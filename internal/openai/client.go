// Copyright 2024 CarbonAI Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/resilience"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = openai.GPT4
	// DefaultBaseURL is the public OpenAI endpoint root
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTemperature is the sampling temperature used when none is configured
	DefaultTemperature = 0.7
	// DefaultMaxTokens caps the response length when none is configured
	DefaultMaxTokens = 1000
	// APIKeyPrefix is the required prefix of a well-formed key
	APIKeyPrefix = "sk-"
	// MinAPIKeyLength is the minimum length of a well-formed key
	MinAPIKeyLength = 20
)

var (
	// ErrMissingAPIKey is returned by ValidateAPIKey for an empty key
	ErrMissingAPIKey = errors.New("API key is required")
	// ErrInvalidAPIKey is returned by ValidateAPIKey for a malformed key
	ErrInvalidAPIKey = errors.New("invalid API key format")
)

// ValidateAPIKey checks key presence and format without calling the provider
func ValidateAPIKey(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(apiKey, APIKeyPrefix) || len(apiKey) < MinAPIKeyLength {
		return ErrInvalidAPIKey
	}
	return nil
}

// Config configures a Client
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	// HTTPClient replaces the transport, mainly for tests
	HTTPClient *http.Client
}

// Client wraps the go-openai client and maps every failure to a
// *resilience.AIError
type Client struct {
	client      *openai.Client
	logger      *zap.Logger
	model       string
	temperature float32
	maxTokens   int
}

// Message is a single chat message
type Message = openai.ChatCompletionMessage

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	Model       string
}

// ChatCompletionResponse represents the response from a chat completion
type ChatCompletionResponse struct {
	Content      string
	FinishReason string
	Usage        openai.Usage
}

// NewClient creates a chat completion client. The key is validated locally;
// construction never contacts the provider.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateAPIKey(cfg.APIKey); err != nil {
		return nil, resilience.NewAIError(resilience.KindConfiguration, 0, err.Error(), err)
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	c := &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		logger:      logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}

	c.logger.Info("OpenAI client initialized",
		zap.String("base_url", clientConfig.BaseURL),
		zap.String("model", c.model),
		zap.Int("max_tokens", c.maxTokens),
	)

	return c, nil
}

// Model returns the configured model
func (c *Client) Model() string {
	return c.model
}

// CreateChatCompletion performs a single chat completion attempt. Any failure
// is returned as a *resilience.AIError; a response without choices is a
// malformed response.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = c.temperature
	}

	c.logger.Debug("Creating chat completion",
		zap.String("model", req.Model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", float64(req.Temperature)),
		zap.Int("message_count", len(req.Messages)),
	)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		aiErr := c.handleAPIError(err)
		c.logger.Warn("Chat completion failed",
			zap.String("kind", string(aiErr.Kind)),
			zap.Int("status_code", aiErr.StatusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, aiErr
	}

	if len(resp.Choices) == 0 {
		return nil, resilience.NewAIError(resilience.KindMalformedResponse, http.StatusOK,
			"no choices returned from OpenAI", nil)
	}

	c.logger.Debug("Chat completion successful",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return &ChatCompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        resp.Usage,
	}, nil
}

// handleAPIError maps a go-openai error onto the AI error taxonomy
func (c *Client) handleAPIError(err error) *resilience.AIError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ClassifyStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return resilience.ClassifyStatus(reqErr.HTTPStatusCode, message, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return resilience.NewAIError(resilience.KindMalformedResponse, http.StatusOK,
			"response body is not valid JSON", err)
	}

	return resilience.NewAIError(resilience.KindNetwork, 0, err.Error(), err)
}

// SystemMessage builds a system chat message
func SystemMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleSystem, Content: content}
}

// UserMessage builds a user chat message
func UserMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleUser, Content: content}
}

// truncateText truncates text to a maximum length for logging
func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}

// Preview returns a log-safe prefix of a response
func Preview(content string) string {
	return truncateText(fmt.Sprintf("%q", content), 200)
}
