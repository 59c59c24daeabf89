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

package resilience

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed AI provider call
type ErrorKind string

const (
	// KindConfiguration means the API key is missing or malformed
	KindConfiguration ErrorKind = "configuration"
	// KindAuthentication is an HTTP 401
	KindAuthentication ErrorKind = "authentication"
	// KindRateLimit is an HTTP 429
	KindRateLimit ErrorKind = "rate_limit"
	// KindAuthorization is an HTTP 403
	KindAuthorization ErrorKind = "authorization"
	// KindModelUnavailable is an HTTP 404 naming a model
	KindModelUnavailable ErrorKind = "model_unavailable"
	// KindUpstreamService is an HTTP 5xx or any other unexpected status
	KindUpstreamService ErrorKind = "upstream_service"
	// KindNetwork is a transport-level failure
	KindNetwork ErrorKind = "network"
	// KindMalformedResponse is a 2xx response missing the expected fields
	KindMalformedResponse ErrorKind = "malformed_response"
)

// DefaultAlternateModel is suggested when the configured model cannot be found
const DefaultAlternateModel = "gpt-4o-mini"

// AIError is the typed failure of a single provider call
type AIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Suggestion string
	Err        error
}

// Error implements the error interface
func (e *AIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *AIError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user when this error sends the
// orchestrator into fallback mode
func (e *AIError) UserMessage() string {
	var msg string
	switch e.Kind {
	case KindConfiguration:
		msg = "AI features are disabled: no valid OpenAI API key is configured. Showing sample insights instead."
	case KindAuthentication:
		msg = "The AI provider rejected the API key. Please check your API key."
	case KindRateLimit:
		msg = "The AI provider rate limit was reached. Please wait a moment and retry."
	case KindAuthorization:
		msg = "Access to the AI provider was denied. Please check your account permissions and billing."
	case KindModelUnavailable:
		msg = "The configured AI model is not available."
	case KindUpstreamService:
		msg = "The AI service is temporarily unavailable. Please try again later."
	case KindNetwork:
		msg = "Unable to reach the AI service. Please check your connection."
	case KindMalformedResponse:
		msg = "The AI service returned an unexpected response."
	default:
		msg = "The AI service failed."
	}
	if e.Suggestion != "" {
		msg += " " + e.Suggestion
	}
	return msg
}

// NewAIError creates an AIError of the given kind
func NewAIError(kind ErrorKind, statusCode int, message string, err error) *AIError {
	aiErr := &AIError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
	if kind == KindModelUnavailable {
		aiErr.Suggestion = fmt.Sprintf("Try setting the model to %q.", DefaultAlternateModel)
	}
	return aiErr
}

// ClassifyStatus maps a non-2xx HTTP status from the provider to an AIError
func ClassifyStatus(statusCode int, message string, err error) *AIError {
	switch {
	case statusCode == http.StatusUnauthorized:
		return NewAIError(KindAuthentication, statusCode, message, err)
	case statusCode == http.StatusTooManyRequests:
		return NewAIError(KindRateLimit, statusCode, message, err)
	case statusCode == http.StatusForbidden:
		return NewAIError(KindAuthorization, statusCode, message, err)
	case statusCode == http.StatusNotFound && strings.Contains(strings.ToLower(message), "model"):
		return NewAIError(KindModelUnavailable, statusCode, message, err)
	default:
		return NewAIError(KindUpstreamService, statusCode, message, err)
	}
}

// AsAIError reports whether err is, or wraps, an AIError
func AsAIError(err error) (*AIError, bool) {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr, true
	}
	return nil, false
}
