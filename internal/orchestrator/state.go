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

package orchestrator

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/openai"
	"github.com/your-org/carbonai/internal/resilience"
)

// KeyStatus describes the configured API key together with the fallback state
type KeyStatus string

const (
	// KeyMissing means no API key is configured
	KeyMissing KeyStatus = "missing"
	// KeyInvalidFormat means the key fails prefix or length validation
	KeyInvalidFormat KeyStatus = "invalid_format"
	// KeyValidButUnavailable means the key is well-formed but fallback is active
	KeyValidButUnavailable KeyStatus = "valid_but_unavailable"
	// KeyValidAndWorking means the key is well-formed and live calls are enabled
	KeyValidAndWorking KeyStatus = "valid_and_working"
)

// Message returns a user-facing description of the status
func (s KeyStatus) Message() string {
	switch s {
	case KeyMissing:
		return "No OpenAI API key is configured. AI features show sample insights."
	case KeyInvalidFormat:
		return "The OpenAI API key is not in the expected format. AI features show sample insights."
	case KeyValidButUnavailable:
		return "The AI service is unavailable. Showing sample insights until AI mode is reset."
	case KeyValidAndWorking:
		return "AI features are enabled."
	default:
		return "Unknown AI status."
	}
}

// DeriveKeyStatus maps key presence, key format and the fallback flag to a
// KeyStatus. It depends on nothing else.
func DeriveKeyStatus(apiKey string, fallbackActive bool) KeyStatus {
	switch err := openai.ValidateAPIKey(apiKey); {
	case errors.Is(err, openai.ErrMissingAPIKey):
		return KeyMissing
	case err != nil:
		return KeyInvalidFormat
	case fallbackActive:
		return KeyValidButUnavailable
	default:
		return KeyValidAndWorking
	}
}

// Snapshot is a point-in-time copy of the orchestrator state
type Snapshot struct {
	FallbackActive       bool
	LastErrorMessage     string
	LastErrorKind        resilience.ErrorKind
	LastRequestTimestamp time.Time
	APIKeyValid          bool
	Trips                int
	Resets               int
}

// State is owned by a single Orchestrator. It wraps the fallback latch and
// holds the rate-limit timestamp shared with the serial queue.
type State struct {
	latch       *resilience.Latch
	apiKeyValid bool

	mu            sync.Mutex
	lastRequest   time.Time
	lastErrorKind resilience.ErrorKind
}

// NewState creates the state for a key. A key that fails validation starts in
// fallback.
func NewState(apiKey string, onChange func(from, to resilience.LatchState, reason string), logger *zap.Logger) *State {
	s := &State{apiKeyValid: openai.ValidateAPIKey(apiKey) == nil}

	cfg := resilience.LatchConfig{
		Name:          "openai",
		OnStateChange: onChange,
	}
	if !s.apiKeyValid {
		configErr := resilience.NewAIError(resilience.KindConfiguration, 0, "API key missing or malformed", nil)
		cfg.InitialState = resilience.LatchFallback
		cfg.InitialReason = configErr.UserMessage()
		s.lastErrorKind = resilience.KindConfiguration
	}
	s.latch = resilience.NewLatch(cfg, logger)

	return s
}

// FallbackActive reports whether provider calls are suppressed
func (s *State) FallbackActive() bool {
	return s.latch.Open()
}

// APIKeyValid reports whether the configured key passed format validation
func (s *State) APIKeyValid() bool {
	return s.apiKeyValid
}

// Fail latches fallback mode for err and reports whether this call caused the
// transition
func (s *State) Fail(err *resilience.AIError) bool {
	s.mu.Lock()
	s.lastErrorKind = err.Kind
	s.mu.Unlock()
	return s.latch.Trip(err.UserMessage())
}

// Reset leaves fallback mode. A state whose key failed validation stays in
// fallback and Reset returns false.
func (s *State) Reset() bool {
	if !s.apiKeyValid {
		return false
	}
	s.mu.Lock()
	s.lastErrorKind = ""
	s.mu.Unlock()
	s.latch.Reset()
	return true
}

// LastRequest implements queue.Stamp. While fallback is active it reports the
// zero time so suppressed tasks are not throttled.
func (s *State) LastRequest() time.Time {
	if s.FallbackActive() {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequest
}

// MarkRequest implements queue.Stamp. It is a no-op while fallback is active,
// because suppressed tasks never reach the network.
func (s *State) MarkRequest(t time.Time) {
	if s.FallbackActive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRequest = t
}

// Snapshot returns a copy of the current state
func (s *State) Snapshot() Snapshot {
	stats := s.latch.GetStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		FallbackActive:       stats.State == resilience.LatchFallback,
		LastErrorMessage:     stats.LastError,
		LastErrorKind:        s.lastErrorKind,
		LastRequestTimestamp: s.lastRequest,
		APIKeyValid:          s.apiKeyValid,
		Trips:                stats.Trips,
		Resets:               stats.Resets,
	}
}
