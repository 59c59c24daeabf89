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

// Package resilience provides the AI error taxonomy, the fallback latch that
// suppresses provider calls after a failure, and the API error envelope.
package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LatchState represents the state of a fallback latch
type LatchState int

const (
	// LatchActive means provider calls are permitted
	LatchActive LatchState = iota
	// LatchFallback means provider calls are suppressed until Reset
	LatchFallback
)

// String returns the string representation of the latch state
func (s LatchState) String() string {
	switch s {
	case LatchActive:
		return "active"
	case LatchFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// LatchConfig holds configuration for a fallback latch
type LatchConfig struct {
	Name          string
	InitialState  LatchState
	InitialReason string
	// OnStateChange runs synchronously while the latch lock is held; it must not
	// call back into the latch.
	OnStateChange func(from, to LatchState, reason string)
}

// LatchStats holds a snapshot of the latch
type LatchStats struct {
	Name         string        `json:"name"`
	State        LatchState    `json:"state"`
	LastError    string        `json:"last_error,omitempty"`
	Trips        int           `json:"trips"`
	Resets       int           `json:"resets"`
	StateChanged time.Time     `json:"state_changed"`
	Uptime       time.Duration `json:"uptime"`
}

// Latch is a two-state breaker. Unlike a circuit breaker it never recovers on
// its own: one failure moves it to LatchFallback and only Reset moves it back.
type Latch struct {
	config       LatchConfig
	state        LatchState
	lastError    string
	trips        int
	resets       int
	stateChanged time.Time
	createdAt    time.Time
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewLatch creates a latch in config.InitialState
func NewLatch(config LatchConfig, logger *zap.Logger) *Latch {
	if logger == nil {
		logger = zap.NewNop()
	}

	now := time.Now()
	l := &Latch{
		config:       config,
		state:        config.InitialState,
		lastError:    config.InitialReason,
		stateChanged: now,
		createdAt:    now,
		logger:       logger,
	}

	logger.Info("Fallback latch created",
		zap.String("name", config.Name),
		zap.String("state", l.state.String()))

	return l
}

// Trip records a failure. It returns true when this call moved the latch from
// active to fallback. The reason is recorded even if the latch was already open.
func (l *Latch) Trip(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastError = reason
	if l.state == LatchFallback {
		return false
	}

	l.trips++
	l.setState(LatchFallback, reason)
	return true
}

// Reset moves the latch back to active and clears the last error. It returns
// true when the state changed.
func (l *Latch) Reset() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastError = ""
	if l.state == LatchActive {
		return false
	}

	l.resets++
	l.setState(LatchActive, "manual reset")
	return true
}

// setState changes state and fires the callback; callers hold l.mu
func (l *Latch) setState(newState LatchState, reason string) {
	oldState := l.state
	l.state = newState
	l.stateChanged = time.Now()

	l.logger.Info("Fallback latch state changed",
		zap.String("name", l.config.Name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.String("reason", reason))

	if l.config.OnStateChange != nil {
		l.config.OnStateChange(oldState, newState, reason)
	}
}

// State returns the current state
func (l *Latch) State() LatchState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Open reports whether the latch is in fallback
func (l *Latch) Open() bool {
	return l.State() == LatchFallback
}

// LastError returns the reason recorded by the most recent Trip
func (l *Latch) LastError() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastError
}

// GetStats returns a snapshot of the latch
func (l *Latch) GetStats() LatchStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LatchStats{
		Name:         l.config.Name,
		State:        l.state,
		LastError:    l.lastError,
		Trips:        l.trips,
		Resets:       l.resets,
		StateChanged: l.stateChanged,
		Uptime:       time.Since(l.createdAt),
	}
}
