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

// Package notify delivers user-facing notices such as "AI unavailable, showing
// sample insights" to whatever surface renders them.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is the severity of a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultCapacity is the number of notices a Recorder keeps
const DefaultCapacity = 50

// Notice is a single user-facing message
type Notice struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives notices
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to the Notifier interface
type Func func(n Notice)

// Notify calls f(n)
func (f Func) Notify(n Notice) { f(n) }

// Recorder keeps the most recent notices in memory and logs each one
type Recorder struct {
	mu       sync.RWMutex
	notices  []Notice
	next     int
	full     bool
	logger   *zap.Logger
	capacity int
}

// NewRecorder creates a Recorder holding up to capacity notices
func NewRecorder(capacity int, logger *zap.Logger) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		notices:  make([]Notice, capacity),
		logger:   logger,
		capacity: capacity,
	}
}

// Notify records n, filling in its ID and timestamp when unset
func (r *Recorder) Notify(n Notice) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}

	fields := []zap.Field{
		zap.String("notice_id", n.ID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("kind", n.Kind),
	}
	switch n.Level {
	case LevelError:
		r.logger.Error("User notice", fields...)
	case LevelWarning:
		r.logger.Warn("User notice", fields...)
	default:
		r.logger.Info("User notice", fields...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.notices[r.next] = n
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit notices, newest first. A limit <= 0 returns all.
func (r *Recorder) Recent(limit int) []Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = r.capacity
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]Notice, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + r.capacity) % r.capacity
		out = append(out, r.notices[idx])
	}
	return out
}

// Len returns the number of stored notices
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.capacity
	}
	return r.next
}
