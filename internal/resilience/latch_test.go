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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestNewLatch(t *testing.T) {
	l := NewLatch(LatchConfig{Name: "openai"}, zaptest.NewLogger(t))

	assert.Equal(t, LatchActive, l.State())
	assert.False(t, l.Open())
	assert.Empty(t, l.LastError())

	stats := l.GetStats()
	assert.Equal(t, "openai", stats.Name)
	assert.Equal(t, 0, stats.Trips)
}

func TestLatchStartsInFallback(t *testing.T) {
	l := NewLatch(LatchConfig{
		Name:          "openai",
		InitialState:  LatchFallback,
		InitialReason: "API key missing",
	}, nil)

	assert.True(t, l.Open())
	assert.Equal(t, "API key missing", l.LastError())
}

func TestLatchIsSticky(t *testing.T) {
	l := NewLatch(LatchConfig{Name: "openai"}, nil)

	assert.True(t, l.Trip("rate limited"))
	assert.True(t, l.Open())

	// Further trips keep the latch open and only refresh the reason
	assert.False(t, l.Trip("still rate limited"))
	assert.True(t, l.Open())
	assert.Equal(t, "still rate limited", l.LastError())
	assert.Equal(t, 1, l.GetStats().Trips)

	assert.True(t, l.Reset())
	assert.False(t, l.Open())
	assert.Empty(t, l.LastError())
	assert.False(t, l.Reset())
	assert.Equal(t, 1, l.GetStats().Resets)
}

func TestLatchStateChangeCallback(t *testing.T) {
	type transition struct {
		from, to LatchState
		reason   string
	}
	var got []transition

	l := NewLatch(LatchConfig{
		Name: "openai",
		OnStateChange: func(from, to LatchState, reason string) {
			got = append(got, transition{from, to, reason})
		},
	}, nil)

	l.Trip("server error")
	l.Trip("server error again")
	l.Reset()

	assert.Equal(t, []transition{
		{LatchActive, LatchFallback, "server error"},
		{LatchFallback, LatchActive, "manual reset"},
	}, got)
}

func TestLatchConcurrentTrips(t *testing.T) {
	l := NewLatch(LatchConfig{Name: "openai"}, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Trip("failure") {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	assert.Equal(t, LatchFallback, l.State())
}

func TestLatchStateString(t *testing.T) {
	assert.Equal(t, "active", LatchActive.String())
	assert.Equal(t, "fallback", LatchFallback.String())
	assert.Equal(t, "unknown", LatchState(7).String())
}
