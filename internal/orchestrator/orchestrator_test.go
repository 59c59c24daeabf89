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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/carbonai/internal/carbon"
	"github.com/your-org/carbonai/internal/fallback"
	"github.com/your-org/carbonai/internal/metrics"
	"github.com/your-org/carbonai/internal/notify"
	"github.com/your-org/carbonai/internal/resilience"
)

const (
	testAPIKey      = "sk-test1234567890abcdef" // pragma: allowlist secret
	testMinInterval = time.Millisecond
)

const recommendationsContent = `Here are your recommendations:
[{"title": "Install a smart thermostat", "category": "optimization", "priority": "high",
  "potentialReduction": 45, "estimatedCost": 150, "confidence": 85, "steps": ["Buy", "Install"]}]`

// mockProvider is a chat completion endpoint whose status and content can be
// switched between calls
type mockProvider struct {
	server  *httptest.Server
	hits    atomic.Int32
	status  atomic.Int32
	mu      sync.Mutex
	content string
	times   []time.Time
	gate    chan struct{}
}

func newMockProvider(t *testing.T, status int, content string) *mockProvider {
	t.Helper()
	p := &mockProvider{content: content}
	p.status.Store(int32(status))

	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.hits.Add(1)
		p.mu.Lock()
		p.times = append(p.times, time.Now())
		gate := p.gate
		content := p.content
		p.mu.Unlock()

		if gate != nil {
			<-gate
		}

		w.Header().Set("Content-Type", "application/json")
		status := int(p.status.Load())
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error": {"message": "provider error", "type": "server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *mockProvider) succeed(content string) {
	p.mu.Lock()
	p.content = content
	p.mu.Unlock()
	p.status.Store(http.StatusOK)
}

func (p *mockProvider) setGate(gate chan struct{}) {
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
}

func (p *mockProvider) requestTimes() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.times...)
}

func newTestOrchestrator(t *testing.T, apiKey string, p *mockProvider, opts ...Option) *Orchestrator {
	t.Helper()
	cfg := Config{
		APIKey:      apiKey,
		MinInterval: testMinInterval,
	}
	if p != nil {
		cfg.BaseURL = p.server.URL + "/v1"
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)

	o, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func TestDeriveKeyStatus(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		fallback bool
		want     KeyStatus
	}{
		{"missing key active", "", false, KeyMissing},
		{"missing key fallback", "", true, KeyMissing},
		{"invalid key active", "not-a-key", false, KeyInvalidFormat},
		{"invalid key fallback", "not-a-key", true, KeyInvalidFormat},
		{"short sk key", "sk-abc", true, KeyInvalidFormat},
		{"valid key fallback", testAPIKey, true, KeyValidButUnavailable},
		{"valid key active", testAPIKey, false, KeyValidAndWorking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveKeyStatus(tt.key, tt.fallback)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, DeriveKeyStatus(tt.key, tt.fallback))
			assert.NotEmpty(t, got.Message())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"zero value", Config{}, false},
		{"full", Config{APIKey: testAPIKey, BaseURL: "https://api.openai.com/v1", Temperature: 0.7, MaxTokens: 500}, false},
		{"temperature too high", Config{Temperature: 1.5}, true},
		{"negative temperature", Config{Temperature: -0.1}, true},
		{"negative max tokens", Config{MaxTokens: -1}, true},
		{"negative interval", Config{MinInterval: -time.Second}, true},
		{"negative timeout", Config{RequestTimeout: -time.Second}, true},
		{"bad scheme", Config{BaseURL: "ftp://example.com"}, true},
		{"unparseable url", Config{BaseURL: "http://[::1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				_, newErr := New(tt.cfg)
				assert.Error(t, newErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMissingKeyServesFallbackWithoutNetwork(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, recommendationsContent)
	recorder := notify.NewRecorder(10, nil)
	o := newTestOrchestrator(t, "", p, WithNotifier(recorder))

	assert.True(t, o.IsInFallbackMode())
	assert.Equal(t, KeyMissing, o.APIKeyStatus())

	set := o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 500})
	assert.NotEmpty(t, set.Recommendations)
	assert.Equal(t, carbon.SourceFallback, set.Source)
	assert.Equal(t, fallback.Recommendations(carbon.Profile{Budget: 500}), set)
	assert.Zero(t, p.hits.Load())

	// Reset cannot leave fallback without a usable key
	assert.False(t, o.ResetFallbackMode())
	assert.True(t, o.IsInFallbackMode())

	notices := recorder.Recent(0)
	require.Len(t, notices, 1)
	assert.Equal(t, string(resilience.KindConfiguration), notices[0].Kind)
}

func TestInvalidKeyFormat(t *testing.T) {
	o := newTestOrchestrator(t, "sk-short", nil)

	assert.True(t, o.IsInFallbackMode())
	assert.Equal(t, KeyInvalidFormat, o.APIKeyStatus())

	pred := o.PredictEmissions(context.Background(), carbon.EmissionHistory{Monthly: []float64{45, 42, 48, 41, 39, 37}})
	assert.InDelta(t, 39.9, pred.PredictedEmissions, 0.001)
	assert.Equal(t, carbon.TrendDecreasing, pred.Trend)
}

func TestRateLimitLatchesFallback(t *testing.T) {
	p := newMockProvider(t, http.StatusTooManyRequests, "")
	recorder := notify.NewRecorder(10, nil)
	o := newTestOrchestrator(t, testAPIKey, p, WithNotifier(recorder))

	assert.False(t, o.IsInFallbackMode())
	assert.Equal(t, KeyValidAndWorking, o.APIKeyStatus())

	first := o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 500})
	assert.Equal(t, carbon.SourceFallback, first.Source)
	assert.NotEmpty(t, first.Recommendations)
	assert.True(t, o.IsInFallbackMode())
	assert.Equal(t, KeyValidButUnavailable, o.APIKeyStatus())
	assert.Equal(t, int32(1), p.hits.Load())

	status := o.Status()
	assert.Equal(t, string(resilience.KindRateLimit), status.LastErrorKind)
	assert.Contains(t, status.LastError, "wait a moment")
	require.NotNil(t, status.LastRequest)
	stamped := *status.LastRequest

	// Subsequent calls of every shape skip the network and leave the stamp alone
	second := o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 500})
	assert.Equal(t, carbon.SourceFallback, second.Source)
	assert.Equal(t, carbon.SourceFallback, o.AnalyzeBehavior(context.Background(), carbon.ActivityLog{}).Source)
	assert.Equal(t, carbon.SourceFallback, o.RecommendCredits(context.Background(), carbon.CreditPreferences{Budget: 100}).Source)
	assert.Equal(t, int32(1), p.hits.Load())
	assert.Equal(t, stamped, *o.Status().LastRequest)

	notices := recorder.Recent(0)
	require.Len(t, notices, 1)
	assert.Equal(t, notify.LevelWarning, notices[0].Level)
	assert.Equal(t, string(resilience.KindRateLimit), notices[0].Kind)
}

func TestResetRestoresLiveCalls(t *testing.T) {
	p := newMockProvider(t, http.StatusTooManyRequests, "")
	recorder := notify.NewRecorder(10, nil)
	o := newTestOrchestrator(t, testAPIKey, p, WithNotifier(recorder))

	o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 500})
	require.True(t, o.IsInFallbackMode())

	assert.True(t, o.ResetFallbackMode())
	assert.False(t, o.IsInFallbackMode())
	assert.Empty(t, o.Status().LastError)

	p.succeed(`[{"title": "Install a smart thermostat", "category": "optimization", "confidence": 85}]`)

	set := o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 500})
	assert.Equal(t, carbon.SourceAI, set.Source)
	require.Len(t, set.Recommendations, 1)
	assert.Equal(t, "Install a smart thermostat", set.Recommendations[0].Title)
	assert.Equal(t, int32(2), p.hits.Load())
	assert.Equal(t, KeyValidAndWorking, o.APIKeyStatus())
	assert.Equal(t, 1, o.Status().Resets)

	notices := recorder.Recent(0)
	require.Len(t, notices, 2)
	assert.Equal(t, notify.LevelInfo, notices[0].Level)
}

func TestFallbackIsSticky(t *testing.T) {
	p := newMockProvider(t, http.StatusInternalServerError, "")
	o := newTestOrchestrator(t, testAPIKey, p)

	o.AnalyzeBehavior(context.Background(), carbon.ActivityLog{})
	require.True(t, o.IsInFallbackMode())

	// The provider recovers, but nothing is sent until an explicit reset
	p.succeed(`{"score": 90}`)
	for i := 0; i < 5; i++ {
		analysis := o.AnalyzeBehavior(context.Background(), carbon.ActivityLog{})
		assert.Equal(t, carbon.SourceFallback, analysis.Source)
		assert.True(t, o.IsInFallbackMode())
	}
	assert.Equal(t, int32(1), p.hits.Load())
	assert.Equal(t, 1, o.Status().Trips)
}

func TestQueuedCallsSkipNetworkAfterFailure(t *testing.T) {
	p := newMockProvider(t, http.StatusUnauthorized, "")
	release := make(chan struct{})
	p.setGate(release)

	o := newTestOrchestrator(t, testAPIKey, p)

	var wg sync.WaitGroup
	results := make([]carbon.EmissionPrediction, 3)
	call := func(i int) {
		defer wg.Done()
		results[i] = o.PredictEmissions(context.Background(), carbon.EmissionHistory{Monthly: []float64{10, 20}})
	}

	wg.Add(1)
	go call(0)
	require.Eventually(t, func() bool { return p.hits.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(2)
	go call(1)
	go call(2)
	require.Eventually(t, func() bool { return o.Status().QueueDepth == 2 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.hits.Load(), "calls queued behind the failure must not reach the provider")
	for _, r := range results {
		assert.Equal(t, carbon.SourceFallback, r.Source)
	}
	assert.Equal(t, KeyValidButUnavailable, o.APIKeyStatus())
}

func TestSuccessfulCallsOfEveryShape(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, recommendationsContent)
	o := newTestOrchestrator(t, testAPIKey, p)
	ctx := context.Background()

	set := o.GenerateRecommendations(ctx, carbon.Profile{Budget: 500, MonthlyEmissionsKg: 800})
	assert.Equal(t, carbon.SourceAI, set.Source)
	require.Len(t, set.Recommendations, 1)
	assert.Equal(t, carbon.CategoryOptimization, set.Recommendations[0].Category)
	assert.Equal(t, 85, set.Recommendations[0].Confidence)

	p.succeed(`{"predictedEmissions": 38.2, "trend": "decreasing", "confidence": 0.7}`)
	pred := o.PredictEmissions(ctx, carbon.EmissionHistory{Monthly: []float64{45, 42, 40}})
	assert.Equal(t, carbon.SourceAI, pred.Source)
	assert.InDelta(t, 38.2, pred.PredictedEmissions, 0.001)
	assert.Equal(t, 70, pred.Confidence)

	p.succeed(`{"score": 72, "insights": ["Driving dominates"]}`)
	analysis := o.AnalyzeBehavior(ctx, carbon.ActivityLog{Activities: []carbon.Activity{{Type: "car", EmissionsKg: 20}}})
	assert.Equal(t, carbon.SourceAI, analysis.Source)
	assert.Equal(t, 72, analysis.Score)

	p.succeed(`{"allocations": [{"projectType": "Reforestation", "credits": 4, "pricePerCredit": 10}]}`)
	alloc := o.RecommendCredits(ctx, carbon.CreditPreferences{Budget: 40})
	assert.Equal(t, carbon.SourceAI, alloc.Source)
	assert.InDelta(t, 40, alloc.TotalCost, 0.001)

	assert.False(t, o.IsInFallbackMode())
	assert.Equal(t, int32(4), p.hits.Load())
}

func TestMalformedContentDoesNotLatch(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, "I cannot answer that in JSON, sorry.")
	o := newTestOrchestrator(t, testAPIKey, p)

	set := o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 100})
	assert.Equal(t, carbon.SourceAI, set.Source)
	require.Len(t, set.Recommendations, 1)
	assert.Equal(t, 80, set.Recommendations[0].Confidence)
	assert.Equal(t, carbon.PriorityMedium, set.Recommendations[0].Priority)
	assert.False(t, o.IsInFallbackMode())
}

func TestCallerCancellationDoesNotLatch(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, recommendationsContent)
	release := make(chan struct{})
	p.setGate(release)
	o := newTestOrchestrator(t, testAPIKey, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	set := o.GenerateRecommendations(ctx, carbon.Profile{Budget: 500})
	assert.Equal(t, carbon.SourceFallback, set.Source)
	assert.False(t, o.IsInFallbackMode())

	close(release)
}

func TestRateLimitSpacesProviderCalls(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, recommendationsContent)
	interval := 50 * time.Millisecond

	o, err := New(Config{APIKey: testAPIKey, BaseURL: p.server.URL + "/v1", MinInterval: interval},
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer o.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.GenerateRecommendations(context.Background(), carbon.Profile{Budget: 100})
		}()
	}
	wg.Wait()

	times := p.requestTimes()
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		// Allow for scheduling jitter between stamping and the request landing
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval-5*time.Millisecond)
	}
}

func TestMetricsOutcomes(t *testing.T) {
	p := newMockProvider(t, http.StatusOK, recommendationsContent)
	reg := prometheus.NewRegistry()
	o := newTestOrchestrator(t, testAPIKey, p, WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	o.GenerateRecommendations(ctx, carbon.Profile{})
	p.status.Store(http.StatusForbidden)
	o.GenerateRecommendations(ctx, carbon.Profile{})
	o.GenerateRecommendations(ctx, carbon.Profile{})

	for outcome, want := range map[string]float64{
		metrics.OutcomeSuccess:    1,
		metrics.OutcomeError:      1,
		metrics.OutcomeSuppressed: 1,
	} {
		got := gatherValue(t, reg, "carbonai_ai_requests_total", map[string]string{
			"operation": "recommendations",
			"outcome":   outcome,
		})
		assert.Equal(t, want, got, "outcome %s", outcome)
	}
	assert.Equal(t, 1.0, gatherValue(t, reg, "carbonai_ai_errors_total", map[string]string{"kind": "authorization"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "carbonai_fallback_active", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "carbonai_fallback_transitions_total", map[string]string{"to": "fallback"}))
}

// gatherValue returns the value of the counter or gauge series matching labels
func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	series:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue series
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}
