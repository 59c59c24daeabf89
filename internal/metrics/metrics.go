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

// Package metrics exposes Prometheus collectors for the AI orchestrator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes
const (
	OutcomeSuccess    = "success"
	OutcomeFallback   = "fallback"
	OutcomeError      = "error"
	OutcomeSuppressed = "suppressed"
)

// Metrics holds the orchestrator collectors
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	fallbackActive prometheus.Gauge
	transitions    *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	errors         *prometheus.CounterVec
}

// New registers the collectors on reg. Registering twice on the same
// registry panics, as with promauto.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonai_ai_requests_total",
			Help: "Total number of AI requests by operation and outcome",
		}, []string{"operation", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbonai_ai_request_duration_seconds",
			Help:    "Duration of AI requests in seconds, including queue wait",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"operation"}),

		fallbackActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carbonai_fallback_active",
			Help: "Fallback mode state (0=active, 1=fallback)",
		}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonai_fallback_transitions_total",
			Help: "Total fallback mode transitions by target state",
		}, []string{"to"}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "carbonai_queue_depth",
			Help: "Number of AI requests waiting in the serial queue",
		}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "carbonai_ai_errors_total",
			Help: "Total AI provider errors by kind",
		}, []string{"kind"}),
	}
}

// RecordRequest records the outcome and duration of one orchestrator call
func (m *Metrics) RecordRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records an AI provider error
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// SetFallbackActive sets the fallback gauge
func (m *Metrics) SetFallbackActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.fallbackActive.Set(1)
	} else {
		m.fallbackActive.Set(0)
	}
}

// RecordTransition records a fallback state change and updates the gauge
func (m *Metrics) RecordTransition(to string, active bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
	m.SetFallbackActive(active)
}

// SetQueueDepth sets the queue depth gauge
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
