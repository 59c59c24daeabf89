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

// Package orchestrator routes AI requests through a rate-limited serial queue
// to the chat completion provider, normalizes the responses and falls back to
// generated content whenever the provider is unavailable. Its public methods
// never return errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/carbon"
	"github.com/your-org/carbonai/internal/fallback"
	"github.com/your-org/carbonai/internal/metrics"
	"github.com/your-org/carbonai/internal/normalize"
	"github.com/your-org/carbonai/internal/notify"
	"github.com/your-org/carbonai/internal/openai"
	"github.com/your-org/carbonai/internal/queue"
	"github.com/your-org/carbonai/internal/resilience"
)

// DefaultRequestTimeout bounds a single provider call
const DefaultRequestTimeout = 30 * time.Second

var (
	// errSuppressed marks a queued task skipped because fallback latched while it waited
	errSuppressed = errors.New("provider call suppressed by fallback mode")
	// errIncomplete marks a call abandoned by its caller or by shutdown
	errIncomplete = errors.New("request not completed")
)

// Config is read once at construction
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float32
	MaxTokens      int
	MinInterval    time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Validate reports configuration the orchestrator cannot run with. A missing
// or malformed API key is not an error; it selects fallback mode.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative, got %s", c.MinInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("base URL must use http or https, got %q", c.BaseURL)
		}
	}
	return nil
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records request outcomes, queue depth and fallback transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithNotifier receives a warning when fallback latches and a notice on reset
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// StatusReport describes the orchestrator for status endpoints
type StatusReport struct {
	KeyStatus      KeyStatus  `json:"key_status"`
	Message        string     `json:"message"`
	FallbackActive bool       `json:"fallback_active"`
	LastError      string     `json:"last_error,omitempty"`
	LastErrorKind  string     `json:"last_error_kind,omitempty"`
	LastRequest    *time.Time `json:"last_request,omitempty"`
	Model          string     `json:"model"`
	QueueDepth     int        `json:"queue_depth"`
	Trips          int        `json:"trips"`
	Resets         int        `json:"resets"`
}

// Orchestrator owns the queue, the state and the provider client
type Orchestrator struct {
	config   Config
	client   *openai.Client
	state    *State
	queue    *queue.Queue
	logger   *zap.Logger
	metrics  *metrics.Metrics
	notifier notify.Notifier
}

// New creates an orchestrator. It only fails on invalid configuration; a
// missing or malformed key starts the orchestrator in fallback mode.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = queue.DefaultMinInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Model == "" {
		cfg.Model = openai.DefaultModel
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   zap.NewNop(),
		notifier: notify.Func(func(notify.Notice) {}),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.state = NewState(cfg.APIKey, o.onStateChange, o.logger)

	if o.state.APIKeyValid() {
		client, err := openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			HTTPClient:  cfg.HTTPClient,
		}, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		o.client = client
	}

	o.queue = queue.New(cfg.MinInterval, o.logger,
		queue.WithStamp(o.state),
		queue.WithDepthObserver(o.metrics.SetQueueDepth))

	o.metrics.SetFallbackActive(o.state.FallbackActive())

	status := o.APIKeyStatus()
	o.logger.Info("AI orchestrator initialized",
		zap.String("key_status", string(status)),
		zap.String("model", cfg.Model),
		zap.Duration("min_interval", cfg.MinInterval),
		zap.Duration("request_timeout", cfg.RequestTimeout),
	)
	if o.state.FallbackActive() {
		o.notifier.Notify(notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "AI features unavailable",
			Message: status.Message(),
			Kind:    string(resilience.KindConfiguration),
		})
	}

	return o, nil
}

// Close stops the queue worker. Pending calls return fallback content.
func (o *Orchestrator) Close() {
	o.queue.Close()
}

// GenerateRecommendations returns personalized recommendations, or the fixed
// fallback set when the provider is unavailable
func (o *Orchestrator) GenerateRecommendations(ctx context.Context, profile carbon.Profile) carbon.RecommendationSet {
	return run(ctx, o, carbon.KindRecommendations, profile,
		BuildRecommendationsPrompt, normalize.ParseRecommendations, fallback.Recommendations)
}

// PredictEmissions projects next month's emissions from the history
func (o *Orchestrator) PredictEmissions(ctx context.Context, history carbon.EmissionHistory) carbon.EmissionPrediction {
	return run(ctx, o, carbon.KindPrediction, history,
		BuildPredictionPrompt, normalize.ParseEmissionPrediction, fallback.Prediction)
}

// AnalyzeBehavior scores an activity log and suggests improvements
func (o *Orchestrator) AnalyzeBehavior(ctx context.Context, log carbon.ActivityLog) carbon.BehaviorAnalysis {
	return run(ctx, o, carbon.KindBehavior, log,
		BuildBehaviorPrompt, normalize.ParseBehaviorAnalysis, fallback.Behavior)
}

// RecommendCredits suggests a carbon credit portfolio
func (o *Orchestrator) RecommendCredits(ctx context.Context, prefs carbon.CreditPreferences) carbon.CreditAllocation {
	return run(ctx, o, carbon.KindCredits, prefs,
		BuildCreditsPrompt, normalize.ParseCreditAllocation, fallback.Credits)
}

// IsInFallbackMode reports whether provider calls are suppressed
func (o *Orchestrator) IsInFallbackMode() bool {
	return o.state.FallbackActive()
}

// APIKeyStatus returns the key status derived from the configured key and the
// fallback flag
func (o *Orchestrator) APIKeyStatus() KeyStatus {
	return DeriveKeyStatus(o.config.APIKey, o.state.FallbackActive())
}

// ResetFallbackMode re-enables provider calls and reports whether the
// orchestrator is now active. It has no effect without a well-formed key.
func (o *Orchestrator) ResetFallbackMode() bool {
	wasActive := !o.state.FallbackActive()
	if !o.state.Reset() {
		o.logger.Warn("Fallback reset ignored: API key missing or malformed",
			zap.String("key_status", string(o.APIKeyStatus())))
		return false
	}

	if !wasActive {
		o.notifier.Notify(notify.Notice{
			Level:   notify.LevelInfo,
			Title:   "AI features re-enabled",
			Message: KeyValidAndWorking.Message(),
		})
	}
	return true
}

// Status returns a snapshot for status endpoints
func (o *Orchestrator) Status() StatusReport {
	snap := o.state.Snapshot()
	status := DeriveKeyStatus(o.config.APIKey, snap.FallbackActive)

	report := StatusReport{
		KeyStatus:      status,
		Message:        status.Message(),
		FallbackActive: snap.FallbackActive,
		LastError:      snap.LastErrorMessage,
		LastErrorKind:  string(snap.LastErrorKind),
		Model:          o.config.Model,
		QueueDepth:     o.queue.Len(),
		Trips:          snap.Trips,
		Resets:         snap.Resets,
	}
	if !snap.LastRequestTimestamp.IsZero() {
		ts := snap.LastRequestTimestamp
		report.LastRequest = &ts
	}
	return report
}

// run is the single call path behind the public methods. Every failure is
// collapsed into the fallback generator's output.
func run[I any, R carbon.Result](
	ctx context.Context,
	o *Orchestrator,
	kind carbon.Kind,
	input I,
	prompt func(I) string,
	parse func(string) R,
	generate func(I) R,
) R {
	start := time.Now()
	operation := string(kind)

	if o.state.FallbackActive() {
		o.logger.Debug("Serving fallback content", zap.String("operation", operation))
		o.metrics.RecordRequest(operation, metrics.OutcomeSuppressed, time.Since(start))
		return generate(input)
	}

	content, aiErr := o.call(ctx, kind, prompt(input))
	if aiErr != nil {
		outcome := metrics.OutcomeError
		switch {
		case errors.Is(aiErr, errSuppressed):
			outcome = metrics.OutcomeSuppressed
		case errors.Is(aiErr, errIncomplete):
			outcome = metrics.OutcomeFallback
		}
		o.metrics.RecordRequest(operation, outcome, time.Since(start))
		return generate(input)
	}

	result := parse(content)
	o.metrics.RecordRequest(operation, metrics.OutcomeSuccess, time.Since(start))
	o.logger.Info("AI request completed",
		zap.String("operation", operation),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// call submits one chat completion to the queue. It returns the raw content
// or the failure that prevented it; provider failures are latched before the
// next queued task runs.
func (o *Orchestrator) call(ctx context.Context, kind carbon.Kind, userPrompt string) (string, *resilience.AIError) {
	operation := string(kind)

	content, err := queue.Do(ctx, o.queue, func(taskCtx context.Context) (string, error) {
		if o.state.FallbackActive() || o.client == nil {
			return "", errSuppressed
		}

		callCtx, cancel := context.WithTimeout(taskCtx, o.config.RequestTimeout)
		defer cancel()

		resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Messages: []openai.Message{
				openai.SystemMessage(BuildSystemPrompt(kind)),
				openai.UserMessage(userPrompt),
			},
		})
		if err != nil {
			aiErr, ok := resilience.AsAIError(err)
			if !ok {
				aiErr = resilience.NewAIError(resilience.KindNetwork, 0, err.Error(), err)
			}
			o.fail(operation, aiErr)
			return "", aiErr
		}

		o.logger.Debug("AI response received",
			zap.String("operation", operation),
			zap.String("content_preview", openai.Preview(resp.Content)),
		)
		return resp.Content, nil
	})

	if err == nil {
		return content, nil
	}

	if aiErr, ok := resilience.AsAIError(err); ok {
		return "", aiErr
	}
	if errors.Is(err, errSuppressed) {
		return "", resilience.NewAIError(resilience.KindUpstreamService, 0, err.Error(), err)
	}

	// Caller cancellation and shutdown serve fallback content without latching
	o.logger.Info("AI request not completed, serving fallback content",
		zap.String("operation", operation),
		zap.Error(err),
	)
	return "", resilience.NewAIError(resilience.KindNetwork, 0, errIncomplete.Error(),
		fmt.Errorf("%w: %w", errIncomplete, err))
}

// fail records a provider failure and latches fallback mode
func (o *Orchestrator) fail(operation string, aiErr *resilience.AIError) {
	o.metrics.RecordError(string(aiErr.Kind))

	o.logger.Warn("AI request failed",
		zap.String("operation", operation),
		zap.String("kind", string(aiErr.Kind)),
		zap.Int("status_code", aiErr.StatusCode),
		zap.Error(aiErr),
	)

	if o.state.Fail(aiErr) {
		o.notifier.Notify(notify.Notice{
			Level:   notify.LevelWarning,
			Title:   "AI features unavailable",
			Message: aiErr.UserMessage(),
			Kind:    string(aiErr.Kind),
		})
	}
}

// onStateChange runs under the latch lock and must not call back into the state
func (o *Orchestrator) onStateChange(_, to resilience.LatchState, _ string) {
	o.metrics.RecordTransition(to.String(), to == resilience.LatchFallback)
}
