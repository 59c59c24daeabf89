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

// Package api exposes the orchestrator over HTTP with gin. AI provider
// failures never surface as HTTP errors: every analysis endpoint answers 200
// with either live or fallback content.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/carbon"
	"github.com/your-org/carbonai/internal/health"
	"github.com/your-org/carbonai/internal/history"
	"github.com/your-org/carbonai/internal/notify"
	"github.com/your-org/carbonai/internal/orchestrator"
	"github.com/your-org/carbonai/internal/resilience"
)

const (
	// RequestIDHeader carries the per-request correlation ID
	RequestIDHeader = "X-Request-ID"
	// DefaultNoticeLimit is the number of notices returned without ?limit=
	DefaultNoticeLimit = 20
	// MaxListLimit caps ?limit= on list endpoints
	MaxListLimit = 500

	requestIDKey = "request_id"
)

// Service is the orchestrator surface the API depends on
type Service interface {
	GenerateRecommendations(ctx context.Context, profile carbon.Profile) carbon.RecommendationSet
	PredictEmissions(ctx context.Context, history carbon.EmissionHistory) carbon.EmissionPrediction
	AnalyzeBehavior(ctx context.Context, log carbon.ActivityLog) carbon.BehaviorAnalysis
	RecommendCredits(ctx context.Context, prefs carbon.CreditPreferences) carbon.CreditAllocation
	Status() orchestrator.StatusReport
	ResetFallbackMode() bool
}

// Dependencies are the components the router serves. Service is required;
// the rest are optional and their routes answer with empty data when unset.
type Dependencies struct {
	Service      Service
	History      *history.Store
	Notices      *notify.Recorder
	Health       *health.Manager
	Gatherer     prometheus.Gatherer
	MetricsPath  string
	HistoryLimit int
	Logger       *zap.Logger
}

type server struct {
	deps   Dependencies
	logger *zap.Logger
	errors *resilience.ErrorHandler
}

// NewRouter builds the gin engine with every route registered
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = history.DefaultListLimit
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	s := &server{
		deps:   deps,
		logger: deps.Logger,
		errors: resilience.NewErrorHandler(deps.Logger),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), s.accessLog())

	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.HTTPHandler()))
	}
	if deps.Gatherer != nil {
		router.GET(deps.MetricsPath, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/recommendations", handle(s, "recommendations", validateProfile, deps.Service.GenerateRecommendations))
	v1.POST("/predictions", handle(s, "predictions", validateHistory, deps.Service.PredictEmissions))
	v1.POST("/behavior", handle(s, "behavior", validateActivityLog, deps.Service.AnalyzeBehavior))
	v1.POST("/credits", handle(s, "credits", validateCreditPreferences, deps.Service.RecommendCredits))

	v1.GET("/ai/status", s.status)
	v1.POST("/ai/reset", s.reset)
	v1.GET("/notifications", s.notifications)
	v1.GET("/history", s.history)

	return router
}

// requestID reuses an incoming X-Request-ID or assigns a new uuid
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)),
		)
	}
}

func (s *server) badRequest(c *gin.Context, message string, err error) {
	s.logger.Warn("Rejected request",
		zap.String("path", c.FullPath()),
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.Error(err))
	s.errors.WriteErrorResponse(c.Writer, resilience.NewBadRequestError(message, err), c.GetString(requestIDKey))
	c.Abort()
}

// handle binds and validates the input, runs the analysis and records the
// result in history
func handle[I any, R carbon.Result](
	s *server,
	operation string,
	validate func(I) error,
	analyze func(context.Context, I) R,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input I
		if err := c.ShouldBindJSON(&input); err != nil {
			s.badRequest(c, "Invalid request format: "+err.Error(), err)
			return
		}
		if err := validate(input); err != nil {
			s.badRequest(c, err.Error(), err)
			return
		}

		result := analyze(c.Request.Context(), input)
		s.record(c, operation, result)

		c.JSON(http.StatusOK, result)
	}
}

func (s *server) record(c *gin.Context, operation string, result carbon.Result) {
	if s.deps.History == nil {
		return
	}

	entry, err := history.NewEntry(c.GetString(requestIDKey), result)
	if err == nil {
		_, err = s.deps.History.Record(c.Request.Context(), entry)
	}
	if err != nil {
		s.logger.Warn("Failed to record result history",
			zap.String("operation", operation),
			zap.Error(err))
	}
}

func (s *server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Service.Status())
}

func (s *server) reset(c *gin.Context) {
	restored := s.deps.Service.ResetFallbackMode()
	s.logger.Info("Fallback reset requested",
		zap.Bool("restored", restored),
		zap.String("request_id", c.GetString(requestIDKey)))
	c.JSON(http.StatusOK, s.deps.Service.Status())
}

func (s *server) notifications(c *gin.Context) {
	limit, ok := s.limit(c, DefaultNoticeLimit)
	if !ok {
		return
	}

	notices := []notify.Notice{}
	if s.deps.Notices != nil {
		notices = s.deps.Notices.Recent(limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notices,
		"count":         len(notices),
	})
}

func (s *server) history(c *gin.Context) {
	limit, ok := s.limit(c, s.deps.HistoryLimit)
	if !ok {
		return
	}

	entries := []history.Entry{}
	if s.deps.History != nil {
		var err error
		entries, err = s.deps.History.List(c.Request.Context(), limit)
		if err != nil {
			s.errors.WriteErrorResponse(c.Writer, err, c.GetString(requestIDKey))
			c.Abort()
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// limit parses ?limit=, capped at MaxListLimit
func (s *server) limit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		s.badRequest(c, "limit must be a positive integer", err)
		return 0, false
	}
	return min(limit, MaxListLimit), true
}
