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

// Package normalize turns free-form model output into typed, default-filled
// results. Parsing is lenient: every function here returns a renderable value
// for any input and none of them return an error.
package normalize

import (
	"fmt"
	"math"
	"strings"

	"github.com/your-org/carbonai/internal/carbon"
)

// Per-field defaults substituted when the model output omits or mangles a field
const (
	DefaultConfidence      = 80
	DefaultPriority        = carbon.PriorityMedium
	DefaultTimeframe       = "1-3 months"
	DefaultTitle           = "Review your carbon footprint"
	DefaultDescription     = "Review your largest emission sources and pick one concrete change to make this month."
	DefaultStep            = "Review this recommendation and plan the first step"
	DefaultFactor          = "Historical emission patterns"
	DefaultPredictionTip   = "Keep tracking monthly emissions to improve prediction accuracy"
	DefaultBehaviorScore   = 70
	DefaultInsight         = "Your activity data shows room for improvement"
	DefaultPattern         = "Emissions are spread across several activity types"
	DefaultSuggestion      = "Focus on your highest-emitting activity first"
	DefaultCreditProject   = "Verified carbon offset"
	DefaultCreditRegion    = "Global"
	DefaultCreditRationale = "Allocation suggested by the AI model"
	DefaultCreditPrice     = 15.0
	maxDescriptionLength   = 280
)

// Parse normalizes raw into the result variant named by shape
func Parse(raw string, shape carbon.Kind) carbon.Result {
	switch shape {
	case carbon.KindRecommendations:
		return ParseRecommendations(raw)
	case carbon.KindPrediction:
		return ParseEmissionPrediction(raw)
	case carbon.KindBehavior:
		return ParseBehaviorAnalysis(raw)
	case carbon.KindCredits:
		return ParseCreditAllocation(raw)
	default:
		return ParseRecommendations(raw)
	}
}

// ParseRecommendations normalizes a model response into a RecommendationSet.
// Output with no usable array yields one placeholder recommendation.
func ParseRecommendations(raw string) (set carbon.RecommendationSet) {
	set.Source = carbon.SourceAI
	defer func() {
		if recover() != nil || len(set.Recommendations) == 0 {
			set.Recommendations = []carbon.Recommendation{placeholderRecommendation(raw)}
		}
	}()

	items, _ := decodeArray(raw, "recommendations", "items", "data")
	set.Recommendations = make([]carbon.Recommendation, 0, len(items))
	for i, item := range items {
		set.Recommendations = append(set.Recommendations, recommendation(i, item))
	}
	return set
}

func recommendation(index int, m map[string]any) carbon.Recommendation {
	rec := carbon.Recommendation{
		ID:          str(m, "id"),
		Title:       str(m, "title", "name"),
		Description: str(m, "description", "details", "summary"),
		Category:    carbon.ClassifyCategory(str(m, "category", "type")),
		Priority:    carbon.ParsePriority(str(m, "priority", "difficulty")),
		Timeframe:   str(m, "timeframe", "timeline", "time_frame"),
		Confidence:  confidence(m, DefaultConfidence),
		Steps:       strs(m, "steps", "actionSteps", "action_steps", "actions"),
	}

	if v, ok := num(m, "potential_reduction_kg", "potentialReduction", "potentialSavings", "impact", "co2Reduction", "savings"); ok {
		rec.PotentialReductionKg = math.Max(v, 0)
	}
	if v, ok := num(m, "estimated_cost", "estimatedCost", "cost", "price"); ok {
		rec.EstimatedCost = math.Max(v, 0)
	}

	if rec.ID == "" {
		rec.ID = fmt.Sprintf("rec-%d", index+1)
	}
	if rec.Title == "" {
		rec.Title = DefaultTitle
	}
	if rec.Description == "" {
		rec.Description = DefaultDescription
	}
	if rec.Timeframe == "" {
		rec.Timeframe = DefaultTimeframe
	}
	if len(rec.Steps) == 0 {
		rec.Steps = []string{DefaultStep}
	}
	return rec
}

func placeholderRecommendation(raw string) carbon.Recommendation {
	description := DefaultDescription
	if prose := strings.TrimSpace(raw); prose != "" && !strings.ContainsAny(prose, "[]{}") {
		description = truncate(prose, maxDescriptionLength)
	}
	return carbon.Recommendation{
		ID:          "rec-1",
		Title:       DefaultTitle,
		Description: description,
		Category:    carbon.CategoryReduction,
		Priority:    DefaultPriority,
		Timeframe:   DefaultTimeframe,
		Confidence:  DefaultConfidence,
		Steps:       []string{DefaultStep},
	}
}

// ParseEmissionPrediction normalizes a model response into an EmissionPrediction
func ParseEmissionPrediction(raw string) (pred carbon.EmissionPrediction) {
	pred = carbon.EmissionPrediction{
		Confidence:      DefaultConfidence,
		Trend:           carbon.TrendStable,
		Factors:         []string{DefaultFactor},
		Recommendations: []string{DefaultPredictionTip},
		Source:          carbon.SourceAI,
	}
	defer func() {
		if recover() != nil {
			pred.Factors = []string{DefaultFactor}
			pred.Recommendations = []string{DefaultPredictionTip}
		}
	}()

	m, ok := decodeObject(raw)
	if !ok {
		return pred
	}

	if v, ok := num(m, "predicted_emissions", "predictedEmissions", "prediction", "predicted", "emissions"); ok {
		pred.PredictedEmissions = math.Max(v, 0)
	}
	pred.Confidence = confidence(m, DefaultConfidence)
	pred.Trend = carbon.ParseTrend(str(m, "trend", "direction"))
	if factors := strs(m, "factors", "keyFactors", "key_factors", "drivers"); len(factors) > 0 {
		pred.Factors = factors
	}
	if recs := strs(m, "recommendations", "suggestions", "tips"); len(recs) > 0 {
		pred.Recommendations = recs
	}
	return pred
}

// ParseBehaviorAnalysis normalizes a model response into a BehaviorAnalysis
func ParseBehaviorAnalysis(raw string) (analysis carbon.BehaviorAnalysis) {
	analysis = carbon.BehaviorAnalysis{
		Score:       DefaultBehaviorScore,
		Insights:    []string{DefaultInsight},
		Patterns:    []string{DefaultPattern},
		Suggestions: []string{DefaultSuggestion},
		Source:      carbon.SourceAI,
	}
	defer func() {
		if recover() != nil {
			analysis.Insights = []string{DefaultInsight}
			analysis.Patterns = []string{DefaultPattern}
			analysis.Suggestions = []string{DefaultSuggestion}
		}
	}()

	m, ok := decodeObject(raw)
	if !ok {
		return analysis
	}

	if v, ok := num(m, "score", "sustainabilityScore", "sustainability_score"); ok {
		analysis.Score = int(math.Round(math.Min(math.Max(v, 0), 100)))
	}
	if insights := strs(m, "insights", "keyInsights", "key_insights"); len(insights) > 0 {
		analysis.Insights = insights
	}
	if patterns := strs(m, "patterns", "behaviorPatterns", "behavior_patterns"); len(patterns) > 0 {
		analysis.Patterns = patterns
	}
	if suggestions := strs(m, "suggestions", "recommendations", "improvements"); len(suggestions) > 0 {
		analysis.Suggestions = suggestions
	}
	return analysis
}

// ParseCreditAllocation normalizes a model response into a CreditAllocation.
// Totals are always recomputed from the allocation lines.
func ParseCreditAllocation(raw string) (alloc carbon.CreditAllocation) {
	alloc.Source = carbon.SourceAI
	alloc.Rationale = DefaultCreditRationale
	defer func() {
		if recover() != nil || len(alloc.Allocations) == 0 {
			alloc.Allocations = []carbon.CreditSuggestion{{
				ProjectType:    DefaultCreditProject,
				Region:         DefaultCreditRegion,
				PricePerCredit: DefaultCreditPrice,
				Reason:         DefaultCreditRationale,
			}}
		}
		alloc.TotalCredits, alloc.TotalCost = 0, 0
		for _, a := range alloc.Allocations {
			alloc.TotalCredits += a.Credits
			alloc.TotalCost += a.Cost
		}
	}()

	if m, ok := decodeObject(raw); ok {
		if rationale := str(m, "rationale", "reasoning", "summary"); rationale != "" {
			alloc.Rationale = rationale
		}
	}

	items, _ := decodeArray(raw, "allocations", "recommendations", "credits", "projects")
	alloc.Allocations = make([]carbon.CreditSuggestion, 0, len(items))
	for _, item := range items {
		alloc.Allocations = append(alloc.Allocations, creditSuggestion(item))
	}
	return alloc
}

func creditSuggestion(m map[string]any) carbon.CreditSuggestion {
	s := carbon.CreditSuggestion{
		ProjectType:    str(m, "project_type", "projectType", "type", "name"),
		Region:         str(m, "region", "location", "country"),
		PricePerCredit: DefaultCreditPrice,
		Reason:         str(m, "reason", "rationale", "description"),
	}

	if v, ok := num(m, "credits", "amount", "quantity", "tons"); ok {
		s.Credits = math.Max(v, 0)
	}
	if v, ok := num(m, "price_per_credit", "pricePerCredit", "price", "pricePerTon"); ok && v > 0 {
		s.PricePerCredit = v
	}
	if v, ok := num(m, "cost", "totalCost", "total_cost"); ok && v >= 0 {
		s.Cost = v
	} else {
		s.Cost = s.Credits * s.PricePerCredit
	}

	if s.ProjectType == "" {
		s.ProjectType = DefaultCreditProject
	}
	if s.Region == "" {
		s.Region = DefaultCreditRegion
	}
	if s.Reason == "" {
		s.Reason = DefaultCreditRationale
	}
	return s
}
