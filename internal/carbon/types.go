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

// Package carbon defines the request and result types shared by the AI
// orchestrator, the response normalizer and the fallback generators.
package carbon

import "strings"

// Kind identifies which result variant a Result holds
type Kind string

const (
	// KindRecommendations is a RecommendationSet
	KindRecommendations Kind = "recommendations"
	// KindPrediction is an EmissionPrediction
	KindPrediction Kind = "prediction"
	// KindBehavior is a BehaviorAnalysis
	KindBehavior Kind = "behavior"
	// KindCredits is a CreditAllocation
	KindCredits Kind = "credits"
)

// Source records whether a result came from the AI provider or a fallback generator
type Source string

const (
	// SourceAI marks a result normalized from a live model response
	SourceAI Source = "ai"
	// SourceFallback marks a result produced without calling the provider
	SourceFallback Source = "fallback"
)

// Result is implemented by exactly the four result variants in this package.
type Result interface {
	Kind() Kind
	Origin() Source
	sealed()
}

// Category classifies a recommendation
type Category string

const (
	CategoryReduction    Category = "reduction"
	CategoryPurchase     Category = "purchase"
	CategoryOptimization Category = "optimization"
	CategoryBehavioral   Category = "behavioral"
)

// categoryKeywords is checked in order; the first substring hit wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryPurchase, []string{"purchase", "offset", "credit", "buy"}},
	{CategoryOptimization, []string{"optimi", "efficien", "upgrade"}},
	{CategoryBehavioral, []string{"behavio", "habit", "lifestyle"}},
	{CategoryReduction, []string{"reduc", "cut", "lower"}},
}

// ClassifyCategory maps a free-form category label to a Category. Matching is
// case-insensitive by substring; anything unrecognised is a reduction.
func ClassifyCategory(label string) Category {
	lower := strings.ToLower(label)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				return entry.category
			}
		}
	}
	return CategoryReduction
}

// Priority of a recommendation
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority returns the matching Priority, defaulting to medium
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "critical", "urgent":
		return PriorityHigh
	case "low", "minor":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Trend of projected emissions
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ParseTrend returns the matching Trend, defaulting to stable
func ParseTrend(s string) Trend {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "decreas"), strings.Contains(lower, "down"), strings.Contains(lower, "improv"):
		return TrendDecreasing
	case strings.Contains(lower, "increas"), strings.Contains(lower, "up"), strings.Contains(lower, "wors"):
		return TrendIncreasing
	default:
		return TrendStable
	}
}

// Profile describes the user a recommendation set is generated for
type Profile struct {
	Budget             float64  `json:"budget"`
	MonthlyEmissionsKg float64  `json:"monthly_emissions_kg"`
	Categories         []string `json:"categories,omitempty"`
	Goals              []string `json:"goals,omitempty"`
	Location           string   `json:"location,omitempty"`
	HouseholdSize      int      `json:"household_size,omitempty"`
}

// EmissionHistory is a series of monthly emission totals in kg CO2e, oldest first
type EmissionHistory struct {
	Monthly []float64 `json:"monthly"`
}

// Activity is a single logged activity with its estimated emissions
type Activity struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	EmissionsKg float64 `json:"emissions_kg"`
	Date        string  `json:"date,omitempty"`
}

// ActivityLog is the input to behavior analysis
type ActivityLog struct {
	Activities []Activity `json:"activities"`
}

// CreditPreferences drive carbon credit suggestions
type CreditPreferences struct {
	Budget         float64  `json:"budget"`
	ProjectTypes   []string `json:"project_types,omitempty"`
	Regions        []string `json:"regions,omitempty"`
	TargetOffsetKg float64  `json:"target_offset_kg,omitempty"`
}

// Recommendation is a single actionable suggestion
type Recommendation struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Category             Category `json:"category"`
	Priority             Priority `json:"priority"`
	PotentialReductionKg float64  `json:"potential_reduction_kg"`
	EstimatedCost        float64  `json:"estimated_cost"`
	Timeframe            string   `json:"timeframe"`
	Confidence           int      `json:"confidence"`
	Steps                []string `json:"steps"`
}

// RecommendationSet is the result of GenerateRecommendations
type RecommendationSet struct {
	Recommendations []Recommendation `json:"recommendations"`
	Source          Source           `json:"source"`
}

// EmissionPrediction is the result of PredictEmissions
type EmissionPrediction struct {
	PredictedEmissions float64  `json:"predicted_emissions"`
	Confidence         int      `json:"confidence"`
	Trend              Trend    `json:"trend"`
	Factors            []string `json:"factors"`
	Recommendations    []string `json:"recommendations"`
	Source             Source   `json:"source"`
}

// BehaviorAnalysis is the result of AnalyzeBehavior
type BehaviorAnalysis struct {
	Score       int      `json:"score"`
	Insights    []string `json:"insights"`
	Patterns    []string `json:"patterns"`
	Suggestions []string `json:"suggestions"`
	Source      Source   `json:"source"`
}

// CreditSuggestion is one line of a CreditAllocation
type CreditSuggestion struct {
	ProjectType    string  `json:"project_type"`
	Region         string  `json:"region"`
	Credits        float64 `json:"credits"`
	PricePerCredit float64 `json:"price_per_credit"`
	Cost           float64 `json:"cost"`
	Reason         string  `json:"reason"`
}

// CreditAllocation is the result of RecommendCredits
type CreditAllocation struct {
	Allocations  []CreditSuggestion `json:"allocations"`
	TotalCredits float64            `json:"total_credits"`
	TotalCost    float64            `json:"total_cost"`
	Rationale    string             `json:"rationale"`
	Source       Source             `json:"source"`
}

func (RecommendationSet) Kind() Kind  { return KindRecommendations }
func (EmissionPrediction) Kind() Kind { return KindPrediction }
func (BehaviorAnalysis) Kind() Kind   { return KindBehavior }
func (CreditAllocation) Kind() Kind   { return KindCredits }

func (r RecommendationSet) Origin() Source  { return r.Source }
func (r EmissionPrediction) Origin() Source { return r.Source }
func (r BehaviorAnalysis) Origin() Source   { return r.Source }
func (r CreditAllocation) Origin() Source   { return r.Source }

func (RecommendationSet) sealed()  {}
func (EmissionPrediction) sealed() {}
func (BehaviorAnalysis) sealed()   {}
func (CreditAllocation) sealed()   {}

// Mean returns the arithmetic mean of the history, or 0 when it is empty
func (h EmissionHistory) Mean() float64 {
	if len(h.Monthly) == 0 {
		return 0
	}
	var sum float64
	for _, v := range h.Monthly {
		sum += v
	}
	return sum / float64(len(h.Monthly))
}

// TotalEmissions sums the emissions of every activity in the log
func (l ActivityLog) TotalEmissions() float64 {
	var total float64
	for _, a := range l.Activities {
		total += a.EmissionsKg
	}
	return total
}
