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

// Package fallback generates deterministic content for every request shape so
// callers always have something to render while the AI provider is unavailable.
// All functions are pure: the same input always yields the same output.
package fallback

import (
	"fmt"
	"math"

	"github.com/your-org/carbonai/internal/carbon"
)

const (
	// PredictionFactor scales the historical mean to project a modest improvement
	PredictionFactor = 0.95
	// Confidence is reported on every generated recommendation and prediction
	Confidence = 60
	// BehaviorScore is the constant score of the fallback behavior analysis
	BehaviorScore = 65

	// smallBudget is the budget below which appliance upgrades are replaced by
	// a low-cost lighting swap
	smallBudget = 100.0
	// offsetShare is the share of the budget suggested for carbon credits
	offsetShare = 0.2
	// kgPerCredit is one metric ton of CO2e
	kgPerCredit = 1000.0
)

// portfolio is the fixed credit split used by Credits
var portfolio = []struct {
	projectType string
	share       float64
	price       float64
	reason      string
}{
	{"Reforestation", 0.5, 12.0, "Nature-based removal with community co-benefits"},
	{"Renewable energy", 0.3, 8.0, "Low-cost avoidance credits that displace fossil generation"},
	{"Methane capture", 0.2, 15.0, "High-integrity reductions of a potent greenhouse gas"},
}

// Recommendations returns a fixed, diversified set with one recommendation per
// category. Only costs and the offset size depend on the profile budget.
func Recommendations(profile carbon.Profile) carbon.RecommendationSet {
	budget := math.Max(profile.Budget, 0)

	efficiency := carbon.Recommendation{
		ID:                   "fallback-2",
		Title:                "Upgrade to energy-efficient appliances",
		Description:          "Replace your oldest high-use appliance with an ENERGY STAR rated model.",
		Category:             carbon.CategoryOptimization,
		Priority:             carbon.PriorityMedium,
		PotentialReductionKg: 30,
		EstimatedCost:        round2(math.Min(budget*0.5, 1500)),
		Timeframe:            "1-3 months",
		Confidence:           Confidence,
		Steps: []string{
			"Identify the appliance with the highest energy use",
			"Compare efficiency ratings of replacement models",
			"Recycle the old appliance responsibly",
		},
	}
	if budget < smallBudget {
		efficiency.Title = "Switch to LED lighting"
		efficiency.Description = "Replace the most used incandescent or halogen bulbs with LEDs."
		efficiency.PotentialReductionKg = 10
		efficiency.EstimatedCost = round2(math.Min(budget, 40))
		efficiency.Timeframe = "1 week"
		efficiency.Steps = []string{
			"List the five most used light fixtures",
			"Replace those bulbs with LEDs",
		}
	}

	offsetCost := round2(budget * offsetShare)

	return carbon.RecommendationSet{
		Recommendations: []carbon.Recommendation{
			{
				ID:                   "fallback-1",
				Title:                "Reduce home heating and cooling",
				Description:          "Lower your thermostat by 1-2°C in winter and raise it in summer.",
				Category:             carbon.CategoryReduction,
				Priority:             carbon.PriorityHigh,
				PotentialReductionKg: 50,
				EstimatedCost:        0,
				Timeframe:            "Immediate",
				Confidence:           Confidence,
				Steps: []string{
					"Adjust the thermostat schedule",
					"Seal drafts around windows and doors",
				},
			},
			efficiency,
			{
				ID:                   "fallback-3",
				Title:                "Change commuting habits",
				Description:          "Replace two car trips per week with walking, cycling or public transport.",
				Category:             carbon.CategoryBehavioral,
				Priority:             carbon.PriorityMedium,
				PotentialReductionKg: 40,
				EstimatedCost:        0,
				Timeframe:            "1 month",
				Confidence:           Confidence,
				Steps: []string{
					"Pick two regular trips that have a car-free option",
					"Track the trips you replaced each week",
				},
			},
			{
				ID:                   "fallback-4",
				Title:                "Offset remaining emissions",
				Description:          fmt.Sprintf("Put $%.2f of your budget toward verified carbon credits.", offsetCost),
				Category:             carbon.CategoryPurchase,
				Priority:             carbon.PriorityLow,
				PotentialReductionKg: round2(offsetCost / portfolio[0].price * kgPerCredit),
				EstimatedCost:        offsetCost,
				Timeframe:            "Immediate",
				Confidence:           Confidence,
				Steps: []string{
					"Choose a registry-verified project",
					"Retire the credits in your name",
				},
			},
		},
		Source: carbon.SourceFallback,
	}
}

// Prediction projects next month's emissions as the historical mean scaled by
// PredictionFactor. The trend compares the last value with the first.
func Prediction(history carbon.EmissionHistory) carbon.EmissionPrediction {
	trend := carbon.TrendStable
	if n := len(history.Monthly); n > 1 {
		first, last := history.Monthly[0], history.Monthly[n-1]
		switch {
		case last < first:
			trend = carbon.TrendDecreasing
		case last > first:
			trend = carbon.TrendIncreasing
		}
	}

	return carbon.EmissionPrediction{
		PredictedEmissions: history.Mean() * PredictionFactor,
		Confidence:         Confidence,
		Trend:              trend,
		Factors: []string{
			"Average of your recorded monthly emissions",
			"Expected gains from ongoing reduction efforts",
		},
		Recommendations: []string{
			"Keep logging monthly emissions to improve projections",
			"Focus on your largest emission category next month",
		},
		Source: carbon.SourceFallback,
	}
}

// Behavior returns a fixed analysis with a constant score
func Behavior(_ carbon.ActivityLog) carbon.BehaviorAnalysis {
	return carbon.BehaviorAnalysis{
		Score: BehaviorScore,
		Insights: []string{
			"Transportation is typically the largest share of personal emissions",
			"Home energy use offers quick, low-cost savings",
			"Consistent tracking is the strongest predictor of lasting reductions",
		},
		Patterns: []string{
			"Emissions tend to peak on weekdays with commuting",
			"Heating and cooling drive seasonal variation",
		},
		Suggestions: []string{
			"Combine errands into fewer car trips",
			"Set a weekly emissions goal and review it every Sunday",
			"Try one plant-based day per week",
		},
		Source: carbon.SourceFallback,
	}
}

// Credits splits the budget across a fixed project portfolio. Preferred
// regions are assigned to the lines in order.
func Credits(prefs carbon.CreditPreferences) carbon.CreditAllocation {
	budget := math.Max(prefs.Budget, 0)

	alloc := carbon.CreditAllocation{
		Allocations: make([]carbon.CreditSuggestion, 0, len(portfolio)),
		Rationale:   "A diversified portfolio balancing removal and avoidance credits.",
		Source:      carbon.SourceFallback,
	}

	for i, p := range portfolio {
		region := "Global"
		if len(prefs.Regions) > 0 {
			region = prefs.Regions[i%len(prefs.Regions)]
		}

		cost := round2(budget * p.share)
		credits := round2(cost / p.price)

		alloc.Allocations = append(alloc.Allocations, carbon.CreditSuggestion{
			ProjectType:    p.projectType,
			Region:         region,
			Credits:        credits,
			PricePerCredit: p.price,
			Cost:           cost,
			Reason:         p.reason,
		})
		alloc.TotalCredits += credits
		alloc.TotalCost += cost
	}
	alloc.TotalCredits = round2(alloc.TotalCredits)
	alloc.TotalCost = round2(alloc.TotalCost)

	return alloc
}

// For returns the fallback result for the given request shape
func For(kind carbon.Kind, input any) carbon.Result {
	switch kind {
	case carbon.KindPrediction:
		h, _ := input.(carbon.EmissionHistory)
		return Prediction(h)
	case carbon.KindBehavior:
		l, _ := input.(carbon.ActivityLog)
		return Behavior(l)
	case carbon.KindCredits:
		p, _ := input.(carbon.CreditPreferences)
		return Credits(p)
	default:
		p, _ := input.(carbon.Profile)
		return Recommendations(p)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
