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
	"fmt"
	"strings"

	"github.com/your-org/carbonai/internal/carbon"
)

// BuildSystemPrompt creates the system prompt for a request shape
func BuildSystemPrompt(kind carbon.Kind) string {
	base := `You are CarbonAI, an expert sustainability advisor. You help individuals and households understand and reduce their carbon footprint with practical, measurable actions.

Always respond with valid JSON only, without markdown fences or commentary. Use kilograms of CO2e for emissions and US dollars for costs.`

	switch kind {
	case carbon.KindPrediction:
		return base + `

Respond with a JSON object:
{"predictedEmissions": number, "confidence": 0-100, "trend": "increasing"|"decreasing"|"stable", "factors": [string], "recommendations": [string]}`
	case carbon.KindBehavior:
		return base + `

Respond with a JSON object:
{"score": 0-100, "insights": [string], "patterns": [string], "suggestions": [string]}`
	case carbon.KindCredits:
		return base + `

Respond with a JSON object:
{"allocations": [{"projectType": string, "region": string, "credits": number, "pricePerCredit": number, "cost": number, "reason": string}], "rationale": string}`
	default:
		return base + `

Respond with a JSON array of 3 to 5 recommendations:
[{"title": string, "description": string, "category": "reduction"|"purchase"|"optimization"|"behavioral", "priority": "high"|"medium"|"low", "potentialReduction": number, "estimatedCost": number, "timeframe": string, "confidence": 0-100, "steps": [string]}]`
	}
}

// BuildRecommendationsPrompt creates the user prompt for a profile
func BuildRecommendationsPrompt(profile carbon.Profile) string {
	prompt := "Generate personalized carbon reduction recommendations.\n\n--- User Profile ---\n"
	prompt += fmt.Sprintf("Budget: $%.2f\n", profile.Budget)
	prompt += fmt.Sprintf("Monthly emissions: %.1f kg CO2e\n", profile.MonthlyEmissionsKg)
	if profile.Location != "" {
		prompt += fmt.Sprintf("Location: %s\n", profile.Location)
	}
	if profile.HouseholdSize > 0 {
		prompt += fmt.Sprintf("Household size: %d\n", profile.HouseholdSize)
	}
	if len(profile.Categories) > 0 {
		prompt += fmt.Sprintf("Main emission categories: %s\n", strings.Join(profile.Categories, ", "))
	}
	if len(profile.Goals) > 0 {
		prompt += fmt.Sprintf("Goals: %s\n", strings.Join(profile.Goals, ", "))
	}

	prompt += "\nKeep the total estimated cost within the budget and include at least one zero-cost action."
	return prompt
}

// BuildPredictionPrompt creates the user prompt for an emission history
func BuildPredictionPrompt(history carbon.EmissionHistory) string {
	values := make([]string, len(history.Monthly))
	for i, v := range history.Monthly {
		values[i] = fmt.Sprintf("%.1f", v)
	}

	prompt := "Predict next month's carbon emissions.\n\n--- Monthly Emissions (kg CO2e, oldest first) ---\n"
	if len(values) == 0 {
		prompt += "No history recorded.\n"
	} else {
		prompt += strings.Join(values, ", ") + "\n"
		prompt += fmt.Sprintf("Average: %.1f\n", history.Mean())
	}

	prompt += "\nExplain the main factors behind the prediction."
	return prompt
}

// BuildBehaviorPrompt creates the user prompt for an activity log
func BuildBehaviorPrompt(log carbon.ActivityLog) string {
	prompt := "Analyze these activities for carbon-relevant behavior patterns.\n\n--- Activities ---\n"
	if len(log.Activities) == 0 {
		prompt += "No activities recorded.\n"
	}
	for i, a := range log.Activities {
		line := fmt.Sprintf("Activity %d: %s, %.1f kg CO2e", i+1, a.Type, a.EmissionsKg)
		if a.Date != "" {
			line += " on " + a.Date
		}
		if a.Description != "" {
			line += " (" + a.Description + ")"
		}
		prompt += line + "\n"
	}
	prompt += fmt.Sprintf("Total: %.1f kg CO2e\n", log.TotalEmissions())

	prompt += "\nScore the user's sustainability from 0 to 100 and suggest improvements."
	return prompt
}

// BuildCreditsPrompt creates the user prompt for credit preferences
func BuildCreditsPrompt(prefs carbon.CreditPreferences) string {
	prompt := "Recommend a carbon credit portfolio.\n\n--- Preferences ---\n"
	prompt += fmt.Sprintf("Budget: $%.2f\n", prefs.Budget)
	if prefs.TargetOffsetKg > 0 {
		prompt += fmt.Sprintf("Target offset: %.1f kg CO2e\n", prefs.TargetOffsetKg)
	}
	if len(prefs.ProjectTypes) > 0 {
		prompt += fmt.Sprintf("Preferred project types: %s\n", strings.Join(prefs.ProjectTypes, ", "))
	}
	if len(prefs.Regions) > 0 {
		prompt += fmt.Sprintf("Preferred regions: %s\n", strings.Join(prefs.Regions, ", "))
	}

	prompt += "\nOnly include verified projects and keep the total cost within the budget."
	return prompt
}
