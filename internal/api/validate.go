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

package api

import (
	"fmt"
	"math"

	"github.com/your-org/carbonai/internal/carbon"
)

const (
	// MaxHistoryMonths bounds the emission history accepted for prediction
	MaxHistoryMonths = 120
	// MaxActivities bounds the activity log accepted for behavior analysis
	MaxActivities = 500
)

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number", field)
	}
	if v < 0 {
		return fmt.Errorf("%s must not be negative", field)
	}
	return nil
}

func validateProfile(p carbon.Profile) error {
	if err := nonNegative("budget", p.Budget); err != nil {
		return err
	}
	if err := nonNegative("monthly_emissions_kg", p.MonthlyEmissionsKg); err != nil {
		return err
	}
	if p.HouseholdSize < 0 {
		return fmt.Errorf("household_size must not be negative")
	}
	return nil
}

func validateHistory(h carbon.EmissionHistory) error {
	if len(h.Monthly) > MaxHistoryMonths {
		return fmt.Errorf("history must have at most %d months, got %d", MaxHistoryMonths, len(h.Monthly))
	}
	for i, v := range h.Monthly {
		if err := nonNegative(fmt.Sprintf("monthly[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

func validateActivityLog(l carbon.ActivityLog) error {
	if len(l.Activities) > MaxActivities {
		return fmt.Errorf("activity log must have at most %d entries, got %d", MaxActivities, len(l.Activities))
	}
	for i, a := range l.Activities {
		if err := nonNegative(fmt.Sprintf("activities[%d].emissions_kg", i), a.EmissionsKg); err != nil {
			return err
		}
	}
	return nil
}

func validateCreditPreferences(p carbon.CreditPreferences) error {
	if err := nonNegative("budget", p.Budget); err != nil {
		return err
	}
	return nonNegative("target_offset_kg", p.TargetOffsetKg)
}
