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

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/carbonai/internal/carbon"
	"github.com/your-org/carbonai/internal/config"
	"github.com/your-org/carbonai/internal/orchestrator"
)

// statusOutput is printed by the status command
type statusOutput struct {
	KeyStatus orchestrator.KeyStatus `json:"key_status"`
	Message   string                 `json:"message"`
	Config    *config.Config         `json:"config"`
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configuration and API key status without calling the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			status := orchestrator.DeriveKeyStatus(cfg.AI.APIKey, false)
			return writeJSON(cmd.OutOrStdout(), statusOutput{
				KeyStatus: status,
				Message:   status.Message(),
				Config:    cfg.MaskSensitiveValues(),
			})
		},
	}
}

func newPredictCmd(configPath *string) *cobra.Command {
	var months []float64

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict next month's emissions from a monthly history",
		Example: `  carbonai predict --history 45,42,48,41,39,37`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd, *configPath, func(orch *orchestrator.Orchestrator) carbon.Result {
				return orch.PredictEmissions(cmd.Context(), carbon.EmissionHistory{Monthly: months})
			})
		},
	}
	cmd.Flags().Float64SliceVar(&months, "history", nil, "monthly emissions in kg CO2e, oldest first")
	_ = cmd.MarkFlagRequired("history")
	return cmd
}

func newRecommendCmd(configPath *string) *cobra.Command {
	var profile carbon.Profile

	cmd := &cobra.Command{
		Use:     "recommend",
		Short:   "Generate carbon reduction recommendations for a budget",
		Example: `  carbonai recommend --budget 500 --emissions 800 --location Berlin`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile.Budget < 0 {
				return fmt.Errorf("budget must not be negative")
			}
			return withOrchestrator(cmd, *configPath, func(orch *orchestrator.Orchestrator) carbon.Result {
				return orch.GenerateRecommendations(cmd.Context(), profile)
			})
		},
	}
	cmd.Flags().Float64Var(&profile.Budget, "budget", 0, "budget in USD")
	cmd.Flags().Float64Var(&profile.MonthlyEmissionsKg, "emissions", 0, "current monthly emissions in kg CO2e")
	cmd.Flags().StringVar(&profile.Location, "location", "", "user location")
	cmd.Flags().IntVar(&profile.HouseholdSize, "household", 0, "household size")
	cmd.Flags().StringSliceVar(&profile.Categories, "categories", nil, "main emission categories")
	cmd.Flags().StringSliceVar(&profile.Goals, "goals", nil, "reduction goals")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

// withOrchestrator builds a short-lived orchestrator, runs analyze and prints
// the result as JSON
func withOrchestrator(cmd *cobra.Command, configPath string, analyze func(*orchestrator.Orchestrator) carbon.Result) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, _, err := initializeLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	orch, err := orchestrator.New(orchestratorConfig(cfg), orchestrator.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	defer orch.Close()

	result := analyze(orch)
	logger.Debug("Analysis complete",
		zap.String("kind", string(result.Kind())),
		zap.String("source", string(result.Origin())))

	return writeJSON(cmd.OutOrStdout(), result)
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
