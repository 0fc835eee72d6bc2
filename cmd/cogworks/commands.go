package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pvandervelde/cog-works-sub002/internal/app/dto"
	"github.com/pvandervelde/cog-works-sub002/internal/core/pipeline"
)

var (
	runPipeline string
	runName     string
	runInitial  string
	runBudget   float64
	runWorkers  int
)

var runCmd = &cobra.Command{
	Use:   "run <work-item-id>",
	Short: "Start a pipeline run against one work item and drive it to a terminal outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workItem, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("work item must be a numeric identifier: %w", err)
		}

		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.close()

		initial := map[string]any{"work_item": workItem}
		if runInitial != "" {
			if err := json.Unmarshal([]byte(runInitial), &initial); err != nil {
				return fmt.Errorf("initial state must be a JSON object: %w", err)
			}
		}

		budget := runBudget
		if budget == 0 {
			budget = env.settings.Run.BudgetLimit
		}
		workers := runWorkers
		if workers == 0 {
			workers = env.settings.Run.MaxConcurrent
		}

		name, err := env.pipelineName(runName)
		if err != nil {
			return err
		}

		resp, err := env.runtime.StartRun(cmd.Context(), &dto.RunRequest{
			Pipeline: name,
			WorkItem: pipeline.WorkItemID(workItem),
			Initial:  initial,
			Config: dto.RunConfig{
				BudgetLimit:   budget,
				MaxConcurrent: workers,
				RunTimeout:    env.settings.Run.RunTimeout,
				OracleTimeout: env.settings.Oracle.EvalTimeout,
			},
		})
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a persisted run; a terminal run returns its outcome unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.close()

		resp, err := env.runtime.ResumeRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Flag a run for graceful stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.runtime.CancelRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("run %s flagged for cancellation\n", args[0])
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <run-id>",
	Short: "Show the persisted state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := buildEnv()
		if err != nil {
			return err
		}
		defer env.close()

		status, err := env.runtime.GetRunState(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPipeline, "pipeline", "", "pipeline definition file (overrides COGWORKS_PIPELINE_FILE)")
	runCmd.Flags().StringVar(&runName, "name", "", "pipeline name when the file defines several")
	runCmd.Flags().StringVar(&runInitial, "initial", "", "initial run state as a JSON object")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "cost ceiling in USD (0 uses configured default)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "max concurrent node executions (0 uses configured default)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
