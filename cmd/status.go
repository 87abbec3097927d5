package cmd

import (
	"fmt"

	"custodia/internal/display"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show one backup execution, or an aggregate summary without an ID",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the configured storage backend is reachable",
	RunE:  checkHealth,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	if len(args) == 0 {
		summary := app.Orchestrator.Summary()
		if out.Format() == display.FormatJSON {
			return out.PrintJSON(summary)
		}

		out.PrintHeader("Backup Status")
		out.Info(fmt.Sprintf("Active executions: %d", summary.ActiveExecutions))
		out.Info(fmt.Sprintf("Total executions: %d", summary.TotalExecutions))
		for status, count := range summary.StatusCounts {
			out.Info(fmt.Sprintf("%s: %d", status, count))
		}
		if summary.LastExecution != nil {
			out.Info(fmt.Sprintf("Last execution: %s (%s)",
				summary.LastExecution.ExecutionID, summary.LastExecution.Status))
		}
		return nil
	}

	result, err := app.Orchestrator.GetStatus(args[0])
	if err != nil {
		return err
	}
	return out.PrintJSON(result)
}

func checkHealth(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Storage.HealthCheck(cmd.Context()); err != nil {
		out.Error(fmt.Sprintf("Storage backend unhealthy: %v", err))
		return err
	}

	info := app.Storage.GetStorageInfo()
	if out.Format() == display.FormatJSON {
		return out.PrintJSON(info)
	}

	out.Success(fmt.Sprintf("Storage backend %s is healthy", app.Storage.Provider()))
	for key, value := range info {
		out.Info(fmt.Sprintf("%s: %v", key, value))
	}
	return nil
}
