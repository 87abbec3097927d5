package cmd

import (
	"fmt"

	"custodia/internal/display"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete artifacts whose retention period has elapsed",
	RunE:  runCleanup,
}

var cleanupDryRun bool

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.Orchestrator.CleanupExpired(cmd.Context(), cleanupDryRun)
	if err != nil {
		return err
	}

	if out.Format() == display.FormatJSON {
		return out.PrintJSON(report)
	}

	out.PrintHeader("Retention Cleanup")
	verb := "Deleted"
	if report.DryRun {
		verb = "Would delete"
	}
	out.Info(fmt.Sprintf("%s %d of %d artifacts, freeing %s",
		verb, report.Deleted, report.Examined, display.FormatBytes(report.FreedBytes)))

	for _, path := range report.DeletedPaths {
		out.Info(path)
	}
	for _, errMsg := range report.Errors {
		out.Error(errMsg)
	}

	if len(report.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d errors", len(report.Errors))
	}
	return nil
}
