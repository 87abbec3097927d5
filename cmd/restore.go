package cmd

import (
	"fmt"
	"time"

	"custodia/internal/backup"
	"custodia/internal/display"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore from backups and inspect restore history",
}

var restoreRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one restore operation",
	RunE:  runRestore,
}

var restoreStatusCmd = &cobra.Command{
	Use:   "status <restore-id>",
	Short: "Show the status of one restore",
	Args:  cobra.ExactArgs(1),
	RunE:  showRestoreStatus,
}

var restoreHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished restore operations",
	RunE:  listRestoreHistory,
}

var (
	restoreType    string
	restoreSources []string
	restoreTargets []string
	restoreAt      string
	restoreDryRun  bool
	restoreForce   bool
	noSafetyChecks bool
	requireComply  bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreRunCmd)
	restoreCmd.AddCommand(restoreStatusCmd)
	restoreCmd.AddCommand(restoreHistoryCmd)

	restoreRunCmd.Flags().StringVar(&restoreType, "type", "", "restore type (DATABASE_FULL, FILES_FULL, CONFIG_FULL, SYSTEM_FULL)")
	restoreRunCmd.Flags().StringSliceVar(&restoreSources, "source", nil, "source artifact IDs")
	restoreRunCmd.Flags().StringSliceVar(&restoreTargets, "target-path", nil, "restrict restore to these paths")
	restoreRunCmd.Flags().StringVar(&restoreAt, "target-time", "", "point-in-time target (RFC3339)")
	restoreRunCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "report what would be restored without writing")
	restoreRunCmd.Flags().BoolVar(&restoreForce, "force", false, "bypass non-compliance pre-flight failures")
	restoreRunCmd.Flags().BoolVar(&noSafetyChecks, "no-safety-checks", false, "skip the pre-flight safety gate")
	restoreRunCmd.Flags().BoolVar(&requireComply, "compliance", false, "require encrypted sources")

	restoreRunCmd.MarkFlagRequired("type")
	restoreRunCmd.MarkFlagRequired("source")
}

func runRestore(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	request := &backup.RestoreRequest{
		RestoreID:           backup.GenerateRestoreID(),
		Type:                backup.RestoreType(restoreType),
		SourceBackupIDs:     restoreSources,
		TargetPaths:         restoreTargets,
		SafetyChecksEnabled: !noSafetyChecks,
		DryRun:              restoreDryRun,
		Force:               restoreForce,
		ComplianceRequired:  requireComply,
	}

	if restoreAt != "" {
		target, err := time.Parse(time.RFC3339, restoreAt)
		if err != nil {
			return fmt.Errorf("invalid --target-time, expected RFC3339: %w", err)
		}
		request.TargetTime = &target
	}

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out.Info(fmt.Sprintf("Starting %s restore %s", request.Type, request.RestoreID))
	if restoreDryRun {
		out.Warning("Dry run: no target state will change")
	}

	result, err := app.Restore.Restore(cmd.Context(), request)
	if err != nil && result == nil {
		out.Error(err.Error())
		return err
	}

	if out.Format() == display.FormatJSON {
		return out.PrintJSON(result)
	}

	out.PrintHeader("Restore Result")
	out.PrintTable(
		[]string{"Restore", "Type", "Status", "Items", "Rollback Snapshot"},
		[][]string{{
			result.RestoreID,
			string(result.Type),
			string(result.Status),
			fmt.Sprintf("%d", len(result.RestoredItems)),
			result.RollbackBackupID,
		}},
	)

	for _, warning := range result.Warnings {
		out.Warning(warning)
	}
	for check, ok := range result.ValidationResults {
		if ok {
			out.Success(fmt.Sprintf("validation %s passed", check))
		} else {
			out.Error(fmt.Sprintf("validation %s failed", check))
		}
	}

	switch result.Status {
	case backup.RestoreStatusCompleted:
		out.Success(fmt.Sprintf("Restore %s completed", result.RestoreID))
		return nil
	case backup.RestoreStatusRolledBack:
		out.Warning(fmt.Sprintf("Restore %s failed and was rolled back: %s", result.RestoreID, result.ErrorMessage))
	default:
		out.Error(fmt.Sprintf("Restore %s finished %s: %s", result.RestoreID, result.Status, result.ErrorMessage))
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("restore %s finished %s", result.RestoreID, result.Status)
}

func showRestoreStatus(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Restore.GetRestoreStatus(args[0])
	if err != nil {
		return err
	}
	return out.PrintJSON(result)
}

func listRestoreHistory(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	history := app.Restore.ListRestoreHistory()
	if out.Format() == display.FormatJSON {
		return out.PrintJSON(history)
	}

	rows := make([][]string, 0, len(history))
	for _, result := range history {
		rows = append(rows, []string{
			result.RestoreID,
			string(result.Type),
			string(result.Status),
			fmt.Sprintf("%d", len(result.RestoredItems)),
			result.StartTime.Format("2006-01-02 15:04"),
		})
	}

	out.PrintHeader("Restore History")
	out.PrintTable([]string{"Restore", "Type", "Status", "Items", "Started"}, rows)
	return nil
}
