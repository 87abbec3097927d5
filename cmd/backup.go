package cmd

import (
	"fmt"
	"strings"
	"time"

	"custodia/internal/backup"
	"custodia/internal/display"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run and inspect backup jobs",
}

var backupRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Execute one backup job and wait for its verification",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured backup jobs",
	RunE:  listBackupJobs,
}

var backupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored backup artifacts, newest first",
	RunE:  listBackupArtifacts,
}

var historyComponent string

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupHistoryCmd)

	backupHistoryCmd.Flags().StringVar(&historyComponent, "component", "", "filter by component (DATABASE, FILES, CONFIG)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	job, err := findJob(args[0])
	if err != nil {
		return err
	}

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := app.HandleSignals(cmd.Context())

	out.Info(fmt.Sprintf("Running backup job %s (%s tier)", job.ID, job.Tier))

	result, err := app.Orchestrator.ScheduleBackup(ctx, job)
	if err != nil {
		out.Error(err.Error())
		return err
	}

	if out.Format() == display.FormatJSON {
		return out.PrintJSON(result)
	}

	out.PrintHeader("Backup Result")
	out.PrintTable(
		[]string{"Execution", "Status", "Duration", "Size", "Artifacts"},
		[][]string{{
			result.ExecutionID,
			string(result.Status),
			result.Duration().Round(time.Millisecond).String(),
			display.FormatBytes(result.TotalSize),
			fmt.Sprintf("%d", len(result.ArtifactPaths)),
		}},
	)

	for component, ok := range result.ComponentSuccess {
		if ok {
			out.Success(fmt.Sprintf("%s backed up", component))
		} else {
			out.Error(fmt.Sprintf("%s failed", component))
		}
	}

	if result.Status != backup.BackupStatusVerified {
		out.Error(fmt.Sprintf("Backup finished %s: %s", result.Status, result.ErrorMessage))
		return fmt.Errorf("backup %s finished %s", result.ExecutionID, result.Status)
	}

	out.Success(fmt.Sprintf("Backup %s verified, aggregate checksum %s",
		result.ExecutionID, result.AggregateChecksum[:12]))
	return nil
}

func listBackupJobs(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	jobs := backup.DefaultTierJobs()
	if out.Format() == display.FormatJSON {
		return out.PrintJSON(jobs)
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		components := make([]string, 0, len(job.Components))
		for _, component := range job.Components {
			components = append(components, string(component))
		}
		rows = append(rows, []string{
			job.ID,
			string(job.Tier),
			strings.Join(components, ","),
			fmt.Sprintf("%dd", job.RetentionDays),
			fmt.Sprintf("%t", job.ComplianceRequired),
		})
	}

	out.PrintHeader("Backup Jobs")
	out.PrintTable([]string{"ID", "Tier", "Components", "Retention", "Compliance"}, rows)
	return nil
}

func listBackupArtifacts(cmd *cobra.Command, args []string) error {
	out := newDisplay()

	app, err := buildApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	manifests, err := app.Manifests.List(cmd.Context(), "", 0)
	if err != nil {
		return err
	}

	if historyComponent != "" {
		filtered := manifests[:0]
		for _, manifest := range manifests {
			if string(manifest.Component) == strings.ToUpper(historyComponent) {
				filtered = append(filtered, manifest)
			}
		}
		manifests = filtered
	}

	if out.Format() == display.FormatJSON {
		return out.PrintJSON(manifests)
	}

	rows := make([][]string, 0, len(manifests))
	for _, manifest := range manifests {
		rows = append(rows, []string{
			manifest.ArtifactID[:8],
			string(manifest.Component),
			string(manifest.Kind),
			display.FormatBytes(manifest.Size),
			fmt.Sprintf("%t", manifest.Encrypted),
			manifest.CreatedAt.Format("2006-01-02 15:04"),
			manifest.RetentionUntil.Format("2006-01-02"),
		})
	}

	out.PrintHeader("Stored Artifacts")
	out.PrintTable([]string{"Artifact", "Component", "Kind", "Size", "Encrypted", "Created", "Retained Until"}, rows)
	return nil
}
