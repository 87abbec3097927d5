package backup

import (
	"context"
	"fmt"
	"time"

	"custodia/internal/logging"
)

// CleanupReport summarizes one retention cleanup pass
type CleanupReport struct {
	Examined     int      `json:"examined"`
	Deleted      int      `json:"deleted"`
	FreedBytes   int64    `json:"freed_bytes"`
	DryRun       bool     `json:"dry_run"`
	DeletedPaths []string `json:"deleted_paths,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// RetentionManager deletes artifacts whose retention period has elapsed.
// Cleanup is idempotent: an artifact already gone counts as deleted, so a
// crashed pass can simply be rerun.
type RetentionManager struct {
	manifests *ManifestStore
	config    *RetentionConfig
	monitor   Monitor
	logger    *logging.Logger
}

// NewRetentionManager creates a retention manager
func NewRetentionManager(manifests *ManifestStore, config *RetentionConfig, monitor Monitor, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if monitor == nil {
		monitor = NewNoopMonitor()
	}
	return &RetentionManager{
		manifests: manifests,
		config:    config,
		monitor:   monitor,
		logger:    logger,
	}
}

// CleanupExpired removes every artifact whose retention deadline has passed.
// Under dryRun the report lists what would be deleted without touching
// storage. Per-artifact failures are collected, not fatal.
func (rm *RetentionManager) CleanupExpired(ctx context.Context, now time.Time, dryRun bool) (*CleanupReport, error) {
	start := time.Now()

	manifests, err := rm.manifests.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{DryRun: dryRun}

	for _, manifest := range manifests {
		if err := ctx.Err(); err != nil {
			return report, NewDependencyError("cleanup cancelled", err)
		}

		report.Examined++
		if !manifest.Expired(now) {
			continue
		}

		if dryRun {
			report.Deleted++
			report.FreedBytes += manifest.Size
			report.DeletedPaths = append(report.DeletedPaths, manifest.ArtifactPath)
			continue
		}

		if err := rm.manifests.Delete(ctx, manifest); err != nil {
			// A missing artifact means a previous pass got this far; the
			// deletion already happened.
			if IsNotFound(err) {
				report.Deleted++
				continue
			}
			report.Errors = append(report.Errors,
				fmt.Sprintf("failed to delete %s: %v", manifest.ArtifactPath, err))
			continue
		}

		report.Deleted++
		report.FreedBytes += manifest.Size
		report.DeletedPaths = append(report.DeletedPaths, manifest.ArtifactPath)
	}

	rm.logger.LogRetentionCleanup(report.Deleted, len(report.Errors), dryRun, time.Since(start))
	rm.monitor.TrackStorageMetrics(StorageMetrics{
		Provider:     rm.manifests.storage.Provider(),
		ObjectCount:  report.Examined - report.Deleted,
		DeletedCount: report.Deleted,
	})

	return report, nil
}
