package backup

import (
	"time"

	"custodia/internal/logging"
)

// BackupMetrics summarizes one finished backup execution for monitoring
type BackupMetrics struct {
	JobID             string
	ExecutionID       string
	Tier              BackupTier
	Status            BackupStatus
	Duration          time.Duration
	TotalSize         int64
	ComponentCount    int
	FailedComponents  int
	ComplianceChecked bool
}

// RestoreMetrics summarizes one finished restore operation for monitoring
type RestoreMetrics struct {
	RestoreID  string
	Type       RestoreType
	Status     RestoreStatus
	Duration   time.Duration
	ItemCount  int
	RolledBack bool
}

// StorageMetrics summarizes storage usage after a cleanup or health pass
type StorageMetrics struct {
	Provider     StorageProviderType
	ObjectCount  int
	TotalSize    int64
	DeletedCount int
}

// Monitor receives execution metrics. The orchestrator and restore service
// call it at terminal state transitions only.
type Monitor interface {
	TrackBackupMetrics(metrics BackupMetrics)
	TrackRestoreMetrics(metrics RestoreMetrics)
	TrackStorageMetrics(metrics StorageMetrics)
}

// LoggingMonitor emits metrics as structured log entries
type LoggingMonitor struct {
	logger *logging.Logger
}

// NewLoggingMonitor creates a monitor backed by the given logger
func NewLoggingMonitor(logger *logging.Logger) *LoggingMonitor {
	return &LoggingMonitor{logger: logger}
}

// TrackBackupMetrics logs backup execution metrics
func (lm *LoggingMonitor) TrackBackupMetrics(metrics BackupMetrics) {
	lm.logger.WithFields(map[string]interface{}{
		"metric":            "backup_execution",
		"job_id":            metrics.JobID,
		"execution_id":      metrics.ExecutionID,
		"tier":              metrics.Tier,
		"status":            metrics.Status,
		"duration":          metrics.Duration.String(),
		"total_size":        metrics.TotalSize,
		"component_count":   metrics.ComponentCount,
		"failed_components": metrics.FailedComponents,
		"compliance":        metrics.ComplianceChecked,
	}).Info("Backup metrics recorded")
}

// TrackRestoreMetrics logs restore execution metrics
func (lm *LoggingMonitor) TrackRestoreMetrics(metrics RestoreMetrics) {
	lm.logger.WithFields(map[string]interface{}{
		"metric":      "restore_execution",
		"restore_id":  metrics.RestoreID,
		"type":        metrics.Type,
		"status":      metrics.Status,
		"duration":    metrics.Duration.String(),
		"item_count":  metrics.ItemCount,
		"rolled_back": metrics.RolledBack,
	}).Info("Restore metrics recorded")
}

// TrackStorageMetrics logs storage usage metrics
func (lm *LoggingMonitor) TrackStorageMetrics(metrics StorageMetrics) {
	lm.logger.WithFields(map[string]interface{}{
		"metric":        "storage_usage",
		"provider":      metrics.Provider,
		"object_count":  metrics.ObjectCount,
		"total_size":    metrics.TotalSize,
		"deleted_count": metrics.DeletedCount,
	}).Info("Storage metrics recorded")
}

// NoopMonitor discards all metrics
type NoopMonitor struct{}

// NewNoopMonitor creates a monitor that discards all metrics
func NewNoopMonitor() *NoopMonitor {
	return &NoopMonitor{}
}

func (nm *NoopMonitor) TrackBackupMetrics(BackupMetrics)   {}
func (nm *NoopMonitor) TrackRestoreMetrics(RestoreMetrics) {}
func (nm *NoopMonitor) TrackStorageMetrics(StorageMetrics) {}
