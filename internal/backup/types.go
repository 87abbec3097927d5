package backup

import (
	"os"
	"time"
)

// BackupTier is a named backup cadence and retention class. Each tier owns a
// distinct component set and retention period.
type BackupTier string

const (
	TierHourly  BackupTier = "HOURLY"
	TierDaily   BackupTier = "DAILY"
	TierWeekly  BackupTier = "WEEKLY"
	TierMonthly BackupTier = "MONTHLY"
	TierYearly  BackupTier = "YEARLY"
)

// ComponentType identifies one of the backed-up state components
type ComponentType string

const (
	ComponentDatabase ComponentType = "DATABASE"
	ComponentFiles    ComponentType = "FILES"
	ComponentConfig   ComponentType = "CONFIG"
)

// BackupKind identifies the dump strategy used for a database artifact
type BackupKind string

const (
	BackupKindFull         BackupKind = "FULL"
	BackupKindIncremental  BackupKind = "INCREMENTAL"
	BackupKindDifferential BackupKind = "DIFFERENTIAL"
)

// SensitivityClass tags artifact content by how strictly it must be protected.
// Protected-subject content is always mandatory-encrypt.
type SensitivityClass string

const (
	SensitivityStandard         SensitivityClass = "STANDARD"
	SensitivityConfidential     SensitivityClass = "CONFIDENTIAL"
	SensitivityProtectedSubject SensitivityClass = "PROTECTED_SUBJECT"
)

// SecretClass distinguishes secret from non-secret configuration items
type SecretClass string

const (
	SecretClassNone   SecretClass = "NON_SECRET"
	SecretClassSecret SecretClass = "SECRET"
)

// BackupJob describes one scheduled multi-component backup. Jobs are immutable
// once handed to the orchestrator.
type BackupJob struct {
	ID                 string            `json:"id" yaml:"id"`
	Tier               BackupTier        `json:"tier" yaml:"tier"`
	Components         []ComponentType   `json:"components" yaml:"components"`
	Schedule           string            `json:"schedule,omitempty" yaml:"schedule,omitempty"` // opaque descriptor, parsed by the external scheduler
	RetentionDays      int               `json:"retention_days" yaml:"retention_days"`
	EncryptionEnabled  bool              `json:"encryption_enabled" yaml:"encryption_enabled"`
	CompressionEnabled bool              `json:"compression_enabled" yaml:"compression_enabled"`
	ComplianceRequired bool              `json:"compliance_required" yaml:"compliance_required"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// BackupStatus tracks the lifecycle of a backup execution
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "PENDING"
	BackupStatusInProgress BackupStatus = "IN_PROGRESS"
	BackupStatusCompleted  BackupStatus = "COMPLETED"
	BackupStatusFailed     BackupStatus = "FAILED"
	BackupStatusVerified   BackupStatus = "VERIFIED"
	BackupStatusCorrupted  BackupStatus = "CORRUPTED"
)

// IsTerminal reports whether the status admits no further transitions
func (s BackupStatus) IsTerminal() bool {
	return s == BackupStatusVerified || s == BackupStatusFailed || s == BackupStatusCorrupted
}

// BackupResult records one execution of a BackupJob. It is mutated while
// components finish, finalized once, then appended to the immutable history.
type BackupResult struct {
	JobID              string                 `json:"job_id"`
	ExecutionID        string                 `json:"execution_id"`
	StartTime          time.Time              `json:"start_time"`
	EndTime            time.Time              `json:"end_time"`
	Status             BackupStatus           `json:"status"`
	ComponentSuccess   map[ComponentType]bool `json:"component_success"`
	ArtifactPaths      []string               `json:"artifact_paths"`
	TotalSize          int64                  `json:"total_size"`
	AggregateChecksum  string                 `json:"aggregate_checksum"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	ComplianceVerified bool                   `json:"compliance_verified"`
}

// Manifest is the structured description of one backup artifact, persisted
// beside the artifact. It is the unit returned by ListBackups and consumed by
// the restore service.
type Manifest struct {
	Version        int              `json:"version"`
	ArtifactID     string           `json:"artifact_id"`
	ArtifactPath   string           `json:"artifact_path"`
	Component      ComponentType    `json:"component"`
	Kind           BackupKind       `json:"kind,omitempty"`
	FileList       []string         `json:"file_list,omitempty"`
	FileTypes      map[string]int   `json:"file_types,omitempty"` // archived file count per logical type
	Size           int64            `json:"size"`
	OriginalSize   int64            `json:"original_size"`
	Checksum       string           `json:"checksum"`
	Encrypted      bool             `json:"encrypted"`
	Compressed     bool             `json:"compressed"`
	Compression    CompressionType  `json:"compression,omitempty"`
	Sensitivity    SensitivityClass `json:"sensitivity"`
	SecretClass    SecretClass      `json:"secret_class,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	RetentionUntil time.Time        `json:"retention_until"`
	Tier           BackupTier       `json:"tier,omitempty"`

	// Database-specific fields
	ChangeSeqFrom uint64 `json:"change_seq_from,omitempty"`
	ChangeSeqTo   uint64 `json:"change_seq_to,omitempty"`
	DatabaseName  string `json:"database_name,omitempty"`

	// File-specific fields
	StorageProvider StorageProviderType `json:"storage_provider,omitempty"`

	// Per-item accounting for partial failures
	ProcessedCount int      `json:"processed_count"`
	ErrorCount     int      `json:"error_count"`
	ItemErrors     []string `json:"item_errors,omitempty"`
}

// RestoreType identifies the restore strategy requested by the caller
type RestoreType string

const (
	RestoreDatabaseFull   RestoreType = "DATABASE_FULL"
	RestoreDatabasePITR   RestoreType = "DATABASE_PITR"
	RestoreFilesFull      RestoreType = "FILES_FULL"
	RestoreFilesSelective RestoreType = "FILES_SELECTIVE"
	RestoreConfigFull     RestoreType = "CONFIG_FULL"
	RestoreSystemFull     RestoreType = "SYSTEM_FULL"
)

// RestoreStatus tracks the lifecycle of a restore execution
type RestoreStatus string

const (
	RestoreStatusPending    RestoreStatus = "PENDING"
	RestoreStatusInProgress RestoreStatus = "IN_PROGRESS"
	RestoreStatusCompleted  RestoreStatus = "COMPLETED"
	RestoreStatusFailed     RestoreStatus = "FAILED"
	RestoreStatusRolledBack RestoreStatus = "ROLLED_BACK"
)

// RestoreRequest describes one restore operation
type RestoreRequest struct {
	RestoreID           string      `json:"restore_id"`
	Type                RestoreType `json:"type"`
	SourceBackupIDs     []string    `json:"source_backup_ids"`
	TargetTime          *time.Time  `json:"target_time,omitempty"`
	TargetPaths         []string    `json:"target_paths,omitempty"`
	SafetyChecksEnabled bool        `json:"safety_checks_enabled"`
	DryRun              bool        `json:"dry_run"`
	Force               bool        `json:"force"`
	ComplianceRequired  bool        `json:"compliance_required"`
}

// RestoredItem describes one item restored (or simulated under dry-run)
type RestoredItem struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	DryRun bool   `json:"dry_run"`
}

// RestoreResult records the outcome of one restore operation
type RestoreResult struct {
	RestoreID         string          `json:"restore_id"`
	Type              RestoreType     `json:"type"`
	Status            RestoreStatus   `json:"status"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	RestoredItems     []RestoredItem  `json:"restored_items"`
	ValidationResults map[string]bool `json:"validation_results,omitempty"`
	RollbackBackupID  string          `json:"rollback_backup_id,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// BackupOptions carries the job-level flags into a component service call
type BackupOptions struct {
	ExecutionID        string
	Tier               BackupTier
	Kind               BackupKind
	RetentionDays      int
	EncryptionEnabled  bool
	CompressionEnabled bool
	ComplianceRequired bool
	// IncrementalSince bounds incremental file discovery by modification time
	IncrementalSince *time.Time
}

// ComponentBackup is the structured return of a component service's
// CreateBackup call. Success true with ErrorCount > 0 in the manifests means a
// partial failure was recorded, not hidden.
type ComponentBackup struct {
	Component     ComponentType `json:"component"`
	ArtifactPaths []string      `json:"artifact_paths"`
	TotalSize     int64         `json:"total_size"`
	Manifests     []*Manifest   `json:"manifests"`
	Success       bool          `json:"success"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// CompressionType identifies a compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType identifies a storage backend variant
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// StorageObject describes one stored artifact as reported by ListFiles
type StorageObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// S3Config for S3-compatible object storage
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint,omitempty"` // non-AWS S3-compatible endpoints
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}
