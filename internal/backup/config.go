package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// SystemConfig represents the complete backup engine configuration
type SystemConfig struct {
	Storage      StorageConfig      `yaml:"storage"`
	Retention    RetentionConfig    `yaml:"retention"`
	Compression  CompressionConfig  `yaml:"compression"`
	Encryption   EncryptionConfig   `yaml:"encryption"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Database     DatabaseConfig     `yaml:"database"`
	Files        FilesConfig        `yaml:"files"`
	ConfigScan   ConfigScanConfig   `yaml:"config_scan"`
	Restore      RestoreConfig      `yaml:"restore"`
}

// StorageConfig defines storage backend configuration
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider"`
	Local    *LocalConfig        `yaml:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty"`
}

// RetentionConfig defines tier retention defaults and cleanup behavior
type RetentionConfig struct {
	CleanupInterval time.Duration      `yaml:"cleanup_interval"`
	TierDays        map[BackupTier]int `yaml:"tier_days"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Algorithm CompressionType `yaml:"algorithm"`
	Level     int             `yaml:"level"`
	Threshold int64           `yaml:"threshold"` // minimum size in bytes to compress
}

// EncryptionConfig defines encryption settings
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeySource string `yaml:"key_source"`  // "env" or "file"
	KeyPath   string `yaml:"key_path"`    // path to key file
	KeyEnvVar string `yaml:"key_env_var"` // environment variable name

	// KeyRetriever overrides key lookup, for tests or external key management
	KeyRetriever func() ([]byte, error) `yaml:"-"`
}

// OrchestratorConfig bounds orchestrator concurrency and shutdown behavior
type OrchestratorConfig struct {
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	WorkerPoolSize    int           `yaml:"worker_pool_size"` // CPU-bound hashing/encryption pool
	StopGracePeriod   time.Duration `yaml:"stop_grace_period"`
}

// DatabaseConfig holds connection settings for the backed-up database
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// SkipConnectionPause leaves other sessions connected while a restore
	// applies. The default pauses writes and disconnects active sessions
	// around the restore transaction.
	SkipConnectionPause bool `yaml:"skip_connection_pause"`
}

// DSN builds the go-sql-driver connection string
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database)
}

// FilesConfig configures file discovery and classification
type FilesConfig struct {
	Roots                    []string `yaml:"roots"`
	IncludePatterns          []string `yaml:"include_patterns"`
	MaxFileSize              int64    `yaml:"max_file_size"`
	ProtectedSubjectPatterns []string `yaml:"protected_subject_patterns"`
	ConfidentialPatterns     []string `yaml:"confidential_patterns"`
}

// ConfigScanConfig configures discovery of configuration files and secrets
type ConfigScanConfig struct {
	Paths             []string `yaml:"paths"`
	SecretEnvPatterns []string `yaml:"secret_env_patterns"`
}

// RestoreConfig configures restore scratch space and safety margins
type RestoreConfig struct {
	ScratchDir      string  `yaml:"scratch_dir"`
	FreeSpaceMargin float64 `yaml:"free_space_margin"` // multiplier over estimated need
}

// Validate validates the SystemConfig
func (sc *SystemConfig) Validate() error {
	var errs ValidationErrors

	collect := func(section string, err error) {
		if err == nil {
			return
		}
		if validationErrs, ok := err.(ValidationErrors); ok {
			errs = append(errs, validationErrs...)
		} else {
			errs.Add(section, err.Error(), nil)
		}
	}

	collect("storage", sc.Storage.Validate())
	collect("retention", sc.Retention.Validate())
	collect("compression", sc.Compression.Validate())
	collect("encryption", sc.Encryption.Validate())
	collect("orchestrator", sc.Orchestrator.Validate())
	collect("restore", sc.Restore.Validate())

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for the complete configuration
func (sc *SystemConfig) SetDefaults() {
	sc.Storage.SetDefaults()
	sc.Retention.SetDefaults()
	sc.Compression.SetDefaults()
	sc.Encryption.SetDefaults()
	sc.Orchestrator.SetDefaults()
	sc.Files.SetDefaults()
	sc.ConfigScan.SetDefaults()
	sc.Restore.SetDefaults()
}

// LoadFromEnvironment loads configuration overrides from environment variables
func (sc *SystemConfig) LoadFromEnvironment() {
	sc.Storage.LoadFromEnvironment()
	sc.Retention.LoadFromEnvironment()
	sc.Encryption.LoadFromEnvironment()
	sc.Orchestrator.LoadFromEnvironment()
}

// Validate validates the StorageConfig
func (stc *StorageConfig) Validate() error {
	var errs ValidationErrors

	switch stc.Provider {
	case StorageProviderLocal:
		if stc.Local == nil {
			errs.Add("storage.local", "local storage configuration is required", nil)
		} else if stc.Local.BasePath == "" {
			errs.Add("storage.local.base_path", "base path is required", nil)
		}
	case StorageProviderS3:
		if stc.S3 == nil {
			errs.Add("storage.s3", "S3 storage configuration is required", nil)
		} else {
			if stc.S3.Bucket == "" {
				errs.Add("storage.s3.bucket", "bucket is required", nil)
			}
			if stc.S3.Region == "" && stc.S3.Endpoint == "" {
				errs.Add("storage.s3.region", "region or endpoint is required", nil)
			}
		}
	case StorageProviderAzure:
		if stc.Azure == nil {
			errs.Add("storage.azure", "Azure storage configuration is required", nil)
		} else {
			if stc.Azure.AccountName == "" {
				errs.Add("storage.azure.account_name", "account name is required", nil)
			}
			if stc.Azure.ContainerName == "" {
				errs.Add("storage.azure.container_name", "container name is required", nil)
			}
		}
	case StorageProviderGCS:
		if stc.GCS == nil {
			errs.Add("storage.gcs", "GCS storage configuration is required", nil)
		} else if stc.GCS.Bucket == "" {
			errs.Add("storage.gcs.bucket", "bucket is required", nil)
		}
	default:
		errs.Add("storage.provider", "unsupported storage provider", stc.Provider)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for storage configuration
func (stc *StorageConfig) SetDefaults() {
	if stc.Provider == "" {
		stc.Provider = StorageProviderLocal
	}
	if stc.Provider == StorageProviderLocal {
		if stc.Local == nil {
			stc.Local = &LocalConfig{}
		}
		if stc.Local.BasePath == "" {
			stc.Local.BasePath = "/var/lib/custodia/backups"
		}
		if stc.Local.Permissions == 0 {
			stc.Local.Permissions = 0700
		}
	}
}

// LoadFromEnvironment loads storage configuration from environment variables
func (stc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("CUSTODIA_STORAGE_PROVIDER"); val != "" {
		stc.Provider = StorageProviderType(val)
	}
	if val := os.Getenv("CUSTODIA_STORAGE_BASE_PATH"); val != "" {
		if stc.Local == nil {
			stc.Local = &LocalConfig{}
		}
		stc.Local.BasePath = val
	}
	if stc.S3 != nil {
		if val := os.Getenv("AWS_ACCESS_KEY_ID"); val != "" && stc.S3.AccessKey == "" {
			stc.S3.AccessKey = val
		}
		if val := os.Getenv("AWS_SECRET_ACCESS_KEY"); val != "" && stc.S3.SecretKey == "" {
			stc.S3.SecretKey = val
		}
	}
	if stc.Azure != nil {
		if val := os.Getenv("AZURE_STORAGE_KEY"); val != "" && stc.Azure.AccountKey == "" {
			stc.Azure.AccountKey = val
		}
	}
}

// Validate validates the RetentionConfig
func (rc *RetentionConfig) Validate() error {
	var errs ValidationErrors

	if rc.CleanupInterval < 0 {
		errs.Add("retention.cleanup_interval", "cleanup interval cannot be negative", rc.CleanupInterval)
	}
	for tier, days := range rc.TierDays {
		if days <= 0 {
			errs.Add("retention.tier_days", fmt.Sprintf("retention for tier %s must be positive", tier), days)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default retention periods per tier
func (rc *RetentionConfig) SetDefaults() {
	if rc.CleanupInterval == 0 {
		rc.CleanupInterval = 24 * time.Hour
	}
	if rc.TierDays == nil {
		rc.TierDays = map[BackupTier]int{
			TierHourly:  2,
			TierDaily:   30,
			TierWeekly:  90,
			TierMonthly: 365,
			TierYearly:  2555,
		}
	}
}

// LoadFromEnvironment loads retention configuration from environment variables
func (rc *RetentionConfig) LoadFromEnvironment() {
	if val := os.Getenv("CUSTODIA_CLEANUP_INTERVAL"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			rc.CleanupInterval = parsed
		}
	}
}

// RetentionFor returns the retention period for a job, preferring the job's
// own retention over the tier default.
func (rc *RetentionConfig) RetentionFor(job *BackupJob) time.Duration {
	days := job.RetentionDays
	if days <= 0 {
		days = rc.TierDays[job.Tier]
	}
	return time.Duration(days) * 24 * time.Hour
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errs ValidationErrors

	if cc.Enabled {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errs.Add("compression.level", "gzip compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 12 {
				errs.Add("compression.level", "lz4 compression level must be between 1 and 12", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errs.Add("compression.level", "zstd compression level must be between 1 and 22", cc.Level)
			}
		case CompressionTypeNone:
		default:
			errs.Add("compression.algorithm", "invalid compression algorithm", cc.Algorithm)
		}

		if cc.Threshold < 0 {
			errs.Add("compression.threshold", "compression threshold cannot be negative", cc.Threshold)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for compression configuration
func (cc *CompressionConfig) SetDefaults() {
	if cc.Algorithm == "" {
		cc.Algorithm = CompressionTypeZstd
	}
	if cc.Level == 0 {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			cc.Level = 6
		case CompressionTypeLZ4:
			cc.Level = 1
		case CompressionTypeZstd:
			cc.Level = 3
		}
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errs ValidationErrors

	if ec.Enabled && ec.KeyRetriever == nil {
		switch ec.KeySource {
		case "env":
			if ec.KeyEnvVar == "" {
				errs.Add("encryption.key_env_var", "key environment variable name is required", nil)
			}
		case "file":
			if ec.KeyPath == "" {
				errs.Add("encryption.key_path", "key file path is required", nil)
			}
		default:
			errs.Add("encryption.key_source", "key source must be 'env' or 'file'", ec.KeySource)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.KeySource == "" {
		ec.KeySource = "env"
	}
	if ec.KeyEnvVar == "" {
		ec.KeyEnvVar = "CUSTODIA_ENCRYPTION_KEY"
	}
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("CUSTODIA_ENCRYPTION_ENABLED"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			ec.Enabled = parsed
		}
	}
	if val := os.Getenv("CUSTODIA_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeySource = "file"
		ec.KeyPath = val
	}
}

// GetEncryptionKey resolves the 32-byte AES-256 key from the configured source
func (ec *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	switch ec.KeySource {
	case "env":
		hexKey := os.Getenv(ec.KeyEnvVar)
		if hexKey == "" {
			return nil, NewEncryptionError(fmt.Sprintf("environment variable %s not set", ec.KeyEnvVar), nil)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, NewEncryptionError("failed to decode hex key from environment variable", err)
		}
		if len(key) != 32 {
			return nil, NewEncryptionError("key from environment variable must be 32 bytes for AES-256", nil)
		}
		return key, nil

	case "file":
		key, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, NewEncryptionError("failed to read key file", err)
		}
		if len(key) != 32 {
			return nil, NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
		}
		return key, nil

	default:
		return nil, NewEncryptionError("invalid encryption key source", nil)
	}
}

// Validate validates the OrchestratorConfig
func (oc *OrchestratorConfig) Validate() error {
	var errs ValidationErrors

	if oc.MaxConcurrentJobs < 0 {
		errs.Add("orchestrator.max_concurrent_jobs", "max concurrent jobs cannot be negative", oc.MaxConcurrentJobs)
	}
	if oc.WorkerPoolSize < 0 {
		errs.Add("orchestrator.worker_pool_size", "worker pool size cannot be negative", oc.WorkerPoolSize)
	}
	if oc.StopGracePeriod < 0 {
		errs.Add("orchestrator.stop_grace_period", "stop grace period cannot be negative", oc.StopGracePeriod)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for orchestrator configuration
func (oc *OrchestratorConfig) SetDefaults() {
	if oc.MaxConcurrentJobs == 0 {
		oc.MaxConcurrentJobs = 2
	}
	if oc.WorkerPoolSize == 0 {
		oc.WorkerPoolSize = 4
	}
	if oc.StopGracePeriod == 0 {
		oc.StopGracePeriod = 30 * time.Second
	}
}

// LoadFromEnvironment loads orchestrator configuration from environment variables
func (oc *OrchestratorConfig) LoadFromEnvironment() {
	if val := os.Getenv("CUSTODIA_MAX_CONCURRENT_JOBS"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			oc.MaxConcurrentJobs = parsed
		}
	}
	if val := os.Getenv("CUSTODIA_STOP_GRACE_PERIOD"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			oc.StopGracePeriod = parsed
		}
	}
}

// SetDefaults sets default values for file discovery configuration
func (fc *FilesConfig) SetDefaults() {
	if len(fc.IncludePatterns) == 0 {
		fc.IncludePatterns = []string{"*"}
	}
	if fc.MaxFileSize == 0 {
		fc.MaxFileSize = 512 * 1024 * 1024 // 512 MiB ceiling
	}
	if len(fc.ProtectedSubjectPatterns) == 0 {
		fc.ProtectedSubjectPatterns = []string{"*minor*", "*child*", "*guardian*", "*subject-*"}
	}
	if len(fc.ConfidentialPatterns) == 0 {
		fc.ConfidentialPatterns = []string{"*confidential*", "*medical*", "*financial*"}
	}
}

// SetDefaults sets default values for configuration scanning
func (csc *ConfigScanConfig) SetDefaults() {
	if len(csc.SecretEnvPatterns) == 0 {
		csc.SecretEnvPatterns = []string{"*SECRET*", "*PASSWORD*", "*TOKEN*", "*KEY*", "*CREDENTIAL*"}
	}
}

// Validate validates the RestoreConfig
func (rsc *RestoreConfig) Validate() error {
	var errs ValidationErrors

	if rsc.FreeSpaceMargin < 0 {
		errs.Add("restore.free_space_margin", "free space margin cannot be negative", rsc.FreeSpaceMargin)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for restore configuration
func (rsc *RestoreConfig) SetDefaults() {
	if rsc.ScratchDir == "" {
		rsc.ScratchDir = os.TempDir()
	}
	if rsc.FreeSpaceMargin == 0 {
		rsc.FreeSpaceMargin = 1.2
	}
}
