package backup

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ManifestVersion is the current on-disk manifest format version
const ManifestVersion = 1

// Validate checks a BackupJob before any execution. Validation failures abort
// with no side effects.
func (j *BackupJob) Validate() error {
	var errs ValidationErrors

	if j.ID == "" {
		errs.Add("id", "job ID is required", nil)
	}

	switch j.Tier {
	case TierHourly, TierDaily, TierWeekly, TierMonthly, TierYearly:
	default:
		errs.Add("tier", "unknown backup tier", j.Tier)
	}

	if len(j.Components) == 0 {
		errs.Add("components", "at least one component is required", nil)
	}
	for _, component := range j.Components {
		switch component {
		case ComponentDatabase, ComponentFiles, ComponentConfig:
		default:
			errs.Add("components", "unknown component", component)
		}
	}

	if j.RetentionDays <= 0 {
		errs.Add("retention_days", "retention days must be positive", j.RetentionDays)
	}

	// Compliance mandates encryption; an unencrypted compliance job must never run.
	if j.ComplianceRequired && !j.EncryptionEnabled {
		errs.Add("encryption_enabled", "compliance-required jobs must enable encryption", j.EncryptionEnabled)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// HasComponent reports whether the job includes the given component
func (j *BackupJob) HasComponent(component ComponentType) bool {
	for _, c := range j.Components {
		if c == component {
			return true
		}
	}
	return false
}

// DefaultTierJobs returns the statically configured jobs for every tier.
// Callers may schedule these as-is or register their own jobs.
func DefaultTierJobs() []BackupJob {
	return []BackupJob{
		{
			ID:                 "hourly-database",
			Tier:               TierHourly,
			Components:         []ComponentType{ComponentDatabase},
			RetentionDays:      2,
			EncryptionEnabled:  true,
			CompressionEnabled: true,
			ComplianceRequired: true,
		},
		{
			ID:                 "daily-full",
			Tier:               TierDaily,
			Components:         []ComponentType{ComponentDatabase, ComponentFiles, ComponentConfig},
			RetentionDays:      30,
			EncryptionEnabled:  true,
			CompressionEnabled: true,
			ComplianceRequired: true,
		},
		{
			ID:                 "weekly-full",
			Tier:               TierWeekly,
			Components:         []ComponentType{ComponentDatabase, ComponentFiles, ComponentConfig},
			RetentionDays:      90,
			EncryptionEnabled:  true,
			CompressionEnabled: true,
			ComplianceRequired: true,
		},
		{
			ID:                 "monthly-archive",
			Tier:               TierMonthly,
			Components:         []ComponentType{ComponentDatabase, ComponentFiles, ComponentConfig},
			RetentionDays:      365,
			EncryptionEnabled:  true,
			CompressionEnabled: true,
			ComplianceRequired: true,
		},
		{
			ID:                 "yearly-archive",
			Tier:               TierYearly,
			Components:         []ComponentType{ComponentDatabase, ComponentConfig},
			RetentionDays:      2555, // seven years, the regulated minimum
			EncryptionEnabled:  true,
			CompressionEnabled: true,
			ComplianceRequired: true,
		},
	}
}

// Validate checks a RestoreRequest before any execution
func (r *RestoreRequest) Validate() error {
	var errs ValidationErrors

	if r.RestoreID == "" {
		errs.Add("restore_id", "restore ID is required", nil)
	}

	switch r.Type {
	case RestoreDatabaseFull, RestoreDatabasePITR, RestoreFilesFull,
		RestoreFilesSelective, RestoreConfigFull, RestoreSystemFull:
	default:
		errs.Add("type", "unknown restore type", r.Type)
	}

	if len(r.SourceBackupIDs) == 0 {
		errs.Add("source_backup_ids", "at least one source backup is required", nil)
	}

	if r.Type == RestoreDatabasePITR && r.TargetTime == nil {
		errs.Add("target_time", "point-in-time restore requires a target time", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks a Manifest for structural well-formedness
func (m *Manifest) Validate() error {
	var errs ValidationErrors

	if m.ArtifactID == "" {
		errs.Add("artifact_id", "artifact ID is required", nil)
	}
	if m.ArtifactPath == "" {
		errs.Add("artifact_path", "artifact path is required", nil)
	}
	if m.Checksum == "" {
		errs.Add("checksum", "checksum is required", nil)
	}
	switch m.Component {
	case ComponentDatabase, ComponentFiles, ComponentConfig:
	default:
		errs.Add("component", "unknown component", m.Component)
	}
	if m.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", nil)
	}
	if m.RetentionUntil.IsZero() {
		errs.Add("retention_until", "retention timestamp is required", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Expired reports whether the manifest's retention period has elapsed
func (m *Manifest) Expired(now time.Time) bool {
	return now.After(m.RetentionUntil)
}

// ToJSON serializes the manifest
func (m *Manifest) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, NewValidationError("failed to marshal manifest", err)
	}
	return data, nil
}

// FromJSON deserializes and validates a manifest
func (m *Manifest) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return NewIntegrityError("failed to unmarshal manifest", err)
	}
	return m.Validate()
}

// ToJSON serializes the backup result
func (r *BackupResult) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, NewValidationError("failed to marshal backup result", err)
	}
	return data, nil
}

// FromJSON deserializes a backup result
func (r *BackupResult) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, r); err != nil {
		return NewValidationError("failed to unmarshal backup result", err)
	}
	return nil
}

// Duration returns the elapsed execution time of the backup
func (r *BackupResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// AllComponentsSucceeded reports whether every component reported success
func (r *BackupResult) AllComponentsSucceeded() bool {
	if len(r.ComponentSuccess) == 0 {
		return false
	}
	for _, ok := range r.ComponentSuccess {
		if !ok {
			return false
		}
	}
	return true
}

// GenerateExecutionID generates a unique execution identifier embedding a UTC
// timestamp for stable, sortable storage namespaces.
func GenerateExecutionID(jobID string) string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", jobID, timestamp, short)
}

// GenerateRestoreID generates a unique restore identifier
func GenerateRestoreID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("restore-%s-%s", timestamp, short)
}

// CalculateDataChecksum calculates a SHA-256 checksum for arbitrary data
func CalculateDataChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CombineChecksums folds per-artifact checksums into one aggregate checksum.
// The input order does not matter; the checksums are sorted before hashing so
// the aggregate is stable across component completion order.
func CombineChecksums(checksums []string) string {
	sorted := make([]string, len(checksums))
	copy(sorted, checksums)
	sort.Strings(sorted)

	hasher := sha256.New()
	for _, checksum := range sorted {
		hasher.Write([]byte(checksum))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateSecureRandomBytes generates cryptographically secure random bytes
func GenerateSecureRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return nil, NewEncryptionError("failed to generate secure random bytes", err)
	}
	return bytes, nil
}
