package backup

import (
	"context"
	"database/sql"
	"fmt"
	"syscall"

	"custodia/internal/logging"
)

// PreflightChecker runs the safety gate ahead of a restore. Every check must
// pass before any target state is touched; failures abort with the target
// system unchanged.
type PreflightChecker struct {
	storage  StorageBackend
	pipeline *ArtifactPipeline
	config   *RestoreConfig
	db       *sql.DB
	logger   *logging.Logger

	// freeSpace is swappable for tests
	freeSpace func(path string) (uint64, error)
}

// NewPreflightChecker creates a pre-flight checker. The database handle is
// optional and only used for the active-connection warning.
func NewPreflightChecker(storage StorageBackend, pipeline *ArtifactPipeline, config *RestoreConfig, db *sql.DB, logger *logging.Logger) *PreflightChecker {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &PreflightChecker{
		storage:   storage,
		pipeline:  pipeline,
		config:    config,
		db:        db,
		logger:    logger,
		freeSpace: availableSpace,
	}
}

// Run executes all pre-flight checks for the given source manifests. It
// returns non-fatal warnings and the first fatal failure.
func (pc *PreflightChecker) Run(ctx context.Context, request *RestoreRequest, manifests []*Manifest) ([]string, error) {
	var warnings []string

	if err := pc.checkStorageReachable(ctx); err != nil {
		return warnings, err
	}
	if err := pc.checkManifestIntegrity(ctx, manifests); err != nil {
		return warnings, err
	}
	if err := pc.checkFreeSpace(manifests); err != nil {
		return warnings, err
	}
	if request.ComplianceRequired {
		if err := pc.checkCompliance(manifests); err != nil {
			return warnings, err
		}
	}

	if warning := pc.checkActiveConnections(ctx, request); warning != "" {
		warnings = append(warnings, warning)
	}

	return warnings, nil
}

// checkStorageReachable verifies the storage backend responds
func (pc *PreflightChecker) checkStorageReachable(ctx context.Context) error {
	if err := pc.storage.HealthCheck(ctx); err != nil {
		return NewDependencyError("storage backend unreachable", err)
	}
	return nil
}

// checkManifestIntegrity verifies each source artifact exists with the size
// its manifest records. Checksums are verified again at fetch time; here the
// cheap existence and size check catches missing or truncated artifacts
// before any rollback snapshot is taken.
func (pc *PreflightChecker) checkManifestIntegrity(ctx context.Context, manifests []*Manifest) error {
	for _, manifest := range manifests {
		if err := manifest.Validate(); err != nil {
			return NewIntegrityError("source manifest is malformed", err).
				WithContext("artifact_id", manifest.ArtifactID)
		}

		objects, err := pc.storage.ListFiles(ctx, manifest.ArtifactPath)
		if err != nil {
			return NewStorageError("failed to check source artifact", err)
		}

		found := false
		for _, object := range objects {
			if object.Path != manifest.ArtifactPath {
				continue
			}
			found = true
			if object.Size != manifest.Size {
				return NewIntegrityError(
					fmt.Sprintf("artifact size %d does not match manifest size %d", object.Size, manifest.Size), nil).
					WithContext("artifact_id", manifest.ArtifactID)
			}
		}
		if !found {
			return NewStorageError(
				fmt.Sprintf("source artifact %s not found", manifest.ArtifactPath), nil).
				WithContext("artifact_id", manifest.ArtifactID)
		}
	}
	return nil
}

// checkFreeSpace verifies scratch space can hold the decompressed restore
// payload plus the configured safety margin.
func (pc *PreflightChecker) checkFreeSpace(manifests []*Manifest) error {
	var needed uint64
	for _, manifest := range manifests {
		needed += uint64(manifest.OriginalSize)
	}
	needed = uint64(float64(needed) * pc.config.FreeSpaceMargin)

	available, err := pc.freeSpace(pc.config.ScratchDir)
	if err != nil {
		return NewDependencyError("failed to determine available disk space", err)
	}
	if available < needed {
		return NewDependencyError(
			fmt.Sprintf("insufficient disk space: need %d bytes with margin, have %d", needed, available), nil)
	}
	return nil
}

// checkCompliance verifies every source artifact of a compliance-flagged
// restore is encrypted. This failure is never bypassed by force.
func (pc *PreflightChecker) checkCompliance(manifests []*Manifest) error {
	for _, manifest := range manifests {
		if !manifest.Encrypted {
			return NewComplianceError("compliance-required restore from unencrypted artifact", nil).
				WithContext("artifact_id", manifest.ArtifactID)
		}
	}
	return nil
}

// checkActiveConnections warns when the database has other sessions open
// during a database-touching restore. A warning only; the operator decides.
func (pc *PreflightChecker) checkActiveConnections(ctx context.Context, request *RestoreRequest) string {
	touchesDatabase := request.Type == RestoreDatabaseFull || request.Type == RestoreSystemFull
	if !touchesDatabase || pc.db == nil {
		return ""
	}

	var count int
	err := pc.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.processlist WHERE command <> 'Sleep'").Scan(&count)
	if err != nil {
		return fmt.Sprintf("could not check active database connections: %v", err)
	}
	if count > 1 {
		return fmt.Sprintf("database has %d active connections during restore", count)
	}
	return ""
}

// CheckDatabaseStructure verifies the restored schema is present and readable.
// Called after a database restore applies; a schema with no tables means the
// restore did not land.
func (pc *PreflightChecker) CheckDatabaseStructure(ctx context.Context) error {
	if pc.db == nil {
		return nil
	}

	var tables int
	err := pc.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE()").Scan(&tables)
	if err != nil {
		return NewIntegrityError("post-restore structure check failed", err)
	}
	if tables == 0 {
		return NewIntegrityError("post-restore structure check failed: no tables present", nil)
	}
	return nil
}

// CheckReferentialIntegrity walks every foreign key relationship in the
// restored schema and counts child rows whose parent is missing.
func (pc *PreflightChecker) CheckReferentialIntegrity(ctx context.Context) error {
	if pc.db == nil {
		return nil
	}

	rows, err := pc.db.QueryContext(ctx,
		"SELECT table_name, column_name, referenced_table_name, referenced_column_name "+
			"FROM information_schema.key_column_usage "+
			"WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL")
	if err != nil {
		return NewIntegrityError("failed to list foreign key relationships", err)
	}
	defer rows.Close()

	type foreignKey struct {
		table, column, refTable, refColumn string
	}
	var keys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.table, &fk.column, &fk.refTable, &fk.refColumn); err != nil {
			return NewIntegrityError("failed to scan foreign key relationship", err)
		}
		keys = append(keys, fk)
	}
	if err := rows.Err(); err != nil {
		return NewIntegrityError("failed to iterate foreign key relationships", err)
	}

	for _, fk := range keys {
		query := fmt.Sprintf(
			"SELECT COUNT(*) FROM `%s` c LEFT JOIN `%s` p ON c.`%s` = p.`%s` WHERE c.`%s` IS NOT NULL AND p.`%s` IS NULL",
			fk.table, fk.refTable, fk.column, fk.refColumn, fk.column, fk.refColumn)

		var orphans int
		if err := pc.db.QueryRowContext(ctx, query).Scan(&orphans); err != nil {
			return NewIntegrityError(
				fmt.Sprintf("failed to check references from %s.%s", fk.table, fk.column), err)
		}
		if orphans > 0 {
			return NewIntegrityError(
				fmt.Sprintf("post-restore validation failed: %d orphaned rows in %s.%s reference missing %s rows",
					orphans, fk.table, fk.column, fk.refTable), nil)
		}
	}
	return nil
}

// CheckDatabaseHealth pings the database on behalf of dependent applications
func (pc *PreflightChecker) CheckDatabaseHealth(ctx context.Context) error {
	if pc.db == nil {
		return nil
	}
	if err := pc.db.PingContext(ctx); err != nil {
		return NewDependencyError("database unhealthy after restore", err)
	}
	return nil
}

// availableSpace reports the bytes available to unprivileged writes on the
// filesystem containing path.
func availableSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
