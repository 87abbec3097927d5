package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"custodia/internal/logging"
)

// RestoreService executes restore operations against previously verified
// backups. Every non-dry-run restore takes a rollback snapshot first; a
// failed restore or failed post-validation automatically rolls the target
// back to that snapshot.
type RestoreService struct {
	services  map[ComponentType]ComponentService
	manifests *ManifestStore
	preflight *PreflightChecker
	config    *RestoreConfig
	retention *RetentionConfig
	monitor   Monitor
	logger    *logging.Logger

	mu       sync.Mutex
	restores map[string]*RestoreResult
	history  []*RestoreResult
}

// NewRestoreService creates a restore service over the given component
// services.
func NewRestoreService(services []ComponentService, manifests *ManifestStore, preflight *PreflightChecker, config *RestoreConfig, retention *RetentionConfig, monitor Monitor, logger *logging.Logger) *RestoreService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if monitor == nil {
		monitor = NewNoopMonitor()
	}

	serviceMap := make(map[ComponentType]ComponentService, len(services))
	for _, service := range services {
		if service != nil {
			serviceMap[service.Component()] = service
		}
	}

	return &RestoreService{
		services:  serviceMap,
		manifests: manifests,
		preflight: preflight,
		config:    config,
		retention: retention,
		monitor:   monitor,
		logger:    logger,
		restores:  make(map[string]*RestoreResult),
	}
}

// Restore executes one restore request and blocks until it reaches a
// terminal status. Unsupported restore types fail fast before any pre-flight
// work or rollback snapshot.
func (rs *RestoreService) Restore(ctx context.Context, request *RestoreRequest) (*RestoreResult, error) {
	if request.RestoreID == "" {
		request.RestoreID = GenerateRestoreID()
	}
	if err := request.Validate(); err != nil {
		return nil, NewValidationError("restore request rejected", err)
	}

	switch request.Type {
	case RestoreDatabasePITR:
		return nil, NewNotImplementedError("point-in-time database restore", "DATABASE_FULL with an incremental chain")
	case RestoreFilesSelective:
		return nil, NewNotImplementedError("selective file restore", "FILES_FULL")
	}

	start := time.Now().UTC()
	result := &RestoreResult{
		RestoreID:         request.RestoreID,
		Type:              request.Type,
		Status:            RestoreStatusPending,
		StartTime:         start,
		ValidationResults: make(map[string]bool),
	}

	rs.mu.Lock()
	if _, exists := rs.restores[request.RestoreID]; exists {
		rs.mu.Unlock()
		return nil, NewConflictError(fmt.Sprintf("restore %s already exists", request.RestoreID), nil)
	}
	rs.restores[request.RestoreID] = result
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.history = append(rs.history, result)
		rs.mu.Unlock()

		rs.monitor.TrackRestoreMetrics(RestoreMetrics{
			RestoreID:  result.RestoreID,
			Type:       result.Type,
			Status:     result.Status,
			Duration:   result.EndTime.Sub(result.StartTime),
			ItemCount:  len(result.RestoredItems),
			RolledBack: result.Status == RestoreStatusRolledBack,
		})
		rs.logger.LogRestoreExecution(result.RestoreID, string(result.Type),
			len(result.RestoredItems), result.EndTime.Sub(result.StartTime), string(result.Status), nil)
	}()

	manifests, err := rs.resolveSources(ctx, request)
	if err != nil {
		rs.finalize(result, RestoreStatusFailed, err.Error())
		return copyRestoreResult(result), err
	}

	if request.SafetyChecksEnabled {
		warnings, preflightErr := rs.preflight.Run(ctx, request, manifests)
		result.Warnings = append(result.Warnings, warnings...)

		if preflightErr != nil {
			// Force downgrades any failure except compliance to a warning.
			if request.Force && ErrorType(preflightErr) != BackupErrorTypeCompliance {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("pre-flight failure bypassed by force: %v", preflightErr))
			} else {
				rs.finalize(result, RestoreStatusFailed, preflightErr.Error())
				return copyRestoreResult(result), preflightErr
			}
		}
	}

	rs.setStatus(result, RestoreStatusInProgress)

	if request.DryRun {
		items, dryErr := rs.apply(ctx, manifests, true)
		if dryErr != nil {
			rs.finalize(result, RestoreStatusFailed, dryErr.Error())
			return copyRestoreResult(result), dryErr
		}
		result.RestoredItems = items
		result.ValidationResults["dry_run"] = true
		rs.finalize(result, RestoreStatusCompleted, "")
		return copyRestoreResult(result), nil
	}

	// Recorded before any mutation so rollback can tell files the restore
	// created apart from files it overwrote.
	preExisting := preRestoreTargets(manifests)

	rollbackID, snapErr := rs.takeRollbackSnapshot(ctx, request, manifests)
	if snapErr != nil {
		if !request.Force {
			rs.finalize(result, RestoreStatusFailed, snapErr.Error())
			return copyRestoreResult(result), snapErr
		}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("rollback snapshot skipped by force: %v", snapErr))
	}
	result.RollbackBackupID = rollbackID

	items, applyErr := rs.apply(ctx, manifests, false)
	result.RestoredItems = items

	if applyErr == nil {
		applyErr = rs.postValidate(ctx, request, result, manifests)
	}

	if applyErr != nil {
		if rollbackID == "" {
			rs.finalize(result, RestoreStatusFailed, applyErr.Error())
			return copyRestoreResult(result), applyErr
		}

		if rollbackErr := rs.rollback(ctx, rollbackID, result.RestoredItems, preExisting); rollbackErr != nil {
			combined := NewRollbackError("restore failed and rollback also failed", rollbackErr).
				WithContext("restore_error", applyErr.Error())
			rs.finalize(result, RestoreStatusFailed, combined.Error())
			return copyRestoreResult(result), combined
		}

		rs.finalize(result, RestoreStatusRolledBack, applyErr.Error())
		return copyRestoreResult(result), applyErr
	}

	rs.finalize(result, RestoreStatusCompleted, "")
	return copyRestoreResult(result), nil
}

// GetRestoreStatus returns a snapshot of one restore by ID
func (rs *RestoreService) GetRestoreStatus(restoreID string) (*RestoreResult, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	result, found := rs.restores[restoreID]
	if !found {
		return nil, NewValidationError(fmt.Sprintf("unknown restore %s", restoreID), nil)
	}
	return copyRestoreResult(result), nil
}

// ListRestoreHistory returns snapshots of all finished restores, oldest first
func (rs *RestoreService) ListRestoreHistory() []*RestoreResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	history := make([]*RestoreResult, 0, len(rs.history))
	for _, result := range rs.history {
		history = append(history, copyRestoreResult(result))
	}
	return history
}

// resolveSources loads and type-checks the manifests behind the requested
// source backup IDs.
func (rs *RestoreService) resolveSources(ctx context.Context, request *RestoreRequest) ([]*Manifest, error) {
	var manifests []*Manifest
	for _, artifactID := range request.SourceBackupIDs {
		manifest, err := rs.manifests.FindByArtifactID(ctx, artifactID)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}

	for _, manifest := range manifests {
		if !componentMatchesRestore(request.Type, manifest.Component) {
			return nil, NewValidationError(
				fmt.Sprintf("artifact %s holds %s content, not restorable as %s",
					manifest.ArtifactID, manifest.Component, request.Type), nil)
		}
	}

	return manifests, nil
}

// apply routes each manifest to its component service in a fixed component
// order: database first, then files, then configuration.
func (rs *RestoreService) apply(ctx context.Context, manifests []*Manifest, dryRun bool) ([]RestoredItem, error) {
	var items []RestoredItem

	for _, component := range []ComponentType{ComponentDatabase, ComponentFiles, ComponentConfig} {
		for _, manifest := range manifests {
			if manifest.Component != component {
				continue
			}

			service, registered := rs.services[component]
			if !registered {
				return items, NewDependencyError(
					fmt.Sprintf("no service registered for component %s", component), nil)
			}

			restored, err := service.Restore(ctx, manifest, dryRun)
			items = append(items, restored...)
			if err != nil {
				return items, err
			}
		}
	}

	return items, nil
}

// takeRollbackSnapshot backs up the current state of every component about to
// be overwritten. The snapshot is a regular backup with its own manifests,
// retained long enough to survive any investigation of the restore.
func (rs *RestoreService) takeRollbackSnapshot(ctx context.Context, request *RestoreRequest, manifests []*Manifest) (string, error) {
	components := map[ComponentType]bool{}
	for _, manifest := range manifests {
		components[manifest.Component] = true
	}

	executionID := fmt.Sprintf("rollback-%s", request.RestoreID)
	opts := BackupOptions{
		ExecutionID:        executionID,
		Tier:               TierDaily,
		Kind:               BackupKindFull,
		RetentionDays:      30,
		EncryptionEnabled:  true,
		CompressionEnabled: true,
	}

	for _, component := range []ComponentType{ComponentDatabase, ComponentFiles, ComponentConfig} {
		if !components[component] {
			continue
		}
		service, registered := rs.services[component]
		if !registered {
			return "", NewDependencyError(
				fmt.Sprintf("no service registered for component %s", component), nil)
		}
		snapshot, err := service.CreateBackup(ctx, opts)
		if err != nil {
			return "", NewRollbackError("failed to take rollback snapshot", err)
		}
		if snapshot == nil || !snapshot.Success {
			return "", NewRollbackError(
				fmt.Sprintf("rollback snapshot for component %s reported failure", component), nil)
		}
	}

	return executionID, nil
}

// rollback returns the target to its exact pre-restore state: paths the failed
// restore created are removed, then the snapshot artifacts are re-applied over
// everything it overwrote.
func (rs *RestoreService) rollback(ctx context.Context, rollbackID string, restored []RestoredItem, preExisting map[string]bool) error {
	for _, item := range restored {
		if item.DryRun || !filepath.IsAbs(item.Path) || preExisting[item.Path] {
			continue
		}
		if err := os.Remove(item.Path); err != nil && !os.IsNotExist(err) {
			return NewRollbackError(fmt.Sprintf("failed to remove created path %s", item.Path), err)
		}
	}

	manifests, err := rs.manifests.List(ctx, ExecutionPrefix(rollbackID), 0)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		return NewRollbackError(fmt.Sprintf("rollback snapshot %s has no artifacts", rollbackID), nil)
	}

	_, err = rs.apply(ctx, manifests, false)
	return err
}

// preRestoreTargets records which restore targets already exist on disk before
// anything is applied.
func preRestoreTargets(manifests []*Manifest) map[string]bool {
	existing := map[string]bool{}
	for _, manifest := range manifests {
		for _, file := range manifest.FileList {
			target := restoreTarget(archiveName(file))
			if target == "" {
				continue
			}
			if _, err := os.Stat(target); err == nil {
				existing[target] = true
			}
		}
	}
	return existing
}

// postValidate runs the named validation checks for what the restore touched
// and records each outcome. The first failing check aborts with its error;
// the caller decides whether that triggers an automatic rollback.
func (rs *RestoreService) postValidate(ctx context.Context, request *RestoreRequest, result *RestoreResult, manifests []*Manifest) error {
	itemsRestored := len(result.RestoredItems) > 0
	result.ValidationResults["items_restored"] = itemsRestored

	manifestsAccounted := true
	for _, manifest := range manifests {
		if manifest.ProcessedCount == 0 {
			manifestsAccounted = false
		}
	}
	result.ValidationResults["manifests_accounted"] = manifestsAccounted

	if !itemsRestored {
		return NewIntegrityError("post-restore validation failed: no items were restored", nil)
	}
	if !manifestsAccounted {
		return NewIntegrityError("post-restore validation failed: empty source manifest", nil)
	}

	if hasComponent(manifests, ComponentFiles) || hasComponent(manifests, ComponentConfig) {
		if err := rs.spotCheckRestoredFiles(result); err != nil {
			return err
		}
	}

	if request.ComplianceRequired {
		complianceErr := rs.preflight.checkCompliance(manifests)
		result.ValidationResults["compliance_reverified"] = complianceErr == nil
		if complianceErr != nil {
			return complianceErr
		}
	}

	if hasComponent(manifests, ComponentDatabase) {
		structureErr := rs.preflight.CheckDatabaseStructure(ctx)
		result.ValidationResults["database_structure"] = structureErr == nil
		if structureErr != nil {
			return structureErr
		}

		referentialErr := rs.preflight.CheckReferentialIntegrity(ctx)
		result.ValidationResults["referential_integrity"] = referentialErr == nil
		if referentialErr != nil {
			return referentialErr
		}

		healthErr := rs.preflight.CheckDatabaseHealth(ctx)
		result.ValidationResults["dependents_healthy"] = healthErr == nil
		if healthErr != nil {
			return healthErr
		}
	}

	return nil
}

// spotCheckRestoredFiles re-stats every restored path and compares sizes, so a
// write that silently truncated fails validation instead of passing unnoticed.
func (rs *RestoreService) spotCheckRestoredFiles(result *RestoreResult) error {
	for _, item := range result.RestoredItems {
		if !filepath.IsAbs(item.Path) {
			continue
		}
		info, err := os.Stat(item.Path)
		if err != nil || info.Size() != item.Size {
			result.ValidationResults["files_accessible"] = false
			return NewIntegrityError(
				fmt.Sprintf("post-restore validation failed: restored file %s is missing or truncated", item.Path), nil)
		}
	}
	result.ValidationResults["files_accessible"] = true
	return nil
}

// hasComponent reports whether any manifest belongs to the given component
func hasComponent(manifests []*Manifest, component ComponentType) bool {
	for _, manifest := range manifests {
		if manifest.Component == component {
			return true
		}
	}
	return false
}

func (rs *RestoreService) setStatus(result *RestoreResult, status RestoreStatus) {
	rs.mu.Lock()
	result.Status = status
	rs.mu.Unlock()
}

func (rs *RestoreService) finalize(result *RestoreResult, status RestoreStatus, message string) {
	rs.mu.Lock()
	result.Status = status
	result.ErrorMessage = message
	result.EndTime = time.Now().UTC()
	rs.mu.Unlock()
}

// componentMatchesRestore reports whether a manifest's component is a legal
// source for the requested restore type.
func componentMatchesRestore(restoreType RestoreType, component ComponentType) bool {
	switch restoreType {
	case RestoreDatabaseFull, RestoreDatabasePITR:
		return component == ComponentDatabase
	case RestoreFilesFull, RestoreFilesSelective:
		return component == ComponentFiles
	case RestoreConfigFull:
		return component == ComponentConfig
	case RestoreSystemFull:
		return true
	default:
		return false
	}
}

func copyRestoreResult(result *RestoreResult) *RestoreResult {
	snapshot := *result
	snapshot.RestoredItems = append([]RestoredItem(nil), result.RestoredItems...)
	snapshot.Warnings = append([]string(nil), result.Warnings...)
	snapshot.ValidationResults = make(map[string]bool, len(result.ValidationResults))
	for check, ok := range result.ValidationResults {
		snapshot.ValidationResults[check] = ok
	}
	return &snapshot
}
