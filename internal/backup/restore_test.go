package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restoreEnv struct {
	restore   *RestoreService
	files     *FileBackupService
	manifests *ManifestStore
	root      string
}

func testRestoreEnv(t *testing.T, services ...ComponentService) *restoreEnv {
	t.Helper()

	backend := testLocalBackend(t)
	manifests := NewManifestStore(backend, t.TempDir())
	pipeline := testPipeline(t)
	scratch := t.TempDir()

	root := t.TempDir()
	filesConfig := &FilesConfig{Roots: []string{root}}
	filesConfig.SetDefaults()
	files := NewFileBackupService(filesConfig, backend, manifests, pipeline, scratch, nil)

	if len(services) == 0 {
		services = []ComponentService{files}
	}

	restoreConfig := &RestoreConfig{ScratchDir: scratch, FreeSpaceMargin: 1.2}
	preflight := NewPreflightChecker(backend, pipeline, restoreConfig, nil, nil)
	// Free space probing is swapped out so the test does not depend on the
	// machine it runs on.
	preflight.freeSpace = func(string) (uint64, error) { return 1 << 40, nil }

	retention := &RetentionConfig{TierDays: map[BackupTier]int{TierDaily: 30}}
	restore := NewRestoreService(services, manifests, preflight, restoreConfig, retention, nil, nil)

	return &restoreEnv{restore: restore, files: files, manifests: manifests, root: root}
}

// backupFile backs up the files root and returns the resulting manifest
func (env *restoreEnv) backupFile(t *testing.T, encrypt bool) *Manifest {
	t.Helper()

	result, err := env.files.CreateBackup(context.Background(), filesBackupOptions(encrypt))
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)
	return result.Manifests[0]
}

func filesRestoreRequest(sourceID string) *RestoreRequest {
	return &RestoreRequest{
		RestoreID:           "restore-test",
		Type:                RestoreFilesFull,
		SourceBackupIDs:     []string{sourceID},
		SafetyChecksEnabled: true,
	}
}

func TestRestorePITRFailsFastWithAlternative(t *testing.T) {
	env := testRestoreEnv(t)
	target := time.Now().UTC()

	_, err := env.restore.Restore(context.Background(), &RestoreRequest{
		RestoreID:       "restore-pitr",
		Type:            RestoreDatabasePITR,
		SourceBackupIDs: []string{"any"},
		TargetTime:      &target,
	})
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeNotImplemented, ErrorType(err))
	assert.Contains(t, err.Error(), "DATABASE_FULL")

	// Failing fast means no restore was ever registered.
	_, statusErr := env.restore.GetRestoreStatus("restore-pitr")
	assert.Error(t, statusErr)
	assert.Empty(t, env.restore.ListRestoreHistory())
}

func TestRestoreSelectiveFilesFailsFastWithAlternative(t *testing.T) {
	env := testRestoreEnv(t)

	_, err := env.restore.Restore(context.Background(), &RestoreRequest{
		RestoreID:       "restore-selective",
		Type:            RestoreFilesSelective,
		SourceBackupIDs: []string{"any"},
		TargetPaths:     []string{"/data/one.txt"},
	})
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeNotImplemented, ErrorType(err))
	assert.Contains(t, err.Error(), "FILES_FULL")
}

func TestRestoreFilesFullRoundTrip(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	target := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))
	manifest := env.backupFile(t, true)

	require.NoError(t, os.WriteFile(target, []byte("damaged"), 0600))

	request := filesRestoreRequest(manifest.ArtifactID)
	request.ComplianceRequired = true

	result, err := env.restore.Restore(ctx, request)
	require.NoError(t, err)

	assert.Equal(t, RestoreStatusCompleted, result.Status)
	assert.Equal(t, "rollback-restore-test", result.RollbackBackupID)
	assert.True(t, result.ValidationResults["items_restored"])
	assert.True(t, result.ValidationResults["manifests_accounted"])
	assert.True(t, result.ValidationResults["files_accessible"])
	assert.True(t, result.ValidationResults["compliance_reverified"])
	require.NotEmpty(t, result.RestoredItems)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// The rollback snapshot exists as a regular backup execution.
	snapshot, err := env.manifests.List(ctx, ExecutionPrefix("rollback-restore-test"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot)

	history := env.restore.ListRestoreHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "restore-test", history[0].RestoreID)
}

func TestRestoreDryRunTakesNoSnapshotAndWritesNothing(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	target := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))
	manifest := env.backupFile(t, true)

	require.NoError(t, os.WriteFile(target, []byte("current"), 0600))

	request := filesRestoreRequest(manifest.ArtifactID)
	request.DryRun = true

	result, err := env.restore.Restore(ctx, request)
	require.NoError(t, err)

	assert.Equal(t, RestoreStatusCompleted, result.Status)
	assert.True(t, result.ValidationResults["dry_run"])
	assert.Empty(t, result.RollbackBackupID)
	require.NotEmpty(t, result.RestoredItems)
	assert.True(t, result.RestoredItems[0].DryRun)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "current", string(data))

	snapshot, err := env.manifests.List(ctx, ExecutionPrefix("rollback-restore-test"), 0)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

// faultyRestoreService delegates backups to a real service but fails the
// restore of one specific artifact, so the automatic rollback path can run.
type faultyRestoreService struct {
	*FileBackupService
	failArtifactID string
}

func (fr *faultyRestoreService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	if manifest.ArtifactID == fr.failArtifactID {
		return nil, NewStorageError("target filesystem rejected writes", nil)
	}
	return fr.FileBackupService.Restore(ctx, manifest, dryRun)
}

func TestRestoreFailureRollsBackAutomatically(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	target := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))
	manifest := env.backupFile(t, true)

	faulty := &faultyRestoreService{FileBackupService: env.files, failArtifactID: manifest.ArtifactID}
	env.restore.services[ComponentFiles] = faulty

	require.NoError(t, os.WriteFile(target, []byte("pre-restore state"), 0600))

	result, err := env.restore.Restore(ctx, filesRestoreRequest(manifest.ArtifactID))
	require.Error(t, err)

	assert.Equal(t, RestoreStatusRolledBack, result.Status)
	assert.Equal(t, "rollback-restore-test", result.RollbackBackupID)
	assert.Contains(t, result.ErrorMessage, "rejected writes")

	// The rollback snapshot captured the pre-restore state and put it back.
	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, "pre-restore state", string(data))
}

// failAfterApplyService applies the restore of one artifact for real and then
// reports failure, leaving its writes on disk for the rollback to undo.
type failAfterApplyService struct {
	*FileBackupService
	failArtifactID string
}

func (fa *failAfterApplyService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	items, err := fa.FileBackupService.Restore(ctx, manifest, dryRun)
	if err == nil && manifest.ArtifactID == fa.failArtifactID {
		return items, NewStorageError("target filesystem rejected writes", nil)
	}
	return items, err
}

func TestRestoreRollbackRemovesFilesTheRestoreCreated(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	kept := filepath.Join(env.root, "kept.txt")
	extra := filepath.Join(env.root, "extra.txt")
	require.NoError(t, os.WriteFile(kept, []byte("kept"), 0600))
	require.NoError(t, os.WriteFile(extra, []byte("extra"), 0600))
	manifest := env.backupFile(t, true)

	// Before the restore, extra.txt no longer exists and kept.txt has moved on.
	require.NoError(t, os.Remove(extra))
	require.NoError(t, os.WriteFile(kept, []byte("pre-restore state"), 0600))

	failing := &failAfterApplyService{FileBackupService: env.files, failArtifactID: manifest.ArtifactID}
	env.restore.services[ComponentFiles] = failing

	result, err := env.restore.Restore(ctx, filesRestoreRequest(manifest.ArtifactID))
	require.Error(t, err)
	assert.Equal(t, RestoreStatusRolledBack, result.Status)

	// Rollback put kept.txt back and removed the file the restore created.
	data, readErr := os.ReadFile(kept)
	require.NoError(t, readErr)
	assert.Equal(t, "pre-restore state", string(data))

	_, statErr := os.Stat(extra)
	assert.True(t, os.IsNotExist(statErr))
}

// truncatingRestoreService restores one artifact for real and then truncates
// a restored file, so the write damage only shows up after the apply.
type truncatingRestoreService struct {
	*FileBackupService
	truncateArtifactID string
}

func (tr *truncatingRestoreService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	items, err := tr.FileBackupService.Restore(ctx, manifest, dryRun)
	if err != nil || dryRun || manifest.ArtifactID != tr.truncateArtifactID {
		return items, err
	}
	for _, item := range items {
		if err := os.Truncate(item.Path, 0); err != nil {
			return items, err
		}
	}
	return items, nil
}

func TestRestoreDetectsTruncatedWritesAndRollsBack(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	target := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))
	manifest := env.backupFile(t, true)

	require.NoError(t, os.WriteFile(target, []byte("pre-restore state"), 0600))

	truncating := &truncatingRestoreService{FileBackupService: env.files, truncateArtifactID: manifest.ArtifactID}
	env.restore.services[ComponentFiles] = truncating

	result, err := env.restore.Restore(ctx, filesRestoreRequest(manifest.ArtifactID))
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeIntegrity, ErrorType(err))
	assert.Contains(t, err.Error(), "missing or truncated")

	assert.Equal(t, RestoreStatusRolledBack, result.Status)
	assert.False(t, result.ValidationResults["files_accessible"])

	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, "pre-restore state", string(data))
}

// unsuccessfulSnapshotService reports a snapshot backup that ran but did not
// succeed, without returning an error.
type unsuccessfulSnapshotService struct {
	*FileBackupService
}

func (us *unsuccessfulSnapshotService) CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
	return &ComponentBackup{Component: ComponentFiles}, nil
}

func TestRestoreRejectsUnsuccessfulRollbackSnapshot(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	target := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))
	manifest := env.backupFile(t, true)

	require.NoError(t, os.WriteFile(target, []byte("pre-restore state"), 0600))

	env.restore.services[ComponentFiles] = &unsuccessfulSnapshotService{FileBackupService: env.files}

	result, err := env.restore.Restore(ctx, filesRestoreRequest(manifest.ArtifactID))
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeRollback, ErrorType(err))
	assert.Contains(t, err.Error(), "reported failure")
	assert.Equal(t, RestoreStatusFailed, result.Status)

	// The restore never started, so the target is untouched.
	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, "pre-restore state", string(data))
}

func TestRestoreDuplicateIDConflict(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(env.root, "notes.txt"), []byte("x"), 0600))
	manifest := env.backupFile(t, true)

	request := filesRestoreRequest(manifest.ArtifactID)
	request.DryRun = true

	_, err := env.restore.Restore(ctx, request)
	require.NoError(t, err)

	_, err = env.restore.Restore(ctx, request)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeConflict, ErrorType(err))
}

func TestRestoreRejectsMismatchedComponent(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(env.root, "notes.txt"), []byte("x"), 0600))
	manifest := env.backupFile(t, true)

	_, err := env.restore.Restore(ctx, &RestoreRequest{
		RestoreID:       "restore-mismatch",
		Type:            RestoreConfigFull,
		SourceBackupIDs: []string{manifest.ArtifactID},
	})
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeValidation, ErrorType(err))
	assert.Contains(t, err.Error(), "not restorable")

	status, statusErr := env.restore.GetRestoreStatus("restore-mismatch")
	require.NoError(t, statusErr)
	assert.Equal(t, RestoreStatusFailed, status.Status)
}

func TestRestoreComplianceFailureNotBypassedByForce(t *testing.T) {
	env := testRestoreEnv(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(env.root, "notes.txt"), []byte("x"), 0600))
	manifest := env.backupFile(t, false) // unencrypted

	request := filesRestoreRequest(manifest.ArtifactID)
	request.ComplianceRequired = true
	request.Force = true

	result, err := env.restore.Restore(ctx, request)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeCompliance, ErrorType(err))
	assert.Equal(t, RestoreStatusFailed, result.Status)
}

func TestRestoreUnknownSourceFails(t *testing.T) {
	env := testRestoreEnv(t)

	result, err := env.restore.Restore(context.Background(), filesRestoreRequest("no-such-artifact"))
	require.Error(t, err)
	assert.Equal(t, RestoreStatusFailed, result.Status)
}

func TestComponentMatchesRestore(t *testing.T) {
	assert.True(t, componentMatchesRestore(RestoreDatabaseFull, ComponentDatabase))
	assert.False(t, componentMatchesRestore(RestoreDatabaseFull, ComponentFiles))
	assert.True(t, componentMatchesRestore(RestoreSystemFull, ComponentConfig))
	assert.False(t, componentMatchesRestore(RestoreConfigFull, ComponentFiles))
}
