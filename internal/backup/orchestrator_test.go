package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponentService lets tests control component behavior directly
type fakeComponentService struct {
	component ComponentType
	backup    func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error)
}

func (fc *fakeComponentService) Component() ComponentType { return fc.component }

func (fc *fakeComponentService) CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
	return fc.backup(ctx, opts)
}

func (fc *fakeComponentService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	return nil, nil
}

func (fc *fakeComponentService) ListBackups(ctx context.Context, limit int) ([]*Manifest, error) {
	return nil, nil
}

type orchestratorEnv struct {
	orchestrator *BackupOrchestrator
	backend      *LocalStorageBackend
	manifests    *ManifestStore
	filesRoot    string
}

func testOrchestrator(t *testing.T, services ...ComponentService) *orchestratorEnv {
	t.Helper()

	backend := testLocalBackend(t)
	manifests := NewManifestStore(backend, t.TempDir())
	pipeline := testPipeline(t)
	scratch := t.TempDir()

	filesRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(filesRoot, "record.txt"), []byte("record body"), 0600))

	if len(services) == 0 {
		filesConfig := &FilesConfig{Roots: []string{filesRoot}}
		filesConfig.SetDefaults()
		configScan := &ConfigScanConfig{
			Paths:             []string{writeTempFile(t, "setting: on")},
			SecretEnvPatterns: []string{"CUSTODIA_ORCH_TEST_*"},
		}
		services = []ComponentService{
			NewFileBackupService(filesConfig, backend, manifests, pipeline, scratch, nil),
			NewConfigBackupService(configScan, nil, backend, manifests, pipeline, scratch, nil),
		}
	}

	validator := NewBackupValidator(backend, pipeline, scratch, nil)
	retention := &RetentionConfig{TierDays: map[BackupTier]int{TierDaily: 30}}
	retentionMgr := NewRetentionManager(manifests, retention, nil, nil)

	orchestrator := NewBackupOrchestrator(
		&OrchestratorConfig{MaxConcurrentJobs: 2, StopGracePeriod: 2 * time.Second},
		retention, services, validator, retentionMgr, nil, nil)

	return &orchestratorEnv{
		orchestrator: orchestrator,
		backend:      backend,
		manifests:    manifests,
		filesRoot:    filesRoot,
	}
}

func orchestratorJob(components ...ComponentType) *BackupJob {
	return &BackupJob{
		ID:                 "daily-test",
		Tier:               TierDaily,
		Components:         components,
		RetentionDays:      30,
		EncryptionEnabled:  true,
		CompressionEnabled: true,
		ComplianceRequired: true,
	}
}

func TestOrchestratorVerifiedFlow(t *testing.T) {
	env := testOrchestrator(t)
	job := orchestratorJob(ComponentFiles, ComponentConfig)

	result, err := env.orchestrator.ScheduleBackup(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, BackupStatusVerified, result.Status)
	assert.True(t, result.ComplianceVerified)
	assert.NotEmpty(t, result.AggregateChecksum)
	assert.True(t, result.ComponentSuccess[ComponentFiles])
	assert.True(t, result.ComponentSuccess[ComponentConfig])
	assert.NotEmpty(t, result.ArtifactPaths)
	assert.False(t, result.EndTime.IsZero())

	status, err := env.orchestrator.GetStatus(result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusVerified, status.Status)

	history := env.orchestrator.ListHistory()
	require.Len(t, history, 1)
	assert.Equal(t, result.ExecutionID, history[0].ExecutionID)
}

func TestOrchestratorRejectsConcurrentSameJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	blocking := &fakeComponentService{
		component: ComponentFiles,
		backup: func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
			startedOnce.Do(func() { close(started) })
			<-release
			return nil, NewDependencyError("released without result", nil)
		},
	}

	env := testOrchestrator(t, blocking)
	job := orchestratorJob(ComponentFiles)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.orchestrator.ScheduleBackup(context.Background(), job)
	}()

	<-started
	_, err := env.orchestrator.ScheduleBackup(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeConflict, ErrorType(err))
	assert.Contains(t, err.Error(), "already active")

	close(release)
	wg.Wait()

	// The slot is free again once the first execution finishes.
	result, err := env.orchestrator.ScheduleBackup(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, BackupStatusFailed, result.Status)
}

func TestOrchestratorRejectsWhenStopped(t *testing.T) {
	env := testOrchestrator(t)
	require.NoError(t, env.orchestrator.Stop(context.Background()))

	_, err := env.orchestrator.ScheduleBackup(context.Background(), orchestratorJob(ComponentFiles))
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeConflict, ErrorType(err))
}

func TestOrchestratorRejectsInvalidJob(t *testing.T) {
	env := testOrchestrator(t)

	job := orchestratorJob(ComponentFiles)
	job.EncryptionEnabled = false // compliance still required

	_, err := env.orchestrator.ScheduleBackup(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeValidation, ErrorType(err))
}

func TestOrchestratorFailsOnComponentError(t *testing.T) {
	failing := &fakeComponentService{
		component: ComponentFiles,
		backup: func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
			return nil, NewStorageError("disk full", nil)
		},
	}

	env := testOrchestrator(t, failing)

	result, err := env.orchestrator.ScheduleBackup(context.Background(), orchestratorJob(ComponentFiles))
	require.NoError(t, err)

	assert.Equal(t, BackupStatusFailed, result.Status)
	assert.False(t, result.ComponentSuccess[ComponentFiles])
	assert.Contains(t, result.ErrorMessage, "disk full")
}

func TestOrchestratorFailsOnUnregisteredComponent(t *testing.T) {
	env := testOrchestrator(t, &fakeComponentService{
		component: ComponentFiles,
		backup: func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
			return &ComponentBackup{Component: ComponentFiles, Success: true}, nil
		},
	})

	result, err := env.orchestrator.ScheduleBackup(context.Background(), orchestratorJob(ComponentFiles, ComponentDatabase))
	require.NoError(t, err)

	assert.Equal(t, BackupStatusFailed, result.Status)
	assert.False(t, result.ComponentSuccess[ComponentDatabase])
	assert.Contains(t, result.ErrorMessage, "no service registered")
}

func TestOrchestratorMarksCorruptedOnChecksumMismatch(t *testing.T) {
	var backend *LocalStorageBackend
	source := writeTempFile(t, "artifact bytes")

	corrupting := &fakeComponentService{
		component: ComponentFiles,
		backup: func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
			key := ArtifactKey(opts.ExecutionID, ComponentFiles, "a.tar", "")
			if err := backend.UploadFile(ctx, source, key); err != nil {
				return nil, err
			}
			manifest := &Manifest{
				ArtifactID:   "corrupt-1",
				ArtifactPath: key,
				Component:    ComponentFiles,
				Checksum:     "does-not-match",
				Encrypted:    true,
				Size:         14,
			}
			return &ComponentBackup{
				Component:     ComponentFiles,
				Success:       true,
				ArtifactPaths: []string{key},
				Manifests:     []*Manifest{manifest},
			}, nil
		},
	}

	env := testOrchestrator(t, corrupting)
	backend = env.backend

	result, err := env.orchestrator.ScheduleBackup(context.Background(), orchestratorJob(ComponentFiles))
	require.NoError(t, err)
	assert.Equal(t, BackupStatusCorrupted, result.Status)
}

func TestOrchestratorComplianceGateRejectsUnencrypted(t *testing.T) {
	payload := []byte("plaintext artifact")
	var backend *LocalStorageBackend
	source := writeTempFile(t, string(payload))

	unencrypted := &fakeComponentService{
		component: ComponentFiles,
		backup: func(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
			key := ArtifactKey(opts.ExecutionID, ComponentFiles, "plain.tar", "")
			if err := backend.UploadFile(ctx, source, key); err != nil {
				return nil, err
			}
			manifest := &Manifest{
				ArtifactID:   "plain-1",
				ArtifactPath: key,
				Component:    ComponentFiles,
				Checksum:     CalculateDataChecksum(payload),
				Encrypted:    false,
				Size:         int64(len(payload)),
			}
			return &ComponentBackup{
				Component:     ComponentFiles,
				Success:       true,
				ArtifactPaths: []string{key},
				Manifests:     []*Manifest{manifest},
			}, nil
		},
	}

	env := testOrchestrator(t, unencrypted)
	backend = env.backend

	result, err := env.orchestrator.ScheduleBackup(context.Background(), orchestratorJob(ComponentFiles))
	require.NoError(t, err)

	assert.Equal(t, BackupStatusFailed, result.Status)
	assert.False(t, result.ComplianceVerified)
	assert.Contains(t, result.ErrorMessage, "unencrypted artifact")
}

func TestOrchestratorSummaryAggregatesExecutions(t *testing.T) {
	env := testOrchestrator(t)
	ctx := context.Background()

	verified, err := env.orchestrator.ScheduleBackup(ctx, orchestratorJob(ComponentFiles, ComponentConfig))
	require.NoError(t, err)
	require.Equal(t, BackupStatusVerified, verified.Status)

	failing := orchestratorJob(ComponentFiles, ComponentDatabase) // no database service registered
	failing.ID = "daily-with-database"
	failed, err := env.orchestrator.ScheduleBackup(ctx, failing)
	require.NoError(t, err)
	require.Equal(t, BackupStatusFailed, failed.Status)

	summary := env.orchestrator.Summary()
	assert.Zero(t, summary.ActiveExecutions)
	assert.Equal(t, 2, summary.TotalExecutions)
	assert.Equal(t, 1, summary.StatusCounts[BackupStatusVerified])
	assert.Equal(t, 1, summary.StatusCounts[BackupStatusFailed])
	require.NotNil(t, summary.LastExecution)
	assert.Equal(t, failed.ExecutionID, summary.LastExecution.ExecutionID)
}

func TestOrchestratorGetStatusUnknownExecution(t *testing.T) {
	env := testOrchestrator(t)

	_, err := env.orchestrator.GetStatus("exec-missing")
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeValidation, ErrorType(err))
}

func TestOrchestratorStopIsIdempotent(t *testing.T) {
	env := testOrchestrator(t)

	require.NoError(t, env.orchestrator.Stop(context.Background()))
	require.NoError(t, env.orchestrator.Stop(context.Background()))
}

func TestKindForTier(t *testing.T) {
	assert.Equal(t, BackupKindIncremental, kindForTier(TierHourly))
	assert.Equal(t, BackupKindFull, kindForTier(TierDaily))
	assert.Equal(t, BackupKindFull, kindForTier(TierYearly))
}

func TestRetentionDaysFallsBackToTierDefault(t *testing.T) {
	retention := &RetentionConfig{TierDays: map[BackupTier]int{TierWeekly: 90}}

	job := orchestratorJob(ComponentFiles)
	job.Tier = TierWeekly
	job.RetentionDays = 0
	assert.Equal(t, 90, retentionDays(job, retention))

	job.RetentionDays = 7
	assert.Equal(t, 7, retentionDays(job, retention))
}
