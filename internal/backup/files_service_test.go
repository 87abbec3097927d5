package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFilesService(t *testing.T, root string) (*FileBackupService, *ManifestStore) {
	t.Helper()

	config := &FilesConfig{Roots: []string{root}}
	config.SetDefaults()

	backend := testLocalBackend(t)
	manifests := NewManifestStore(backend, t.TempDir())
	service := NewFileBackupService(config, backend, manifests, testPipeline(t), t.TempDir(), nil)
	return service, manifests
}

func filesBackupOptions(encrypt bool) BackupOptions {
	return BackupOptions{
		ExecutionID:        "exec-files-test",
		Tier:               TierDaily,
		Kind:               BackupKindFull,
		RetentionDays:      30,
		EncryptionEnabled:  encrypt,
		CompressionEnabled: true,
	}
}

func TestFileBackupAndRestoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "reports", "visit.txt"), []byte("visit notes"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "summary.txt"), []byte("summary"), 0600))

	service, _ := testFilesService(t, root)
	ctx := context.Background()

	result, err := service.CreateBackup(ctx, filesBackupOptions(true))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Manifests, 1)

	manifest := result.Manifests[0]
	assert.Equal(t, SensitivityStandard, manifest.Sensitivity)
	assert.Len(t, manifest.FileList, 2)
	assert.Equal(t, 2, manifest.ProcessedCount)
	assert.Zero(t, manifest.ErrorCount)

	// Change the files, then restore the originals over them.
	require.NoError(t, os.WriteFile(filepath.Join(root, "summary.txt"), []byte("overwritten"), 0600))

	items, err := service.Restore(ctx, manifest, false)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	restored, err := os.ReadFile(filepath.Join(root, "summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "summary", string(restored))
}

func TestFileBackupEncryptsProtectedSubjectsRegardlessOfJobFlag(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "minor-records"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "minor-records", "case.txt"), []byte("protected"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "newsletter.txt"), []byte("public"), 0600))

	service, _ := testFilesService(t, root)

	// Encryption disabled on the job; the protected group must ignore that.
	result, err := service.CreateBackup(context.Background(), filesBackupOptions(false))
	require.NoError(t, err)
	require.Len(t, result.Manifests, 2)

	byClass := map[SensitivityClass]*Manifest{}
	for _, manifest := range result.Manifests {
		byClass[manifest.Sensitivity] = manifest
	}

	standard := byClass[SensitivityStandard]
	protected := byClass[SensitivityProtectedSubject]
	require.NotNil(t, standard)
	require.NotNil(t, protected)

	assert.False(t, standard.Encrypted)
	assert.True(t, protected.Encrypted)
	assert.Len(t, protected.FileList, 1)
	assert.Contains(t, protected.FileList[0], "minor-records")
}

func TestFileBackupSkipsDotfilesAndOversizedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("dotfile"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "config"), []byte("repo"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("kept"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"), make([]byte, 2048), 0600))

	service, _ := testFilesService(t, root)
	service.config.MaxFileSize = 1024

	result, err := service.CreateBackup(context.Background(), filesBackupOptions(true))
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)

	manifest := result.Manifests[0]
	require.Len(t, manifest.FileList, 1)
	assert.Contains(t, manifest.FileList[0], "kept.txt")

	oversizeWarned := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "big.bin") {
			oversizeWarned = true
		}
	}
	assert.True(t, oversizeWarned)
}

func TestFileBackupIncrementalByModTime(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0600))

	cutoff := time.Now().Add(-time.Hour)
	stale := cutoff.Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	service, _ := testFilesService(t, root)

	opts := filesBackupOptions(true)
	opts.IncrementalSince = &cutoff

	result, err := service.CreateBackup(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)

	manifest := result.Manifests[0]
	assert.Equal(t, BackupKindIncremental, manifest.Kind)
	require.Len(t, manifest.FileList, 1)
	assert.Contains(t, manifest.FileList[0], "new.txt")
}

func TestFileBackupIncrementalDerivesCutoffFromLastBackup(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0600))

	service, _ := testFilesService(t, root)
	ctx := context.Background()

	first, err := service.CreateBackup(ctx, filesBackupOptions(true))
	require.NoError(t, err)
	baseline := first.Manifests[0].CreatedAt

	// Age the original file past the baseline and add one newer file.
	stale := baseline.Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))
	newPath := filepath.Join(root, "new.txt")
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0600))
	fresh := baseline.Add(time.Hour)
	require.NoError(t, os.Chtimes(newPath, fresh, fresh))

	opts := filesBackupOptions(true)
	opts.ExecutionID = "exec-files-incremental"
	opts.Kind = BackupKindIncremental

	result, err := service.CreateBackup(ctx, opts)
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)

	manifest := result.Manifests[0]
	assert.Equal(t, BackupKindIncremental, manifest.Kind)
	require.Len(t, manifest.FileList, 1)
	assert.Contains(t, manifest.FileList[0], "new.txt")
}

func TestFileBackupIncrementalWithoutBaselineFallsBackToFull(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "only.txt"), []byte("only"), 0600))

	service, _ := testFilesService(t, root)

	opts := filesBackupOptions(true)
	opts.Kind = BackupKindIncremental

	result, err := service.CreateBackup(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)

	assert.Equal(t, BackupKindFull, result.Manifests[0].Kind)
	assert.Len(t, result.Manifests[0].FileList, 1)

	fellBack := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "performed full capture instead") {
			fellBack = true
		}
	}
	assert.True(t, fellBack)
}

func TestFileBackupClassifiesConfidentialAndLogicalTypes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "medical-notes"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "medical-notes", "exam.pdf"), []byte("exam"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "photo.jpg"), []byte("jpeg bytes"), 0600))

	service, _ := testFilesService(t, root)

	result, err := service.CreateBackup(context.Background(), filesBackupOptions(true))
	require.NoError(t, err)
	require.Len(t, result.Manifests, 2)

	byClass := map[SensitivityClass]*Manifest{}
	for _, manifest := range result.Manifests {
		byClass[manifest.Sensitivity] = manifest
	}

	confidential := byClass[SensitivityConfidential]
	standard := byClass[SensitivityStandard]
	require.NotNil(t, confidential)
	require.NotNil(t, standard)

	require.Len(t, confidential.FileList, 1)
	assert.Contains(t, confidential.FileList[0], "exam.pdf")
	assert.Equal(t, map[string]int{"document": 1}, confidential.FileTypes)
	assert.Equal(t, map[string]int{"image": 1}, standard.FileTypes)
}

func TestFileListBackupsHonorsLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("doc"), 0600))

	service, _ := testFilesService(t, root)
	ctx := context.Background()

	_, err := service.CreateBackup(ctx, filesBackupOptions(true))
	require.NoError(t, err)

	second := filesBackupOptions(true)
	second.ExecutionID = "exec-files-second"
	result, err := service.CreateBackup(ctx, second)
	require.NoError(t, err)

	all, err := service.ListBackups(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	limited, err := service.ListBackups(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, result.Manifests[0].ArtifactID, limited[0].ArtifactID)
}

func TestFileBackupEmptyDiscovery(t *testing.T) {
	service, _ := testFilesService(t, t.TempDir())

	result, err := service.CreateBackup(context.Background(), filesBackupOptions(true))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Manifests)
	assert.Contains(t, result.Warnings, "no files matched discovery criteria")
}

func TestFileRestoreDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "doc.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0600))

	service, _ := testFilesService(t, root)
	ctx := context.Background()

	result, err := service.CreateBackup(ctx, filesBackupOptions(true))
	require.NoError(t, err)
	manifest := result.Manifests[0]

	require.NoError(t, os.WriteFile(target, []byte("changed"), 0600))

	items, err := service.Restore(ctx, manifest, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].DryRun)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "changed", string(data))
}

func TestRestoreTargetRejectsTraversal(t *testing.T) {
	assert.Equal(t, "", restoreTarget("../../etc/passwd"))
	assert.Equal(t, "", restoreTarget(".."))
	assert.Equal(t, "/tmp/data/file.txt", restoreTarget("tmp/data/file.txt"))
}
