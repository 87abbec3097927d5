package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVault struct {
	secrets map[string]string
	err     error
}

func (sv *stubVault) ListSecrets(ctx context.Context) (map[string]string, error) {
	return sv.secrets, sv.err
}

// Secret patterns are pinned to a test-only prefix so variables from the
// surrounding environment cannot leak into the capture.
func testConfigService(t *testing.T, paths []string, vault SecretVault) (*ConfigBackupService, string) {
	t.Helper()

	config := &ConfigScanConfig{
		Paths:             paths,
		SecretEnvPatterns: []string{"CUSTODIA_TEST_*"},
	}

	backend := testLocalBackend(t)
	manifests := NewManifestStore(backend, t.TempDir())
	scratch := t.TempDir()
	service := NewConfigBackupService(config, vault, backend, manifests, testPipeline(t), scratch, nil)
	return service, scratch
}

func configBackupOptions() BackupOptions {
	return BackupOptions{
		ExecutionID:        "exec-config-test",
		Tier:               TierDaily,
		Kind:               BackupKindFull,
		RetentionDays:      30,
		EncryptionEnabled:  false,
		CompressionEnabled: true,
	}
}

func TestConfigBackupSplitsSecretAndPlain(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.yaml"), []byte("port: 8080"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "custodia_test_api.token"), []byte("tok-123"), 0600))

	t.Setenv("CUSTODIA_TEST_DB_PASSWORD", "hunter2")

	vault := &stubVault{secrets: map[string]string{"CUSTODIA_TEST_SIGNING": "vault-value"}}
	service, _ := testConfigService(t, []string{root}, vault)

	result, err := service.CreateBackup(context.Background(), configBackupOptions())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Manifests, 2)

	byClass := map[SecretClass]*Manifest{}
	for _, manifest := range result.Manifests {
		byClass[manifest.SecretClass] = manifest
	}

	plain := byClass[SecretClassNone]
	secret := byClass[SecretClassSecret]
	require.NotNil(t, plain)
	require.NotNil(t, secret)

	// Job encryption is off; only the secret artifact overrides it.
	assert.False(t, plain.Encrypted)
	assert.True(t, secret.Encrypted)
	assert.Equal(t, SensitivityConfidential, secret.Sensitivity)

	require.Len(t, plain.FileList, 1)
	assert.Contains(t, plain.FileList[0], "app.yaml")

	require.Len(t, secret.FileList, 2)
	assert.Contains(t, secret.FileList[0], "custodia_test_api.token")
	assert.Equal(t, envCaptureName, secret.FileList[1])
}

func TestConfigRestoreKeepsEnvSnapshotOutOfEnvironment(t *testing.T) {
	root := t.TempDir()
	secretPath := filepath.Join(root, "custodia_test_api.token")
	require.NoError(t, os.WriteFile(secretPath, []byte("tok-123"), 0600))

	t.Setenv("CUSTODIA_TEST_DB_PASSWORD", "hunter2")

	service, scratch := testConfigService(t, []string{root}, nil)
	ctx := context.Background()

	result, err := service.CreateBackup(ctx, configBackupOptions())
	require.NoError(t, err)
	require.Len(t, result.Manifests, 1)
	manifest := result.Manifests[0]

	require.NoError(t, os.Remove(secretPath))

	items, err := service.Restore(ctx, manifest, false)
	require.NoError(t, err)
	require.Len(t, items, 2)

	// The configuration file returns to its original path.
	data, err := os.ReadFile(secretPath)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", string(data))

	// The environment snapshot lands in scratch space for review.
	snapshotPath := filepath.Join(scratch, manifest.ArtifactID+"-"+envCaptureName)
	snapshot, err := os.ReadFile(snapshotPath)
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), "CUSTODIA_TEST_DB_PASSWORD=hunter2\n")
}

func TestConfigRestoreDryRun(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "app.yaml")
	require.NoError(t, os.WriteFile(target, []byte("port: 8080"), 0600))

	service, _ := testConfigService(t, []string{root}, nil)
	ctx := context.Background()

	result, err := service.CreateBackup(ctx, configBackupOptions())
	require.NoError(t, err)
	manifest := result.Manifests[0]

	require.NoError(t, os.WriteFile(target, []byte("port: 9090"), 0600))

	items, err := service.Restore(ctx, manifest, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].DryRun)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "port: 9090", string(data))
}

func TestConfigBackupVaultFailureIsAWarning(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.yaml"), []byte("port: 8080"), 0600))

	vault := &stubVault{err: NewDependencyError("vault unreachable", nil)}
	service, _ := testConfigService(t, []string{root}, vault)

	result, err := service.CreateBackup(context.Background(), configBackupOptions())
	require.NoError(t, err)
	assert.True(t, result.Success)

	warned := false
	for _, warning := range result.Warnings {
		if strings.Contains(warning, "vault capture failed") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestConfigBackupNothingDiscovered(t *testing.T) {
	service, _ := testConfigService(t, []string{t.TempDir()}, nil)

	result, err := service.CreateBackup(context.Background(), configBackupOptions())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Manifests)
	assert.Contains(t, result.Warnings, "no configuration content discovered")
}

func TestRenderEnvSnapshotSortsByName(t *testing.T) {
	snapshot := renderEnvSnapshot(map[string]string{
		"ZED":   "3",
		"ALPHA": "1",
		"MID":   "2",
	})
	assert.Equal(t, "ALPHA=1\nMID=2\nZED=3\n", string(snapshot))
}
