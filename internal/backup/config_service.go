package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"custodia/internal/logging"

	"github.com/google/uuid"
)

// envCaptureName is the in-archive name of the captured environment snapshot.
// It never existed on disk, so restore writes it to scratch space for operator
// review instead of a target path.
const envCaptureName = "custodia-environment.env"

// SecretVault supplies externally managed secrets for inclusion in secret
// configuration artifacts. Implementations must never log secret values.
type SecretVault interface {
	ListSecrets(ctx context.Context) (map[string]string, error)
}

// ConfigBackupService archives configuration files and captured secrets.
// Secret and non-secret content always land in separate artifacts so the
// secret artifact can be mandatory-encrypted and independently retained.
type ConfigBackupService struct {
	config     *ConfigScanConfig
	vault      SecretVault
	storage    StorageBackend
	manifests  *ManifestStore
	pipeline   *ArtifactPipeline
	scratchDir string
	logger     *logging.Logger
}

// NewConfigBackupService creates a configuration backup service. The vault is
// optional; without one only file-based and environment secrets are captured.
func NewConfigBackupService(config *ConfigScanConfig, vault SecretVault, storage StorageBackend, manifests *ManifestStore, pipeline *ArtifactPipeline, scratchDir string, logger *logging.Logger) *ConfigBackupService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ConfigBackupService{
		config:     config,
		vault:      vault,
		storage:    storage,
		manifests:  manifests,
		pipeline:   pipeline,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// Component identifies this service as the config component
func (cs *ConfigBackupService) Component() ComponentType {
	return ComponentConfig
}

// CreateBackup produces up to two artifacts: one non-secret configuration
// archive and one secret archive holding secret-classified files, matching
// environment variables, and vault secrets.
func (cs *ConfigBackupService) CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
	start := time.Now()

	result := &ComponentBackup{
		Component: ComponentConfig,
	}

	plain, secret, warnings := cs.discoverConfigFiles()
	result.Warnings = warnings

	envSnapshot := cs.captureEnvironment()
	vaultSnapshot, err := cs.captureVault(ctx)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("vault capture failed: %v", err))
	}

	if len(plain) > 0 {
		manifest, pushErr := cs.pushConfigArchive(ctx, opts, plain, nil, SecretClassNone)
		if pushErr != nil {
			cs.logger.LogComponentBackup(opts.ExecutionID, string(ComponentConfig), 0, time.Since(start), false, pushErr)
			return nil, pushErr
		}
		result.ArtifactPaths = append(result.ArtifactPaths, manifest.ArtifactPath)
		result.TotalSize += manifest.Size
		result.Manifests = append(result.Manifests, manifest)
	}

	captured := mergeSnapshots(envSnapshot, vaultSnapshot)
	if len(secret) > 0 || len(captured) > 0 {
		manifest, pushErr := cs.pushConfigArchive(ctx, opts, secret, captured, SecretClassSecret)
		if pushErr != nil {
			cs.logger.LogComponentBackup(opts.ExecutionID, string(ComponentConfig), 0, time.Since(start), false, pushErr)
			return nil, pushErr
		}
		result.ArtifactPaths = append(result.ArtifactPaths, manifest.ArtifactPath)
		result.TotalSize += manifest.Size
		result.Manifests = append(result.Manifests, manifest)
	}

	if len(result.Manifests) == 0 {
		result.Warnings = append(result.Warnings, "no configuration content discovered")
	}

	result.Success = true
	cs.logger.LogComponentBackup(opts.ExecutionID, string(ComponentConfig), result.TotalSize, time.Since(start), true, nil)
	return result, nil
}

// Restore extracts a configuration archive. Configuration files return to
// their original paths; the captured environment snapshot is written to
// scratch space for operator review, never applied automatically.
func (cs *ConfigBackupService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	archive, err := FetchArtifact(ctx, cs.storage, cs.pipeline, manifest, cs.scratchDir)
	if err != nil {
		return nil, err
	}

	reader := tar.NewReader(bytes.NewReader(archive))
	var restored []RestoredItem

	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, NewIntegrityError("corrupt configuration archive", err).
				WithContext("artifact_id", manifest.ArtifactID)
		}

		var target string
		if header.Name == envCaptureName {
			target = filepath.Join(cs.scratchDir, fmt.Sprintf("%s-%s", manifest.ArtifactID, envCaptureName))
		} else {
			target = restoreTarget(header.Name)
			if target == "" {
				cs.logger.Warnf("Skipped unsafe archive path %q", header.Name)
				continue
			}
		}

		if dryRun {
			restored = append(restored, RestoredItem{Path: target, Size: header.Size, DryRun: true})
			continue
		}

		if err := extractFile(reader, target, fs.FileMode(header.Mode)); err != nil {
			return restored, NewStorageError(fmt.Sprintf("failed to restore %s", target), err)
		}
		restored = append(restored, RestoredItem{Path: target, Size: header.Size})
	}

	return restored, nil
}

// ListBackups returns configuration manifests, newest first
func (cs *ConfigBackupService) ListBackups(ctx context.Context, limit int) ([]*Manifest, error) {
	all, err := cs.manifests.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, manifest := range all {
		if manifest.Component == ComponentConfig {
			out = append(out, manifest)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// discoverConfigFiles walks the configured paths splitting discovered files
// into non-secret and secret groups by file name.
func (cs *ConfigBackupService) discoverConfigFiles() (plain, secret []string, warnings []string) {
	for _, root := range cs.config.Paths {
		info, err := os.Stat(root)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot access %s: %v", root, err))
			continue
		}

		if !info.IsDir() {
			cs.classifyConfigFile(root, &plain, &secret)
			continue
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("cannot access %s: %v", path, err))
				return nil
			}
			if d.IsDir() {
				return nil
			}
			cs.classifyConfigFile(path, &plain, &secret)
			return nil
		})
		if walkErr != nil {
			warnings = append(warnings, fmt.Sprintf("failed to walk %s: %v", root, walkErr))
		}
	}
	return plain, secret, warnings
}

func (cs *ConfigBackupService) classifyConfigFile(path string, plain, secret *[]string) {
	if cs.isSecretName(filepath.Base(path)) {
		*secret = append(*secret, path)
	} else {
		*plain = append(*plain, path)
	}
}

// isSecretName matches a name against the secret patterns, case-insensitively
func (cs *ConfigBackupService) isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range cs.config.SecretEnvPatterns {
		if ok, _ := filepath.Match(strings.ToUpper(pattern), upper); ok {
			return true
		}
	}
	return false
}

// captureEnvironment snapshots environment variables whose names match the
// secret patterns.
func (cs *ConfigBackupService) captureEnvironment() map[string]string {
	captured := map[string]string{}
	for _, pair := range os.Environ() {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if cs.isSecretName(name) {
			captured[name] = value
		}
	}
	return captured
}

// captureVault pulls secrets from the configured vault, if any
func (cs *ConfigBackupService) captureVault(ctx context.Context) (map[string]string, error) {
	if cs.vault == nil {
		return nil, nil
	}
	return cs.vault.ListSecrets(ctx)
}

// pushConfigArchive tars the given files plus an optional captured-secret
// snapshot and pushes the result through the artifact pipeline.
func (cs *ConfigBackupService) pushConfigArchive(ctx context.Context, opts BackupOptions, files []string, captured map[string]string, class SecretClass) (*Manifest, error) {
	var buf bytes.Buffer
	writer := tar.NewWriter(&buf)

	var fileList []string
	var itemErrors []string

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to read %s: %v", path, err))
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("cannot stat %s: %v", path, err))
			continue
		}

		header := &tar.Header{
			Name:    archiveName(path),
			Size:    int64(len(data)),
			Mode:    int64(info.Mode().Perm()),
			ModTime: info.ModTime(),
		}
		if err := writer.WriteHeader(header); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to archive %s: %v", path, err))
			continue
		}
		if _, err := writer.Write(data); err != nil {
			itemErrors = append(itemErrors, fmt.Sprintf("failed to archive %s: %v", path, err))
			continue
		}
		fileList = append(fileList, path)
	}

	if len(captured) > 0 {
		snapshot := renderEnvSnapshot(captured)
		header := &tar.Header{
			Name:    envCaptureName,
			Size:    int64(len(snapshot)),
			Mode:    0600,
			ModTime: time.Now().UTC(),
		}
		if err := writer.WriteHeader(header); err == nil {
			if _, err := writer.Write(snapshot); err == nil {
				fileList = append(fileList, envCaptureName)
			}
		}
	}

	writer.Close()

	if len(fileList) == 0 {
		return nil, NewPartialFailureError("no configuration items could be archived", nil).
			WithContext("item_errors", strings.Join(itemErrors, "; "))
	}

	sensitivity := SensitivityStandard
	if class == SecretClassSecret {
		sensitivity = SensitivityConfidential
	}

	template := Manifest{
		ArtifactID:     uuid.New().String(),
		Component:      ComponentConfig,
		Kind:           BackupKindFull,
		FileList:       fileList,
		Sensitivity:    sensitivity,
		SecretClass:    class,
		ProcessedCount: len(fileList),
		ErrorCount:     len(itemErrors),
		ItemErrors:     itemErrors,
	}

	label := "plain"
	if class == SecretClassSecret {
		label = "secret"
	}
	baseName := fmt.Sprintf("config-%s-%s.tar", label, time.Now().UTC().Format("20060102-150405"))

	return PushArtifact(ctx, cs.storage, cs.pipeline, cs.manifests, cs.scratchDir, buf.Bytes(), template, opts, baseName)
}

// renderEnvSnapshot renders captured secrets in env-file form, sorted by name
func renderEnvSnapshot(captured map[string]string) []byte {
	names := make([]string, 0, len(captured))
	for name := range captured {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&buf, "%s=%s\n", name, captured[name])
	}
	return buf.Bytes()
}

// mergeSnapshots merges captured secret maps, later maps winning on conflict
func mergeSnapshots(snapshots ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, snapshot := range snapshots {
		for name, value := range snapshot {
			merged[name] = value
		}
	}
	return merged
}
