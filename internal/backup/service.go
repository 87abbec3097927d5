package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ComponentService is implemented by each backed-up component. The
// orchestrator drives components only through this interface.
type ComponentService interface {
	// Component identifies which component this service backs up
	Component() ComponentType

	// CreateBackup produces one or more artifacts with manifests. A returned
	// error means nothing usable was produced; partial failures are reported
	// through the manifests' item error counts with Success still true.
	CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error)

	// Restore applies a previously created artifact. Under dryRun the
	// restored items are reported but nothing is written.
	Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error)

	// ListBackups returns this component's manifests, newest first. A limit
	// of zero or less returns all of them.
	ListBackups(ctx context.Context, limit int) ([]*Manifest, error)
}

// FetchArtifact downloads artifact bytes for a manifest, verifies the stored
// checksum, and reverses the pipeline. Every restore path goes through this
// so a tampered artifact can never reach a target system.
func FetchArtifact(ctx context.Context, storage StorageBackend, pipeline *ArtifactPipeline, manifest *Manifest, scratchDir string) ([]byte, error) {
	staging, err := stagingPath(scratchDir, "artifact")
	if err != nil {
		return nil, err
	}
	defer removeStaging(staging)

	if err := storage.DownloadFile(ctx, manifest.ArtifactPath, staging); err != nil {
		return nil, NewStorageError("failed to download artifact", err).
			WithContext("artifact_id", manifest.ArtifactID)
	}

	data, err := readStaging(staging)
	if err != nil {
		return nil, err
	}

	if err := pipeline.VerifyChecksum(data, manifest); err != nil {
		return nil, err
	}

	return pipeline.Reverse(ctx, data, manifest)
}

// PushArtifact runs data through the pipeline, uploads the result, and
// persists its manifest. The returned manifest carries the final storage key
// including pipeline suffixes.
func PushArtifact(ctx context.Context, storage StorageBackend, pipeline *ArtifactPipeline, manifests *ManifestStore, scratchDir string, data []byte, template Manifest, opts BackupOptions, baseName string) (*Manifest, error) {
	// Protected-subject and secret content is mandatory-encrypt regardless of
	// the job's encryption flag.
	encrypt := opts.EncryptionEnabled ||
		template.Sensitivity == SensitivityProtectedSubject ||
		template.SecretClass == SecretClassSecret

	processed, err := pipeline.Process(ctx, data, opts.CompressionEnabled, encrypt)
	if err != nil {
		return nil, err
	}

	manifest := template
	manifest.Version = ManifestVersion
	manifest.ArtifactPath = ArtifactKey(opts.ExecutionID, manifest.Component, baseName, processed.Suffix)
	manifest.Size = processed.Size
	manifest.OriginalSize = processed.OriginalSize
	manifest.Checksum = processed.Checksum
	manifest.Encrypted = processed.Encrypted
	manifest.Compressed = processed.Compressed
	manifest.Compression = processed.Compression
	manifest.Tier = opts.Tier
	manifest.CreatedAt = time.Now().UTC()
	manifest.RetentionUntil = manifest.CreatedAt.Add(time.Duration(opts.RetentionDays) * 24 * time.Hour)
	manifest.StorageProvider = storage.Provider()

	staging, err := stagingPath(scratchDir, "artifact")
	if err != nil {
		return nil, err
	}
	defer removeStaging(staging)

	if err := WriteArtifactFile(staging, processed.Data); err != nil {
		return nil, err
	}
	if err := storage.UploadFile(ctx, staging, manifest.ArtifactPath); err != nil {
		return nil, NewStorageError("failed to upload artifact", err).
			WithContext("artifact_id", manifest.ArtifactID)
	}

	if err := manifests.Save(ctx, &manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// stagingPath returns a unique scratch file path for artifact staging
func stagingPath(scratchDir, kind string) (string, error) {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	if err := os.MkdirAll(scratchDir, 0700); err != nil {
		return "", NewStorageError("failed to create scratch directory", err)
	}
	return filepath.Join(scratchDir, fmt.Sprintf("%s-%s.tmp", kind, uuid.New().String())), nil
}

func removeStaging(path string) {
	os.Remove(path)
}

func readStaging(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewStorageError("failed to read staged artifact", err)
	}
	return data, nil
}
