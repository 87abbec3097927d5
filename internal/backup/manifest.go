package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"context"

	"github.com/google/uuid"
)

// ManifestSuffix is appended to an artifact key to form its manifest key.
// The manifest always lives beside the artifact it describes.
const ManifestSuffix = ".manifest.json"

// ManifestKeyFor returns the manifest key for an artifact key
func ManifestKeyFor(artifactKey string) string {
	return artifactKey + ManifestSuffix
}

// IsManifestKey reports whether a storage key names a manifest
func IsManifestKey(key string) bool {
	return strings.HasSuffix(key, ManifestSuffix)
}

// ExecutionPrefix returns the storage key namespace owned by one execution
func ExecutionPrefix(executionID string) string {
	return fmt.Sprintf("jobs/%s/", executionID)
}

// ArtifactKey builds the storage key for a component artifact within an
// execution namespace. Suffixes arrive pre-ordered from the pipeline
// (compression suffix before encryption suffix).
func ArtifactKey(executionID string, component ComponentType, name, suffix string) string {
	return fmt.Sprintf("jobs/%s/%s/%s%s", executionID, strings.ToLower(string(component)), name, suffix)
}

// ManifestStore persists and retrieves manifests through a storage backend
type ManifestStore struct {
	storage    StorageBackend
	scratchDir string
}

// NewManifestStore creates a manifest store using scratchDir for staging
func NewManifestStore(storage StorageBackend, scratchDir string) *ManifestStore {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &ManifestStore{
		storage:    storage,
		scratchDir: scratchDir,
	}
}

// Save validates and persists a manifest beside its artifact
func (ms *ManifestStore) Save(ctx context.Context, manifest *Manifest) error {
	if err := manifest.Validate(); err != nil {
		return NewValidationError("refusing to persist invalid manifest", err)
	}

	data, err := manifest.ToJSON()
	if err != nil {
		return err
	}

	staging := filepath.Join(ms.scratchDir, fmt.Sprintf("manifest-%s.json", uuid.New().String()))
	if err := WriteArtifactFile(staging, data); err != nil {
		return err
	}
	defer os.Remove(staging)

	if err := ms.storage.UploadFile(ctx, staging, ManifestKeyFor(manifest.ArtifactPath)); err != nil {
		return NewStorageError("failed to persist manifest", err)
	}

	return nil
}

// Load retrieves and validates the manifest for an artifact key
func (ms *ManifestStore) Load(ctx context.Context, artifactKey string) (*Manifest, error) {
	staging := filepath.Join(ms.scratchDir, fmt.Sprintf("manifest-%s.json", uuid.New().String()))
	defer os.Remove(staging)

	if err := ms.storage.DownloadFile(ctx, ManifestKeyFor(artifactKey), staging); err != nil {
		return nil, NewStorageError(fmt.Sprintf("manifest for %s not found", artifactKey), err)
	}

	data, err := os.ReadFile(staging)
	if err != nil {
		return nil, NewStorageError("failed to read downloaded manifest", err)
	}

	manifest := &Manifest{}
	if err := manifest.FromJSON(data); err != nil {
		return nil, err
	}

	return manifest, nil
}

// List returns manifests under the given key prefix, newest first. A limit of
// zero or less returns all matches. Unreadable manifests are skipped, not
// fatal to the listing.
func (ms *ManifestStore) List(ctx context.Context, prefix string, limit int) ([]*Manifest, error) {
	objects, err := ms.storage.ListFiles(ctx, prefix)
	if err != nil {
		return nil, NewStorageError("failed to list manifests", err)
	}

	var manifests []*Manifest
	for _, obj := range objects {
		if !IsManifestKey(obj.Path) {
			continue
		}
		manifest, loadErr := ms.Load(ctx, strings.TrimSuffix(obj.Path, ManifestSuffix))
		if loadErr != nil {
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})

	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}

	return manifests, nil
}

// Delete removes a manifest and its artifact from storage
func (ms *ManifestStore) Delete(ctx context.Context, manifest *Manifest) error {
	// An artifact already gone must not strand its manifest.
	if err := ms.storage.DeleteFile(ctx, manifest.ArtifactPath); err != nil && !IsNotFound(err) {
		return err
	}
	return ms.storage.DeleteFile(ctx, ManifestKeyFor(manifest.ArtifactPath))
}

// FindByArtifactID scans manifests for one with the given artifact ID
func (ms *ManifestStore) FindByArtifactID(ctx context.Context, artifactID string) (*Manifest, error) {
	manifests, err := ms.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	for _, manifest := range manifests {
		if manifest.ArtifactID == artifactID {
			return manifest, nil
		}
	}
	return nil, NewStorageError(fmt.Sprintf("no manifest found for artifact %s", artifactID), nil)
}
