package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorageBackend implements StorageBackend on the local file system.
// Uploads land in a temporary file and are renamed into place so readers never
// observe a partially written artifact.
type LocalStorageBackend struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageBackend creates a new LocalStorageBackend instance
func NewLocalStorageBackend(config *LocalConfig) (*LocalStorageBackend, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}
	if config.BasePath == "" {
		return nil, NewValidationError("local storage base path is required", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0700
	}

	backend := &LocalStorageBackend{
		basePath:    config.BasePath,
		permissions: permissions,
	}

	if err := os.MkdirAll(backend.basePath, permissions); err != nil {
		return nil, NewStorageError("failed to create base directory", err)
	}

	return backend, nil
}

// UploadFile copies a local file into the storage root under remoteKey
func (lsb *LocalStorageBackend) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("upload cancelled", err)
	}

	targetPath, err := lsb.resolveKey(remoteKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), lsb.permissions); err != nil {
		return NewStorageError("failed to create target directory", err)
	}

	source, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open source file %s", localPath), err)
	}
	defer source.Close()

	// Write to a temp path in the same directory, then rename atomically.
	tempPath := targetPath + ".tmp"
	target, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewStorageError("failed to create temporary file", err)
	}

	if _, err := io.Copy(target, source); err != nil {
		target.Close()
		os.Remove(tempPath)
		return NewStorageError("failed to copy file data", err)
	}
	if err := target.Close(); err != nil {
		os.Remove(tempPath)
		return NewStorageError("failed to flush temporary file", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return NewStorageError("failed to move file into place", err)
	}

	return nil
}

// DownloadFile copies the object at remoteKey to localPath
func (lsb *LocalStorageBackend) DownloadFile(ctx context.Context, remoteKey, localPath string) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("download cancelled", err)
	}

	sourcePath, err := lsb.resolveKey(remoteKey)
	if err != nil {
		return err
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStorageError(fmt.Sprintf("object %s not found", remoteKey), err)
		}
		return NewStorageError("failed to open stored object", err)
	}
	defer source.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return NewStorageError("failed to create local directory", err)
	}

	target, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewStorageError("failed to create local file", err)
	}
	defer target.Close()

	if _, err := io.Copy(target, source); err != nil {
		return NewStorageError("failed to copy object data", err)
	}

	return nil
}

// ListFiles returns objects whose keys start with prefix
func (lsb *LocalStorageBackend) ListFiles(ctx context.Context, prefix string) ([]StorageObject, error) {
	var objects []StorageObject

	err := filepath.WalkDir(lsb.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		// In-flight uploads are invisible to readers.
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		key, relErr := filepath.Rel(lsb.basePath, path)
		if relErr != nil {
			return nil
		}
		key = filepath.ToSlash(key)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		objects = append(objects, StorageObject{
			Path:         key,
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, NewStorageError("failed to list stored objects", err)
	}

	return objects, nil
}

// DeleteFile removes the object at remoteKey
func (lsb *LocalStorageBackend) DeleteFile(ctx context.Context, remoteKey string) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("delete cancelled", err)
	}

	targetPath, err := lsb.resolveKey(remoteKey)
	if err != nil {
		return err
	}

	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		return NewStorageError(fmt.Sprintf("object %s not found", remoteKey), err)
	}

	if err := os.Remove(targetPath); err != nil {
		return NewStorageError("failed to delete stored object", err)
	}

	// Prune now-empty parent directories up to the base path.
	dir := filepath.Dir(targetPath)
	for dir != lsb.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

// HealthCheck verifies that the storage root is writable and readable
func (lsb *LocalStorageBackend) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsb.basePath, ".health_check")

	if err := os.WriteFile(testFile, []byte("health_check"), 0600); err != nil {
		return NewDependencyError("local storage health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewDependencyError("local storage health check failed: cannot read from base directory", err)
	}
	os.Remove(testFile)

	return nil
}

// Provider identifies the backend variant
func (lsb *LocalStorageBackend) Provider() StorageProviderType {
	return StorageProviderLocal
}

// GetStorageInfo returns information about the storage backend
func (lsb *LocalStorageBackend) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "local",
		"base_path":   lsb.basePath,
		"permissions": lsb.permissions.String(),
	}
}

// GetBasePath returns the storage root directory
func (lsb *LocalStorageBackend) GetBasePath() string {
	return lsb.basePath
}

// resolveKey maps a logical key to a filesystem path, rejecting traversal
func (lsb *LocalStorageBackend) resolveKey(remoteKey string) (string, error) {
	if remoteKey == "" {
		return "", NewValidationError("remote key cannot be empty", nil)
	}

	cleaned := filepath.Clean(filepath.FromSlash(remoteKey))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", NewValidationError(fmt.Sprintf("remote key %s escapes the storage root", remoteKey), nil)
	}

	return filepath.Join(lsb.basePath, cleaned), nil
}
