package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageBackend implements StorageBackend for Google Cloud Storage
type GCSStorageBackend struct {
	client *storage.Client
	bucket string
}

// NewGCSStorageBackend creates a new GCSStorageBackend instance
func NewGCSStorageBackend(ctx context.Context, config *GCSConfig) (*GCSStorageBackend, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}
	if config.Bucket == "" {
		return nil, NewValidationError("GCS bucket is required", nil)
	}

	var client *storage.Client
	var err error
	if config.CredentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(config.CredentialsPath))
	} else {
		// Fall back to application default credentials
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, NewDependencyError("failed to create GCS client", err)
	}

	return &GCSStorageBackend{
		client: client,
		bucket: config.Bucket,
	}, nil
}

// UploadFile uploads a local file to GCS under remoteKey
func (gsb *GCSStorageBackend) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open source file %s", localPath), err)
	}
	defer file.Close()

	writer := gsb.client.Bucket(gsb.bucket).Object(remoteKey).NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return NewStorageError(fmt.Sprintf("failed to upload %s to GCS", remoteKey), err)
	}
	if err := writer.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to finalize upload of %s to GCS", remoteKey), err)
	}

	return nil
}

// DownloadFile downloads the object at remoteKey to localPath
func (gsb *GCSStorageBackend) DownloadFile(ctx context.Context, remoteKey, localPath string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	reader, err := gsb.client.Bucket(gsb.bucket).Object(remoteKey).NewReader(ctx)
	if err != nil {
		return NewStorageError(fmt.Sprintf("object %s not found", remoteKey), err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return NewStorageError("failed to create local directory", err)
	}

	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewStorageError("failed to create local file", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(localPath)
		return NewStorageError(fmt.Sprintf("failed to download %s from GCS", remoteKey), err)
	}

	return nil
}

// ListFiles returns objects whose keys start with prefix
func (gsb *GCSStorageBackend) ListFiles(ctx context.Context, prefix string) ([]StorageObject, error) {
	var objects []StorageObject

	it := gsb.client.Bucket(gsb.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list objects from GCS", err)
		}

		objects = append(objects, StorageObject{
			Path:         attrs.Name,
			Size:         attrs.Size,
			ModifiedTime: attrs.Updated,
		})
	}

	return objects, nil
}

// DeleteFile removes the object at remoteKey
func (gsb *GCSStorageBackend) DeleteFile(ctx context.Context, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	if err := gsb.client.Bucket(gsb.bucket).Object(remoteKey).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return NewStorageError(fmt.Sprintf("object %s not found", remoteKey), err)
		}
		return NewStorageError(fmt.Sprintf("failed to delete %s from GCS", remoteKey), err)
	}

	return nil
}

// HealthCheck verifies that the bucket is accessible
func (gsb *GCSStorageBackend) HealthCheck(ctx context.Context) error {
	_, err := gsb.client.Bucket(gsb.bucket).Attrs(ctx)
	if err != nil {
		return NewDependencyError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

// Provider identifies the backend variant
func (gsb *GCSStorageBackend) Provider() StorageProviderType {
	return StorageProviderGCS
}

// GetStorageInfo returns information about the storage backend
func (gsb *GCSStorageBackend) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "gcs",
		"bucket":   gsb.bucket,
	}
}

// Close releases the underlying GCS client
func (gsb *GCSStorageBackend) Close() error {
	return gsb.client.Close()
}
