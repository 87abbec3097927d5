package backup

import (
	"context"
)

// StorageBackend abstracts artifact storage keyed by logical path. All
// variants share identical semantics: keys are slash-separated logical paths,
// ListFiles matches by prefix, and DeleteFile of a missing key is an error.
type StorageBackend interface {
	// UploadFile copies a local file to the backend under remoteKey
	UploadFile(ctx context.Context, localPath, remoteKey string) error

	// DownloadFile copies the object at remoteKey to localPath
	DownloadFile(ctx context.Context, remoteKey, localPath string) error

	// ListFiles returns objects whose keys start with prefix
	ListFiles(ctx context.Context, prefix string) ([]StorageObject, error)

	// DeleteFile removes the object at remoteKey
	DeleteFile(ctx context.Context, remoteKey string) error

	// HealthCheck verifies that the backend is reachable and writable
	HealthCheck(ctx context.Context) error

	// Provider identifies the backend variant
	Provider() StorageProviderType

	// GetStorageInfo returns descriptive information about the backend
	GetStorageInfo() map[string]interface{}
}
