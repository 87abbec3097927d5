package backup

import (
	"context"
	"fmt"
)

// StorageBackendFactory creates storage backends based on configuration
type StorageBackendFactory struct{}

// NewStorageBackendFactory creates a new storage backend factory
func NewStorageBackendFactory() *StorageBackendFactory {
	return &StorageBackendFactory{}
}

// CreateStorageBackend creates a storage backend for the configured provider
func (sbf *StorageBackendFactory) CreateStorageBackend(ctx context.Context, config StorageConfig) (StorageBackend, error) {
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageBackend(config.Local)

	case StorageProviderS3:
		return NewS3StorageBackend(config.S3)

	case StorageProviderAzure:
		return NewAzureStorageBackend(config.Azure)

	case StorageProviderGCS:
		return NewGCSStorageBackend(ctx, config.GCS)

	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns the supported storage provider types
func (sbf *StorageBackendFactory) GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}
