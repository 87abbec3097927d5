package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageBackend implements StorageBackend for Azure Blob Storage
type AzureStorageBackend struct {
	serviceURL    azblob.ServiceURL
	containerName string
	accountName   string
}

// NewAzureStorageBackend creates a new AzureStorageBackend instance
func NewAzureStorageBackend(config *AzureConfig) (*AzureStorageBackend, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}
	if config.AccountName == "" || config.ContainerName == "" {
		return nil, NewValidationError("Azure account name and container name are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewDependencyError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewDependencyError("failed to parse Azure service URL", err)
	}

	return &AzureStorageBackend{
		serviceURL:    azblob.NewServiceURL(*serviceURL, pipeline),
		containerName: config.ContainerName,
		accountName:   config.AccountName,
	}, nil
}

// UploadFile uploads a local file to Azure Blob Storage under remoteKey
func (azb *AzureStorageBackend) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open source file %s", localPath), err)
	}
	defer file.Close()

	containerURL := azb.serviceURL.NewContainerURL(azb.containerName)
	blobURL := containerURL.NewBlockBlobURL(remoteKey)

	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024, // 4MB blocks
		Parallelism: 16,
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to Azure", remoteKey), err)
	}

	return nil
}

// DownloadFile downloads the blob at remoteKey to localPath
func (azb *AzureStorageBackend) DownloadFile(ctx context.Context, remoteKey, localPath string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return NewStorageError("failed to create local directory", err)
	}

	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewStorageError("failed to create local file", err)
	}
	defer file.Close()

	containerURL := azb.serviceURL.NewContainerURL(azb.containerName)
	blobURL := containerURL.NewBlockBlobURL(remoteKey)

	err = azblob.DownloadBlobToFile(ctx, blobURL.BlobURL, 0, azblob.CountToEnd, file, azblob.DownloadFromBlobOptions{
		RetryReaderOptionsPerBlock: azblob.RetryReaderOptions{MaxRetryRequests: 20},
	})
	if err != nil {
		os.Remove(localPath)
		return NewStorageError(fmt.Sprintf("failed to download %s from Azure", remoteKey), err)
	}

	return nil
}

// ListFiles returns blobs whose names start with prefix
func (azb *AzureStorageBackend) ListFiles(ctx context.Context, prefix string) ([]StorageObject, error) {
	var objects []StorageObject

	containerURL := azb.serviceURL.NewContainerURL(azb.containerName)

	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list blobs from Azure", err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			objects = append(objects, StorageObject{
				Path:         blob.Name,
				Size:         size,
				ModifiedTime: blob.Properties.LastModified,
			})
		}

		marker = listResponse.NextMarker
	}

	return objects, nil
}

// DeleteFile removes the blob at remoteKey
func (azb *AzureStorageBackend) DeleteFile(ctx context.Context, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	containerURL := azb.serviceURL.NewContainerURL(azb.containerName)
	blobURL := containerURL.NewBlockBlobURL(remoteKey)

	_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete %s from Azure", remoteKey), err)
	}

	return nil
}

// HealthCheck verifies that the container is accessible
func (azb *AzureStorageBackend) HealthCheck(ctx context.Context) error {
	containerURL := azb.serviceURL.NewContainerURL(azb.containerName)

	_, err := containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return NewDependencyError("Azure health check failed: container not accessible", err)
	}

	_, err = containerURL.ListBlobsFlatSegment(ctx, azblob.Marker{}, azblob.ListBlobsSegmentOptions{
		MaxResults: 1,
	})
	if err != nil {
		return NewDependencyError("Azure health check failed: cannot list blobs", err)
	}

	return nil
}

// Provider identifies the backend variant
func (azb *AzureStorageBackend) Provider() StorageProviderType {
	return StorageProviderAzure
}

// GetStorageInfo returns information about the storage backend
func (azb *AzureStorageBackend) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":  "azure",
		"account":   azb.accountName,
		"container": azb.containerName,
	}
}
