package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3StorageBackend implements StorageBackend for S3-compatible object storage
type S3StorageBackend struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	bucket     string
}

// NewS3StorageBackend creates a new S3StorageBackend instance
func NewS3StorageBackend(config *S3Config) (*S3StorageBackend, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}
	if config.Bucket == "" {
		return nil, NewValidationError("S3 bucket is required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		)
	}
	// S3-compatible stores (MinIO, Ceph) need an explicit endpoint and
	// path-style addressing.
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewDependencyError("failed to create AWS session", err)
	}

	return &S3StorageBackend{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		bucket:     config.Bucket,
	}, nil
}

// UploadFile uploads a local file to S3 under remoteKey
func (s3b *S3StorageBackend) UploadFile(ctx context.Context, localPath, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to open source file %s", localPath), err)
	}
	defer file.Close()

	_, err = s3b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(remoteKey),
		Body:   file,
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to S3", remoteKey), err)
	}

	return nil
}

// DownloadFile downloads the object at remoteKey to localPath
func (s3b *S3StorageBackend) DownloadFile(ctx context.Context, remoteKey, localPath string) error {
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

	_, err = s3b.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		os.Remove(localPath)
		return NewStorageError(fmt.Sprintf("failed to download %s from S3", remoteKey), err)
	}

	return nil
}

// ListFiles returns objects whose keys start with prefix
func (s3b *S3StorageBackend) ListFiles(ctx context.Context, prefix string) ([]StorageObject, error) {
	var objects []StorageObject

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s3b.bucket),
		Prefix: aws.String(prefix),
	}

	err := s3b.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, StorageObject{
					Path:         aws.StringValue(obj.Key),
					Size:         aws.Int64Value(obj.Size),
					ModifiedTime: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, NewStorageError("failed to list objects from S3", err)
	}

	return objects, nil
}

// DeleteFile removes the object at remoteKey
func (s3b *S3StorageBackend) DeleteFile(ctx context.Context, remoteKey string) error {
	if remoteKey == "" {
		return NewValidationError("remote key cannot be empty", nil)
	}

	// HeadObject first so deleting a missing key reports not-found instead of
	// S3's silent no-op delete.
	_, err := s3b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("object %s not found", remoteKey), err)
	}

	_, err = s3b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3b.bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete %s from S3", remoteKey), err)
	}

	return nil
}

// HealthCheck verifies that the bucket is accessible
func (s3b *S3StorageBackend) HealthCheck(ctx context.Context) error {
	_, err := s3b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3b.bucket),
	})
	if err != nil {
		return NewDependencyError("S3 health check failed: bucket not accessible", err)
	}

	_, err = s3b.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s3b.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return NewDependencyError("S3 health check failed: cannot list objects", err)
	}

	return nil
}

// Provider identifies the backend variant
func (s3b *S3StorageBackend) Provider() StorageProviderType {
	return StorageProviderS3
}

// GetStorageInfo returns information about the storage backend
func (s3b *S3StorageBackend) GetStorageInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": "s3",
		"bucket":   s3b.bucket,
	}
}
