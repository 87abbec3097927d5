package backup

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// ArtifactPipeline is the single choke point through which every artifact's
// bytes pass on the way to storage. It applies compression before encryption
// (ciphertext is not compressible, so the reverse order is never valid) and
// computes the artifact checksum over the final bytes. CPU-bound work runs
// under a bounded semaphore so concurrent I/O-bound jobs are never starved.
type ArtifactPipeline struct {
	compressionMgr *CompressionManager
	encryptionMgr  *EncryptionManager
	compression    CompressionConfig
	cpu            *semaphore.Weighted
}

// ProcessedArtifact describes the outcome of running data through the pipeline
type ProcessedArtifact struct {
	Data         []byte
	Checksum     string
	OriginalSize int64
	Size         int64
	Compressed   bool
	Encrypted    bool
	Compression  CompressionType
	// Suffix carries the filename suffixes in fixed order:
	// compression suffix first, encryption suffix second.
	Suffix string
}

// NewArtifactPipeline creates a pipeline with the given CPU worker bound
func NewArtifactPipeline(compression CompressionConfig, encryption *EncryptionConfig, workers int) *ArtifactPipeline {
	if workers <= 0 {
		workers = 1
	}
	return &ArtifactPipeline{
		compressionMgr: NewCompressionManager(),
		encryptionMgr:  NewEncryptionManager(encryption),
		compression:    compression,
		cpu:            semaphore.NewWeighted(int64(workers)),
	}
}

// Process compresses, encrypts, and checksums data per the given flags.
// encrypt=true overrides the configuration; callers pass it for
// mandatory-encrypt content regardless of the job's global flag.
func (ap *ArtifactPipeline) Process(ctx context.Context, data []byte, compress, encrypt bool) (*ProcessedArtifact, error) {
	if err := ap.cpu.Acquire(ctx, 1); err != nil {
		return nil, NewDependencyError("artifact pipeline cancelled", err)
	}
	defer ap.cpu.Release(1)

	result := &ProcessedArtifact{
		Data:         data,
		OriginalSize: int64(len(data)),
		Compression:  CompressionTypeNone,
	}

	// Compression sees plaintext or it sees nothing.
	if compress && ap.compression.Enabled &&
		ap.compressionMgr.ShouldCompress(int64(len(data)), ap.compression.Threshold) {
		compressed, err := ap.compressionMgr.Compress(data, ap.compression.Algorithm, ap.compression.Level)
		if err != nil {
			return nil, err
		}
		result.Data = compressed
		result.Compressed = true
		result.Compression = ap.compression.Algorithm
		result.Suffix = ap.compressionMgr.Suffix(ap.compression.Algorithm)
	}

	if encrypt {
		encrypted, err := ap.encryptionMgr.Encrypt(result.Data)
		if err != nil {
			return nil, err
		}
		result.Data = encrypted
		result.Encrypted = true
		result.Suffix += EncryptedSuffix
	}

	result.Size = int64(len(result.Data))
	result.Checksum = CalculateDataChecksum(result.Data)

	return result, nil
}

// Reverse decrypts then decompresses artifact bytes per the manifest flags,
// the exact inverse of Process.
func (ap *ArtifactPipeline) Reverse(ctx context.Context, data []byte, manifest *Manifest) ([]byte, error) {
	if err := ap.cpu.Acquire(ctx, 1); err != nil {
		return nil, NewDependencyError("artifact pipeline cancelled", err)
	}
	defer ap.cpu.Release(1)

	restored := data

	if manifest.Encrypted {
		decrypted, err := ap.encryptionMgr.Decrypt(restored)
		if err != nil {
			return nil, err
		}
		restored = decrypted
	}

	if manifest.Compressed {
		decompressed, err := ap.compressionMgr.Decompress(restored, manifest.Compression)
		if err != nil {
			return nil, err
		}
		restored = decompressed
	}

	return restored, nil
}

// VerifyChecksum recomputes the checksum of artifact bytes against a manifest
func (ap *ArtifactPipeline) VerifyChecksum(data []byte, manifest *Manifest) error {
	actual := CalculateDataChecksum(data)
	if actual != manifest.Checksum {
		return NewIntegrityError("artifact checksum mismatch", nil).
			WithContext("artifact_id", manifest.ArtifactID).
			WithContext("expected", manifest.Checksum).
			WithContext("actual", actual)
	}
	return nil
}

// WriteArtifactFile writes artifact bytes to a local path with owner-only
// permissions, using a temporary file and atomic rename so readers never see
// a partial artifact.
func WriteArtifactFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return NewStorageError("failed to create artifact directory", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return NewStorageError("failed to write artifact temp file", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return NewStorageError("failed to move artifact into place", err)
	}

	return nil
}
