package backup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundTrip(t *testing.T) {
	manager := NewCompressionManager()
	payload := bytes.Repeat([]byte("regulated subject record 0042\n"), 200)

	algorithms := []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd}
	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, err := manager.Compress(payload, algorithm, 0)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(payload))

			restored, err := manager.Decompress(compressed, algorithm)
			require.NoError(t, err)
			assert.Equal(t, payload, restored)
		})
	}
}

func TestCompressionNoneIsPassthrough(t *testing.T) {
	manager := NewCompressionManager()
	payload := []byte("small")

	compressed, err := manager.Compress(payload, CompressionTypeNone, 5)
	require.NoError(t, err)
	assert.Equal(t, payload, compressed)

	restored, err := manager.Decompress(compressed, CompressionTypeNone)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestCompressionUnsupportedAlgorithm(t *testing.T) {
	manager := NewCompressionManager()

	_, err := manager.Compress([]byte("data"), "BROTLI", 5)
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeCompression, ErrorType(err))

	_, err = manager.Decompress([]byte("data"), "BROTLI")
	assert.Error(t, err)
}

func TestCompressionOutOfRangeLevelFallsBack(t *testing.T) {
	manager := NewCompressionManager()
	payload := bytes.Repeat([]byte("abc"), 500)

	compressed, err := manager.Compress(payload, CompressionTypeGzip, 99)
	require.NoError(t, err)

	restored, err := manager.Decompress(compressed, CompressionTypeGzip)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestCompressionSuffixes(t *testing.T) {
	manager := NewCompressionManager()

	assert.Equal(t, ".gz", manager.Suffix(CompressionTypeGzip))
	assert.Equal(t, ".lz4", manager.Suffix(CompressionTypeLZ4))
	assert.Equal(t, ".zst", manager.Suffix(CompressionTypeZstd))
	assert.Equal(t, "", manager.Suffix(CompressionTypeNone))
}

func TestShouldCompress(t *testing.T) {
	manager := NewCompressionManager()

	assert.True(t, manager.ShouldCompress(2048, 1024))
	assert.True(t, manager.ShouldCompress(1024, 1024))
	assert.False(t, manager.ShouldCompress(100, 1024))
}
