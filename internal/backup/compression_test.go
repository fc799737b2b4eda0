package backup

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionManager_RoundTrip(t *testing.T) {
	cm := NewCompressionManager()
	data := []byte(strings.Repeat(`{"id":"ACCT-1","name":"Acme","industry":"technology"},`, 200))

	for _, algorithm := range []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, stats, err := cm.Compress(data, algorithm, 0)
			require.NoError(t, err)
			require.NotNil(t, stats)

			assert.Equal(t, algorithm, stats.Algorithm)
			assert.Equal(t, int64(len(data)), stats.OriginalSize)
			assert.Equal(t, int64(len(compressed)), stats.CompressedSize)
			assert.Less(t, stats.CompressionRatio, 0.5, "repetitive rows should compress well")

			assert.Equal(t, algorithm, DetectCompression(compressed))

			out, detected, err := cm.DecompressAuto(compressed)
			require.NoError(t, err)
			assert.Equal(t, algorithm, detected)
			assert.Equal(t, data, out)

			compressor, err := cm.GetCompressor(algorithm)
			require.NoError(t, err)
			assert.Equal(t, algorithm, compressor.GetAlgorithm())
		})
	}
}

func TestCompressionManager_UnsupportedAlgorithm(t *testing.T) {
	cm := NewCompressionManager()

	_, _, err := cm.Compress([]byte("data"), CompressionType("brotli"), 1)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeCompression))
	assert.Contains(t, err.Error(), "unsupported compression algorithm")

	_, _, err = cm.Compress([]byte("data"), CompressionTypeNone, 1)
	assert.Error(t, err)
}

func TestCompressionManager_DecompressAutoRejectsUnknownFormat(t *testing.T) {
	cm := NewCompressionManager()

	_, algorithm, err := cm.DecompressAuto([]byte(`{"version":"1.0"}`))
	require.Error(t, err)
	assert.Equal(t, CompressionTypeNone, algorithm)
}

func TestCompressionManager_CorruptPayload(t *testing.T) {
	cm := NewCompressionManager()

	compressed, _, err := cm.Compress([]byte(strings.Repeat("abc", 1000)), CompressionTypeZstd, 3)
	require.NoError(t, err)

	truncated := compressed[:len(compressed)/2]
	_, err = cm.Decompress(truncated, CompressionTypeZstd)
	assert.Error(t, err)
}

func TestCompressionWithRandomData(t *testing.T) {
	cm := NewCompressionManager()
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	for _, algorithm := range []CompressionType{CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		compressed, _, err := cm.Compress(data, algorithm, 0)
		require.NoError(t, err)

		out, err := cm.Decompress(compressed, algorithm)
		require.NoError(t, err)
		assert.Equal(t, data, out, string(algorithm))
	}
}

func TestCompressionWithInvalidLevel(t *testing.T) {
	cm := NewCompressionManager()

	_, stats, err := cm.Compress([]byte("level test"), CompressionTypeZstd, 99)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Level)

	_, stats, err = cm.Compress([]byte("level test"), CompressionTypeLZ4, -4)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Level)
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		input   string
		want    CompressionType
		wantErr bool
	}{
		{"", CompressionTypeZstd, false},
		{"ZSTD", CompressionTypeZstd, false},
		{"gzip", CompressionTypeGzip, false},
		{" lz4 ", CompressionTypeLZ4, false},
		{"none", "", true},
		{"snappy", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCompressionType(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			assert.True(t, IsType(err, BackupErrorTypeConfiguration))
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestCalculateCompressionRatio(t *testing.T) {
	assert.Equal(t, 1.0, CalculateCompressionRatio(0, 0))
	assert.Equal(t, 0.25, CalculateCompressionRatio(100, 25))
}
