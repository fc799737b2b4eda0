package backup

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType names a supported compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// DefaultCompression is used when no algorithm is configured
const DefaultCompression = CompressionTypeZstd

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseCompressionType converts a configuration value into a CompressionType
func ParseCompressionType(value string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return DefaultCompression, nil
	case CompressionTypeZstd:
		return CompressionTypeZstd, nil
	case CompressionTypeGzip:
		return CompressionTypeGzip, nil
	case CompressionTypeLZ4:
		return CompressionTypeLZ4, nil
	case CompressionTypeNone:
		return "", NewConfigurationError("compression cannot be disabled for backup artifacts", nil)
	default:
		return "", NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", value), nil)
	}
}

// DetectCompression identifies the algorithm of a compressed payload from its magic bytes
func DetectCompression(data []byte) CompressionType {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionTypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionTypeGzip
	case bytes.HasPrefix(data, lz4Magic):
		return CompressionTypeLZ4
	default:
		return CompressionTypeNone
	}
}

// CompressionStats contains statistics about compression operations
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size" yaml:"original_size"`
	CompressedSize   int64           `json:"compressed_size" yaml:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio" yaml:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm" yaml:"algorithm"`
	Level            int             `json:"level" yaml:"level"`
	Duration         time.Duration   `json:"duration" yaml:"duration"`
}

// Compressor interface defines compression operations
type Compressor interface {
	Compress(data []byte, level int) ([]byte, *CompressionStats, error)
	Decompress(data []byte) ([]byte, error)
	GetAlgorithm() CompressionType
	GetDefaultLevel() int
	GetMaxLevel() int
	GetMinLevel() int
}

// CompressionManager manages compression operations
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a new compression manager
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	for _, c := range []Compressor{&GzipCompressor{}, &LZ4Compressor{}, &ZstdCompressor{}} {
		cm.compressors[c.GetAlgorithm()] = c
	}

	return cm
}

// Compress compresses data using the specified algorithm and level.
// An out-of-range level falls back to the algorithm default.
func (cm *CompressionManager) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, nil, err
	}

	if level < compressor.GetMinLevel() || level > compressor.GetMaxLevel() {
		level = compressor.GetDefaultLevel()
	}

	return compressor.Compress(data, level)
}

// Decompress decompresses data using the specified algorithm
func (cm *CompressionManager) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, err
	}
	return compressor.Decompress(data)
}

// DecompressAuto detects the algorithm from the payload and decompresses it
func (cm *CompressionManager) DecompressAuto(data []byte) ([]byte, CompressionType, error) {
	algorithm := DetectCompression(data)
	if algorithm == CompressionTypeNone {
		return nil, algorithm, NewCompressionError("payload is not in a recognized compression format", nil)
	}
	compressor, err := cm.GetCompressor(algorithm)
	if err != nil {
		return nil, algorithm, err
	}
	out, err := compressor.Decompress(data)
	return out, compressor.GetAlgorithm(), err
}

// GetCompressor returns a compressor for the specified algorithm
func (cm *CompressionManager) GetCompressor(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

func newCompressionStats(algorithm CompressionType, level int, original, compressed int, start time.Time) *CompressionStats {
	return &CompressionStats{
		OriginalSize:     int64(original),
		CompressedSize:   int64(compressed),
		CompressionRatio: CalculateCompressionRatio(int64(original), int64(compressed)),
		Algorithm:        algorithm,
		Level:            level,
		Duration:         time.Since(start),
	}
}

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, nil, NewCompressionError("failed to create gzip writer", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to gzip writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close gzip writer", err)
	}

	compressed := buf.Bytes()
	return compressed, newCompressionStats(CompressionTypeGzip, level, len(data), len(compressed), start), nil
}

func (gc *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, NewCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress gzip data", err)
	}

	return decompressed, nil
}

func (gc *GzipCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeGzip
}

func (gc *GzipCompressor) GetDefaultLevel() int {
	return gzip.DefaultCompression
}

func (gc *GzipCompressor) GetMaxLevel() int {
	return gzip.BestCompression
}

func (gc *GzipCompressor) GetMinLevel() int {
	return gzip.BestSpeed
}

// LZ4Compressor implements LZ4 compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)

	// LZ4 only distinguishes fast and high compression
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, nil, NewCompressionError("failed to set LZ4 high compression", err)
		}
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, nil, NewCompressionError("failed to write data to LZ4 writer", err)
	}

	if err := writer.Close(); err != nil {
		return nil, nil, NewCompressionError("failed to close LZ4 writer", err)
	}

	compressed := buf.Bytes()
	return compressed, newCompressionStats(CompressionTypeLZ4, level, len(data), len(compressed), start), nil
}

func (lc *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, NewCompressionError("failed to decompress LZ4 data", err)
	}

	return decompressed, nil
}

func (lc *LZ4Compressor) GetAlgorithm() CompressionType {
	return CompressionTypeLZ4
}

func (lc *LZ4Compressor) GetDefaultLevel() int {
	return 1
}

func (lc *LZ4Compressor) GetMaxLevel() int {
	return 12
}

func (lc *LZ4Compressor) GetMinLevel() int {
	return 1
}

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Compress(data []byte, level int) ([]byte, *CompressionStats, error) {
	start := time.Now()

	var encoderLevel zstd.EncoderLevel
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, nil, NewCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	return compressed, newCompressionStats(CompressionTypeZstd, level, len(data), len(compressed), start), nil
}

func (zc *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, NewCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, NewCompressionError("failed to decompress zstd data", err)
	}

	return decompressed, nil
}

func (zc *ZstdCompressor) GetAlgorithm() CompressionType {
	return CompressionTypeZstd
}

func (zc *ZstdCompressor) GetDefaultLevel() int {
	return 3
}

func (zc *ZstdCompressor) GetMaxLevel() int {
	return 22
}

func (zc *ZstdCompressor) GetMinLevel() int {
	return 1
}
