package backup

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Codec converts snapshots to compressed canonical JSON and back
type Codec struct {
	compression *CompressionManager
	algorithm   CompressionType
	level       int
}

// NewCodec creates a codec that compresses with the given algorithm.
// A level of zero selects the algorithm default.
func NewCodec(algorithm CompressionType, level int) (*Codec, error) {
	if algorithm == "" {
		algorithm = DefaultCompression
	}

	cm := NewCompressionManager()
	if _, err := cm.GetCompressor(algorithm); err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("invalid snapshot compression %q", algorithm), err)
	}

	return &Codec{
		compression: cm,
		algorithm:   algorithm,
		level:       level,
	}, nil
}

// Algorithm returns the compression algorithm used by Encode
func (c *Codec) Algorithm() CompressionType {
	return c.algorithm
}

// Encode serializes the snapshot with sorted keys and compresses it
func (c *Codec) Encode(s *Snapshot) ([]byte, error) {
	data, _, err := c.EncodeWithStats(s)
	return data, err
}

// EncodeWithStats is Encode that also reports compression statistics
func (c *Codec) EncodeWithStats(s *Snapshot) ([]byte, *CompressionStats, error) {
	if s == nil {
		return nil, nil, NewValidationError("snapshot cannot be nil", nil)
	}

	out := *s
	if out.Tables == nil {
		out.Tables = map[string][]Row{}
	}

	raw, err := json.Marshal(&out)
	if err != nil {
		return nil, nil, NewValidationError("failed to serialize snapshot", err)
	}

	compressed, stats, err := c.compression.Compress(raw, c.algorithm, c.level)
	if err != nil {
		return nil, nil, err
	}
	return compressed, stats, nil
}

// Decode decompresses and parses a snapshot.
// The compression algorithm is detected from the payload, so artifacts written
// with any supported algorithm can be read regardless of the current setting.
func (c *Codec) Decode(data []byte) (*Snapshot, error) {
	raw, _, err := c.compression.DecompressAuto(data)
	if err != nil {
		return nil, NewMalformedArtifactError("failed to decompress snapshot", err)
	}
	return parseSnapshot(raw)
}

func parseSnapshot(raw []byte) (*Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, NewMalformedArtifactError("snapshot is not a JSON object", err)
	}

	for _, key := range []string{"version", "timestamp", "tables"} {
		value, ok := top[key]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return nil, NewMalformedArtifactError(fmt.Sprintf("snapshot is missing required key %q", key), nil)
		}
	}

	s := &Snapshot{}
	if err := json.Unmarshal(top["version"], &s.Version); err != nil {
		return nil, NewMalformedArtifactError("snapshot version is not a string", err)
	}
	if err := json.Unmarshal(top["timestamp"], &s.Timestamp); err != nil {
		return nil, NewMalformedArtifactError("snapshot timestamp is not a string", err)
	}

	dec := json.NewDecoder(bytes.NewReader(top["tables"]))
	dec.UseNumber()
	if err := dec.Decode(&s.Tables); err != nil {
		return nil, NewMalformedArtifactError("snapshot tables are not a mapping of row lists", err)
	}
	for name, rows := range s.Tables {
		for i, row := range rows {
			if row == nil {
				return nil, NewMalformedArtifactError(fmt.Sprintf("table %s row %d is not an object", name, i), nil)
			}
		}
	}

	return s, nil
}
