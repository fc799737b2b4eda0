package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Artifact layout: hex(sha256(frame)) '\n' frame, where frame is IV | tag | ciphertext.
const (
	ivSize         = 16
	tagSize        = 16
	checksumLength = sha256.Size * 2
	headerLength   = checksumLength + 1

	keyIterations = 100000
	keySize       = 32
)

var keySalt = []byte("crm-backup/artifact-key/v1")

// Sealer encrypts and checksums snapshot payloads with a key derived from the operator secret
type Sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewSealer derives the AES-256 key from secret.
// An empty secret is rejected; there is no fallback key.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, NewMissingKeyError()
	}

	key := pbkdf2.Key([]byte(secret), keySalt, keyIterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, NewConfigurationError("failed to create AES cipher", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, NewConfigurationError("failed to create GCM cipher", err)
	}

	return &Sealer{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plain with a fresh random IV and prepends the frame checksum.
// It returns the artifact bytes and the hex checksum embedded in them.
func (s *Sealer) Seal(plain []byte) ([]byte, string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(s.rand, iv); err != nil {
		return nil, "", NewConfigurationError("failed to generate initialization vector", err)
	}

	// GCM appends the tag to the ciphertext; the frame stores it up front
	sealed := s.aead.Seal(nil, iv, plain, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	frame := make([]byte, 0, ivSize+tagSize+len(ciphertext))
	frame = append(frame, iv...)
	frame = append(frame, tag...)
	frame = append(frame, ciphertext...)

	checksum := Checksum(frame)

	artifact := make([]byte, 0, headerLength+len(frame))
	artifact = append(artifact, checksum...)
	artifact = append(artifact, '\n')
	artifact = append(artifact, frame...)

	return artifact, checksum, nil
}

// Open verifies the embedded checksum and then decrypts the frame.
// Corruption is reported as an integrity error before any decryption is attempted.
func (s *Sealer) Open(artifact []byte) ([]byte, error) {
	_, frame, err := VerifyArtifact(artifact)
	if err != nil {
		return nil, err
	}

	if len(frame) < ivSize+tagSize {
		return nil, NewDecryptionError("encrypted frame is too short", nil)
	}

	iv := frame[:ivSize]
	tag := frame[ivSize : ivSize+tagSize]
	ciphertext := frame[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, NewDecryptionError("failed to decrypt backup: wrong key or tampered ciphertext", err)
	}
	return plain, nil
}

// VerifyArtifact checks the embedded checksum without needing the key.
// It returns the checksum and the encrypted frame it covers.
func VerifyArtifact(artifact []byte) (string, []byte, error) {
	if len(artifact) < headerLength {
		return "", nil, NewIntegrityError("backup may be corrupted: artifact is truncated", nil).
			WithContext("size", len(artifact))
	}
	if artifact[checksumLength] != '\n' {
		return "", nil, NewIntegrityError("backup may be corrupted: checksum header is malformed", nil)
	}

	embedded := artifact[:checksumLength]
	frame := artifact[headerLength:]
	computed := Checksum(frame)

	if subtle.ConstantTimeCompare(embedded, []byte(computed)) != 1 {
		return "", nil, NewIntegrityError("backup may be corrupted: checksum mismatch", nil).
			WithContext("expected", printable(embedded)).
			WithContext("actual", computed)
	}

	return computed, frame, nil
}

// Checksum returns the lowercase hex SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactChecksum returns the checksum header of an artifact without verifying it
func ArtifactChecksum(artifact []byte) (string, bool) {
	if len(artifact) < headerLength || artifact[checksumLength] != '\n' {
		return "", false
	}
	return string(artifact[:checksumLength]), true
}

// Seal encrypts plain with a key derived from secret
func Seal(plain []byte, secret string) ([]byte, error) {
	s, err := NewSealer(secret)
	if err != nil {
		return nil, err
	}
	artifact, _, err := s.Seal(plain)
	return artifact, err
}

// Open verifies and decrypts an artifact with a key derived from secret
func Open(artifact []byte, secret string) ([]byte, error) {
	s, err := NewSealer(secret)
	if err != nil {
		return nil, err
	}
	return s.Open(artifact)
}

func printable(b []byte) string {
	if bytes.IndexFunc(b, func(r rune) bool { return r < 0x20 || r > 0x7e }) >= 0 {
		return fmt.Sprintf("%x", b)
	}
	return string(b)
}
