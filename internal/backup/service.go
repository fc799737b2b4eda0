package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-backup/internal/audit"
	"crm-backup/internal/logging"
	"crm-backup/internal/schema"
)

// ArtifactExtension marks backup artifacts for operators; it carries no version
const ArtifactExtension = ".htb"

const artifactTimeLayout = "20060102-150405"

// ArtifactFilename returns the download name of an artifact created at t
func ArtifactFilename(t time.Time) string {
	return "crm-backup-" + t.UTC().Format(artifactTimeLayout) + ArtifactExtension
}

// IsArtifactName reports whether name carries the artifact extension
func IsArtifactName(name string) bool {
	return strings.HasSuffix(name, ArtifactExtension) && len(name) > len(ArtifactExtension)
}

// Artifact is a sealed backup ready to be downloaded or stored
type Artifact struct {
	Data      []byte            `json:"-" yaml:"-"`
	Checksum  string            `json:"checksum" yaml:"checksum"`
	Filename  string            `json:"filename" yaml:"filename"`
	CreatedAt time.Time         `json:"createdAt" yaml:"created_at"`
	Tables    map[string]int    `json:"tables" yaml:"tables"`
	Records   int64             `json:"records" yaml:"records"`
	Stats     *CompressionStats `json:"compression,omitempty" yaml:"compression,omitempty"`
	Warnings  []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ArtifactSummary describes the contents of an artifact without restoring it
type ArtifactSummary struct {
	Checksum       string          `json:"checksum" yaml:"checksum"`
	Size           int             `json:"size" yaml:"size"`
	Compression    CompressionType `json:"compression" yaml:"compression"`
	PayloadSize    int             `json:"payloadSize" yaml:"payload_size"`
	Version        string          `json:"version" yaml:"version"`
	VersionMatches bool            `json:"versionMatches" yaml:"version_matches"`
	Timestamp      string          `json:"timestamp" yaml:"timestamp"`
	Tables         map[string]int  `json:"tables" yaml:"tables"`
	Records        int64           `json:"records" yaml:"records"`
	Ungoverned     []string        `json:"ungovernedTables,omitempty" yaml:"ungoverned_tables,omitempty"`
}

// ServiceConfig holds the collaborators of a Service.
// Secret may be empty: the service still starts but refuses every operation that needs the key.
type ServiceConfig struct {
	Secret   string
	Registry *schema.Registry
	Source   TableSource
	Store    Store

	Compression      CompressionType
	CompressionLevel int
	ReadConcurrency  int
	ReadPageSize     int
	BatchSize        int
	MaxParams        int
	StrictVersion    bool

	Recorder audit.Recorder
	Metrics  *Metrics
	Logger   *logging.Logger
	Clock    func() time.Time
}

// Service creates, restores and inspects backup artifacts
type Service struct {
	sealer   *Sealer
	registry *schema.Registry
	reader   *SnapshotReader
	restorer *Restorer
	codec    *Codec
	recorder audit.Recorder
	metrics  *Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewService validates cfg and wires the backup pipeline
func NewService(cfg ServiceConfig) (*Service, error) {
	var errs ValidationErrors
	if cfg.Registry == nil {
		errs.Add("registry", "registry is required", nil)
	}
	if cfg.Source == nil {
		errs.Add("source", "table source is required", nil)
	}
	if cfg.Store == nil {
		errs.Add("store", "store is required", nil)
	}
	if errs.HasErrors() {
		return nil, NewConfigurationError("invalid backup service configuration", errs)
	}

	codec, err := NewCodec(cfg.Compression, cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	s := &Service{
		registry: cfg.Registry,
		codec:    codec,
		recorder: cfg.Recorder,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if s.recorder == nil {
		s.recorder = audit.NopRecorder{}
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if cfg.Secret != "" {
		if s.sealer, err = NewSealer(cfg.Secret); err != nil {
			return nil, err
		}
	}

	s.reader = NewSnapshotReader(cfg.Source, cfg.Registry,
		WithReadConcurrency(cfg.ReadConcurrency),
		WithReadPageSize(cfg.ReadPageSize),
		WithReaderLogger(s.logger),
		WithReaderClock(s.now),
	)
	s.restorer = NewRestorer(cfg.Store, cfg.Registry,
		WithBatchSize(cfg.BatchSize),
		WithMaxParams(cfg.MaxParams),
		WithStrictVersion(cfg.StrictVersion),
		WithRestoreLogger(s.logger),
	)

	return s, nil
}

// KeyConfigured reports whether the service can seal and open artifacts
func (s *Service) KeyConfigured() bool {
	return s.sealer != nil
}

// CreateBackup reads every governed table and seals the snapshot into an artifact.
// Nothing is returned unless the whole pipeline succeeds.
func (s *Service) CreateBackup(ctx context.Context, actor string) (*Artifact, error) {
	start := time.Now()

	artifact, err := s.createBackup(ctx)
	duration := time.Since(start)
	s.metrics.ObserveOperation(OperationBackup, duration, err)
	if err != nil {
		s.logger.LogBackupOperation(OperationBackup, 0, 0, duration, err)
		return nil, err
	}

	s.metrics.ObserveBackup(len(artifact.Data), artifact.Tables)
	s.logger.LogBackupOperation(OperationBackup, artifact.Records, len(artifact.Data), duration, nil)

	entry := audit.NewEntry(actor, audit.ActionCreate, audit.ResourceBackupJob).FromContext(ctx)
	entry.ResourceID = artifact.Filename
	entry.After = countsToMap(artifact.Tables)
	entry.Metadata = map[string]interface{}{
		"checksum":    artifact.Checksum,
		"size":        len(artifact.Data),
		"records":     artifact.Records,
		"compression": string(s.codec.Algorithm()),
		"version":     SnapshotVersion,
	}
	if warning := s.record(ctx, entry); warning != "" {
		artifact.Warnings = append(artifact.Warnings, warning)
	}

	return artifact, nil
}

func (s *Service) createBackup(ctx context.Context) (*Artifact, error) {
	if s.sealer == nil {
		return nil, NewMissingKeyError()
	}

	snapshot, err := s.reader.Read(ctx)
	if err != nil {
		return nil, err
	}
	createdAt, ok := snapshot.TakenAt()
	if !ok {
		createdAt = s.now().UTC()
	}

	payload, stats, err := s.codec.EncodeWithStats(snapshot)
	if err != nil {
		return nil, err
	}

	data, checksum, err := s.sealer.Seal(payload)
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Data:      data,
		Checksum:  checksum,
		Filename:  ArtifactFilename(createdAt),
		CreatedAt: createdAt,
		Tables:    snapshot.Counts(),
		Records:   snapshot.RowCount(),
		Stats:     stats,
	}, nil
}

// RestoreBackup verifies, decrypts and decodes data, then replaces every governed
// table with its contents. Integrity, key and format failures are reported before
// the database is touched. The result is never nil.
func (s *Service) RestoreBackup(ctx context.Context, actor string, data []byte) (*RestoreResult, error) {
	start := time.Now()

	result, err := s.restoreBackup(ctx, data)
	result.Duration = time.Since(start)
	s.metrics.ObserveOperation(OperationRestore, result.Duration, err)
	s.logger.LogBackupOperation(OperationRestore, result.RecordsRestored, len(data), result.Duration, err)
	if err != nil {
		return result, err
	}
	s.metrics.ObserveRestore(result.RecordsRestored)

	before := make(map[string]interface{}, len(result.Tables))
	after := make(map[string]interface{}, len(result.Tables))
	for table, stats := range result.Tables {
		before[table] = stats.Deleted
		after[table] = stats.Restored
	}

	entry := audit.NewEntry(actor, audit.ActionRestore, audit.ResourceDatabase).FromContext(ctx)
	entry.ResourceID, _ = ArtifactChecksum(data)
	entry.Before = before
	entry.After = after
	entry.Metadata = map[string]interface{}{
		"recordsRestored": result.RecordsRestored,
		"recordsDeleted":  result.RecordsDeleted,
		"snapshotVersion": result.SnapshotVersion,
		"warnings":        len(result.Warnings),
	}
	if warning := s.record(ctx, entry); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}

	return result, nil
}

func (s *Service) restoreBackup(ctx context.Context, data []byte) (*RestoreResult, error) {
	if s.sealer == nil {
		return failedRestore(NewMissingKeyError())
	}

	plain, err := s.sealer.Open(data)
	if err != nil {
		return failedRestore(err)
	}

	snapshot, err := s.codec.Decode(plain)
	if err != nil {
		return failedRestore(err)
	}

	return s.restorer.Restore(ctx, snapshot)
}

// InspectArtifact decrypts and decodes data and summarizes it without touching the database
func (s *Service) InspectArtifact(data []byte) (*ArtifactSummary, error) {
	start := time.Now()
	summary, err := s.inspect(data)
	s.metrics.ObserveOperation(OperationInspect, time.Since(start), err)
	return summary, err
}

func (s *Service) inspect(data []byte) (*ArtifactSummary, error) {
	if s.sealer == nil {
		return nil, NewMissingKeyError()
	}

	plain, err := s.sealer.Open(data)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.codec.Decode(plain)
	if err != nil {
		return nil, err
	}

	checksum, _ := ArtifactChecksum(data)
	summary := &ArtifactSummary{
		Checksum:       checksum,
		Size:           len(data),
		Compression:    DetectCompression(plain),
		PayloadSize:    len(plain),
		Version:        snapshot.Version,
		VersionMatches: snapshot.Version == SnapshotVersion,
		Timestamp:      snapshot.Timestamp,
		Tables:         snapshot.Counts(),
		Records:        snapshot.RowCount(),
	}
	for _, name := range snapshot.TableNames() {
		if _, ok := s.registry.Lookup(name); !ok {
			summary.Ungoverned = append(summary.Ungoverned, name)
		}
	}
	return summary, nil
}

// record writes an audit entry and turns a failure into a warning
func (s *Service) record(ctx context.Context, entry audit.Entry) string {
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.WithField("action", entry.Action).Warnf("Failed to record audit entry: %v", err)
		return fmt.Sprintf("audit entry was not recorded: %v", err)
	}
	return ""
}

func failedRestore(err error) (*RestoreResult, error) {
	return &RestoreResult{
		Tables:   map[string]*TableRestoreStats{},
		Warnings: []string{},
		Errors:   []string{err.Error()},
	}, err
}

func countsToMap(counts map[string]int) map[string]interface{} {
	out := make(map[string]interface{}, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
