// Package backup creates and restores encrypted snapshots of the CRM database.
//
// A backup reads every governed table into a Snapshot, encodes it as compressed
// JSON and seals it into an artifact:
//
//	hex(sha256(frame)) "\n" frame
//	frame = iv(16) | tag(16) | AES-256-GCM ciphertext
//
// The key is derived from an operator secret with PBKDF2-SHA256. The checksum can
// be verified without the key; decryption fails on any tampering.
//
// A restore verifies, decrypts and decodes the artifact before touching the
// database, then replaces every governed table inside one transaction: tables are
// emptied in DeletionOrder and refilled in InsertionOrder in batches bounded by the
// statement placeholder limit. Any failure rolls the whole restore back.
//
// Core components:
//
//   - SnapshotReader: reads governed tables through a TableSource
//   - Codec: snapshot JSON plus zstd, gzip or lz4 compression
//   - Sealer: checksum and authenticated encryption of artifacts
//   - Restorer: the transactional restore over a Store
//   - Service: the operations exposed to the CLI and HTTP API
//   - ArtifactStore: local, S3, Azure Blob and GCS artifact storage
//   - RetentionManager: pruning of stored artifacts
//
// Example usage:
//
//	svc, err := backup.NewService(backup.ServiceConfig{
//		Secret:   os.Getenv("BACKUP_ENCRYPTION_KEY"),
//		Registry: schema.MustCRM(),
//		Source:   store,
//		Store:    store,
//	})
//	if err != nil {
//		return err
//	}
//
//	artifact, err := svc.CreateBackup(ctx, "ops@example.com")
//	if err != nil {
//		return fmt.Errorf("backup failed: %w", err)
//	}
//
//	result, err := svc.RestoreBackup(ctx, "ops@example.com", artifact.Data)
//	if err != nil {
//		return fmt.Errorf("restore failed: %v", result.Errors)
//	}
package backup
