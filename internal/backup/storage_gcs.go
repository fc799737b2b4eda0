package backup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSArtifactStore keeps artifacts as objects in a Google Cloud Storage bucket
type GCSArtifactStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSArtifactStore creates a GCS store from configuration
func NewGCSArtifactStore(ctx context.Context, config *GCSConfig) (*GCSArtifactStore, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}

	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewValidationError("invalid GCS storage configuration", err)
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSArtifactStore{
		client:     client,
		bucketName: cfg.Bucket,
		prefix:     cfg.Prefix,
	}, nil
}

// Put uploads an artifact
func (g *GCSArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	w := g.client.Bucket(g.bucketName).Object(objectKey(g.prefix, name)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if checksum, ok := ArtifactChecksum(data); ok {
		w.Metadata = map[string]string{"backup-checksum": checksum}
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return NewStorageError(fmt.Sprintf("failed to write artifact %s to GCS", name), err)
	}
	if err := w.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload artifact %s to GCS", name), err)
	}
	return nil
}

// Get downloads an artifact
func (g *GCSArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateArtifactName(name); err != nil {
		return nil, err
	}

	r, err := g.client.Bucket(g.bucketName).Object(objectKey(g.prefix, name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from GCS", name), err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewStorageError("failed to read artifact data", err)
	}
	return data, nil
}

// List returns the artifacts under the prefix, newest first
func (g *GCSArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	var infos []ArtifactInfo

	it := g.client.Bucket(g.bucketName).Objects(ctx, &storage.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list artifacts from GCS", err)
		}

		name, ok := artifactNameFromKey(g.prefix, attrs.Name)
		if !ok {
			continue
		}
		infos = append(infos, ArtifactInfo{
			Name:       name,
			Size:       attrs.Size,
			ModifiedAt: attrs.Updated.UTC(),
			Location:   fmt.Sprintf("gs://%s/%s", g.bucketName, attrs.Name),
		})
	}

	sortArtifacts(infos)
	return infos, nil
}

// Delete removes an artifact
func (g *GCSArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	if err := g.client.Bucket(g.bucketName).Object(objectKey(g.prefix, name)).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return NewStorageError(fmt.Sprintf("failed to delete artifact %s from GCS", name), err)
	}
	return nil
}

// HealthCheck verifies that the bucket is reachable
func (g *GCSArtifactStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucketName).Attrs(ctx); err != nil {
		return NewStorageError("GCS storage health check failed: bucket not accessible", err)
	}
	return nil
}

// Close releases the GCS client
func (g *GCSArtifactStore) Close() error {
	return g.client.Close()
}
