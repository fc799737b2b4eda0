package backup

import (
	"context"
	"errors"
	"fmt"
)

// NewArtifactStore creates the artifact store selected by config
func NewArtifactStore(ctx context.Context, config StorageConfig) (ArtifactStore, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	primary, err := newProviderStore(ctx, config)
	if err != nil || len(config.Mirrors) == 0 {
		return primary, err
	}

	stores := []ArtifactStore{primary}
	for _, mirror := range config.Mirrors {
		store, err := newProviderStore(ctx, mirror)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s mirror: %w", mirror.Provider, err)
		}
		stores = append(stores, store)
	}
	return NewMultiArtifactStore(stores...)
}

func newProviderStore(ctx context.Context, config StorageConfig) (ArtifactStore, error) {
	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalArtifactStore(config.Local)
	case StorageProviderS3:
		return NewS3ArtifactStore(config.S3)
	case StorageProviderAzure:
		return NewAzureArtifactStore(config.Azure)
	case StorageProviderGCS:
		return NewGCSArtifactStore(ctx, config.GCS)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// SupportedProviders returns the storage provider types NewArtifactStore accepts
func SupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}

// MultiArtifactStore writes artifacts to several stores for redundancy.
// The first store is primary and serves listings.
type MultiArtifactStore struct {
	stores []ArtifactStore
}

// NewMultiArtifactStore wraps stores; at least one is required
func NewMultiArtifactStore(stores ...ArtifactStore) (*MultiArtifactStore, error) {
	if len(stores) == 0 {
		return nil, NewValidationError("at least one artifact store is required", nil)
	}
	return &MultiArtifactStore{stores: stores}, nil
}

// Put writes to every store and succeeds when at least one write succeeded
func (m *MultiArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Put(ctx, name, data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.stores) {
		return NewStorageError(fmt.Sprintf("failed to store artifact %s in any store", name), errors.Join(errs...))
	}
	return nil
}

// Get reads from the first store that has the artifact
func (m *MultiArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	var lastErr error
	for _, s := range m.stores {
		data, err := s.Get(ctx, name)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if IsType(lastErr, BackupErrorTypeNotFound) {
		return nil, lastErr
	}
	return nil, NewStorageError(fmt.Sprintf("failed to retrieve artifact %s from any store", name), lastErr)
}

// List returns the listing of the primary store
func (m *MultiArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	return m.stores[0].List(ctx)
}

// Delete removes the artifact from every store and succeeds when at least one delete succeeded
func (m *MultiArtifactStore) Delete(ctx context.Context, name string) error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Delete(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.stores) {
		if IsType(errs[0], BackupErrorTypeNotFound) {
			return errs[0]
		}
		return NewStorageError(fmt.Sprintf("failed to delete artifact %s from any store", name), errors.Join(errs...))
	}
	return nil
}

// HealthCheck checks every store that supports it
func (m *MultiArtifactStore) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, s := range m.stores {
		if hc, ok := s.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
