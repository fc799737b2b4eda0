package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalArtifactStore keeps artifacts as files in one directory
type LocalArtifactStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalArtifactStore creates the base directory if needed
func NewLocalArtifactStore(config *LocalConfig) (*LocalArtifactStore, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}

	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewValidationError("invalid local storage configuration", err)
	}

	store := &LocalArtifactStore{
		basePath:    cfg.BasePath,
		permissions: cfg.Permissions,
	}

	if err := os.MkdirAll(store.basePath, store.permissions); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create base directory %s", store.basePath), err)
	}

	return store, nil
}

// Put writes the artifact through a temporary file so readers never see a partial artifact
func (l *LocalArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(l.basePath, ".upload-*")
	if err != nil {
		return NewStorageError("failed to create temporary artifact file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return NewStorageError("failed to write artifact", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return NewStorageError("failed to flush artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError("failed to close artifact", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return NewStorageError("failed to set artifact permissions", err)
	}

	if err := os.Rename(tmpName, l.path(name)); err != nil {
		return NewStorageError("failed to move artifact into place", err)
	}
	return nil
}

// Get reads an artifact
func (l *LocalArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateArtifactName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to read artifact", err)
	}
	return data, nil
}

// List returns the artifacts in the base directory, newest first
func (l *LocalArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, NewStorageError("failed to list artifacts", err)
	}

	infos := make([]ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || ValidateArtifactName(entry.Name()) != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// removed while listing
			continue
		}
		infos = append(infos, ArtifactInfo{
			Name:       entry.Name(),
			Size:       fi.Size(),
			ModifiedAt: fi.ModTime().UTC(),
			Location:   l.path(entry.Name()),
		})
	}

	sortArtifacts(infos)
	return infos, nil
}

// Delete removes an artifact
func (l *LocalArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	err := os.Remove(l.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
	}
	if err != nil {
		return NewStorageError("failed to delete artifact", err)
	}
	return nil
}

// GetBasePath returns the directory artifacts are kept in
func (l *LocalArtifactStore) GetBasePath() string {
	return l.basePath
}

// HealthCheck verifies that the base directory is writable
func (l *LocalArtifactStore) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("health_check"), 0600); err != nil {
		return NewStorageError("storage health check failed: cannot write to base directory", err)
	}
	if _, err := os.ReadFile(testFile); err != nil {
		return NewStorageError("storage health check failed: cannot read from base directory", err)
	}
	_ = os.Remove(testFile)
	return nil
}

func (l *LocalArtifactStore) path(name string) string {
	return filepath.Join(l.basePath, name)
}
