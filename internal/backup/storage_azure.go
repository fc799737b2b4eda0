package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureArtifactStore keeps artifacts as block blobs in an Azure container
type AzureArtifactStore struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureArtifactStore creates an Azure Blob store from configuration
func NewAzureArtifactStore(config *AzureConfig) (*AzureArtifactStore, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}

	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewValidationError("invalid Azure storage configuration", err)
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureArtifactStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(cfg.ContainerName),
		containerName: cfg.ContainerName,
		prefix:        cfg.Prefix,
	}, nil
}

// Put uploads an artifact
func (a *AzureArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	metadata := azblob.Metadata{}
	if checksum, ok := ArtifactChecksum(data); ok {
		metadata["backupchecksum"] = checksum
	}

	blobURL := a.containerURL.NewBlockBlobURL(objectKey(a.prefix, name))
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		Metadata:    metadata,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload artifact %s to Azure", name), err)
	}
	return nil
}

// Get downloads an artifact
func (a *AzureArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateArtifactName(name); err != nil {
		return nil, err
	}

	blobURL := a.containerURL.NewBlockBlobURL(objectKey(a.prefix, name))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from Azure", name), err)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, NewStorageError("failed to read artifact data", err)
	}
	return data, nil
}

// List returns the artifacts under the prefix, newest first
func (a *AzureArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	var infos []ArtifactInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: a.prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list artifacts from Azure", err)
		}

		for _, blob := range resp.Segment.BlobItems {
			name, ok := artifactNameFromKey(a.prefix, blob.Name)
			if !ok {
				continue
			}
			info := ArtifactInfo{
				Name:       name,
				ModifiedAt: blob.Properties.LastModified.UTC(),
				Location:   fmt.Sprintf("azure://%s/%s", a.containerName, blob.Name),
			}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			infos = append(infos, info)
		}

		marker = resp.NextMarker
	}

	sortArtifacts(infos)
	return infos, nil
}

// Delete removes an artifact
func (a *AzureArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	blobURL := a.containerURL.NewBlockBlobURL(objectKey(a.prefix, name))
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		if isAzureNotFound(err) {
			return NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return NewStorageError(fmt.Sprintf("failed to delete artifact %s from Azure", name), err)
	}
	return nil
}

// HealthCheck verifies that the container is reachable
func (a *AzureArtifactStore) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewStorageError("Azure storage health check failed: container not accessible", err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var stgErr azblob.StorageError
	if !errors.As(err, &stgErr) {
		return false
	}
	return stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}
