package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3ArtifactStore keeps artifacts as objects in an S3 bucket
type S3ArtifactStore struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3ArtifactStore creates an S3 store from configuration
func NewS3ArtifactStore(config *S3Config) (*S3ArtifactStore, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}

	cfg := *config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, NewValidationError("invalid S3 storage configuration", err)
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return NewS3ArtifactStoreWithClient(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArtifactStoreWithClient creates an S3 store on an existing client
func NewS3ArtifactStoreWithClient(client s3iface.S3API, bucket, prefix string) *S3ArtifactStore {
	return &S3ArtifactStore{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads an artifact
func (s *S3ArtifactStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	metadata := map[string]*string{}
	if checksum, ok := ArtifactChecksum(data); ok {
		metadata["backup-checksum"] = aws.String(checksum)
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(s.prefix, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    metadata,
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload artifact %s to S3", name), err)
	}
	return nil
}

// Get downloads an artifact
func (s *S3ArtifactStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateArtifactName(name); err != nil {
		return nil, err
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(s.prefix, name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to download artifact %s from S3", name), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, NewStorageError("failed to read artifact data", err)
	}
	return data, nil
}

// List returns the artifacts under the prefix, newest first
func (s *S3ArtifactStore) List(ctx context.Context) ([]ArtifactInfo, error) {
	var infos []ArtifactInfo

	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name, ok := artifactNameFromKey(s.prefix, aws.StringValue(obj.Key))
			if !ok {
				continue
			}
			infos = append(infos, ArtifactInfo{
				Name:       name,
				Size:       aws.Int64Value(obj.Size),
				ModifiedAt: aws.TimeValue(obj.LastModified).UTC(),
				Location:   fmt.Sprintf("s3://%s/%s", s.bucket, aws.StringValue(obj.Key)),
			})
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts from S3", err)
	}

	sortArtifacts(infos)
	return infos, nil
}

// Delete removes an artifact
func (s *S3ArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ValidateArtifactName(name); err != nil {
		return err
	}

	key := objectKey(s.prefix, name)
	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isS3NotFound(err) {
			return NewNotFoundError(fmt.Sprintf("artifact %s not found", name), err)
		}
		return NewStorageError(fmt.Sprintf("failed to look up artifact %s", name), err)
	}

	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete artifact %s from S3", name), err)
	}
	return nil
}

// HealthCheck verifies that the bucket is reachable
func (s *S3ArtifactStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return NewStorageError("S3 storage health check failed: bucket not accessible", err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
