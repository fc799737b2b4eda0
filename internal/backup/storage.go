package backup

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"
)

// ArtifactStore keeps sealed backup artifacts by file name
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]ArtifactInfo, error)
	Delete(ctx context.Context, name string) error
}

// HealthChecker is implemented by stores that can check their backend is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ArtifactInfo describes a stored artifact
type ArtifactInfo struct {
	Name       string    `json:"name" yaml:"name"`
	Size       int64     `json:"size" yaml:"size"`
	ModifiedAt time.Time `json:"modifiedAt" yaml:"modified_at"`
	Location   string    `json:"location" yaml:"location"`
}

// StorageProviderType represents different storage provider types
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "local"
	StorageProviderS3    StorageProviderType = "s3"
	StorageProviderAzure StorageProviderType = "azure"
	StorageProviderGCS   StorageProviderType = "gcs"
)

// DefaultObjectPrefix is the key prefix of artifacts in object stores
const DefaultObjectPrefix = "backups/"

// StorageConfig defines where artifacts are kept
type StorageConfig struct {
	Provider StorageProviderType `mapstructure:"provider" yaml:"provider"`
	Local    *LocalConfig        `mapstructure:"local" yaml:"local,omitempty"`
	S3       *S3Config           `mapstructure:"s3" yaml:"s3,omitempty"`
	Azure    *AzureConfig        `mapstructure:"azure" yaml:"azure,omitempty"`
	GCS      *GCSConfig          `mapstructure:"gcs" yaml:"gcs,omitempty"`

	// Mirrors receive a copy of every stored artifact
	Mirrors []StorageConfig `mapstructure:"mirrors" yaml:"mirrors,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `mapstructure:"base_path" yaml:"base_path"`
	Permissions os.FileMode `mapstructure:"permissions" yaml:"permissions"`
}

// S3Config for Amazon S3 or S3 compatible storage.
// Without static keys the default AWS credential chain is used.
type S3Config struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region"`
	Prefix         string `mapstructure:"prefix" yaml:"prefix"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
}

// GCSConfig for Google Cloud Storage.
// Without a credentials file the application default credentials are used.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
}

func isValidStorageProviderType(p StorageProviderType) bool {
	return slices.Contains(SupportedProviders(), p)
}

// SetDefaults sets default values for storage configuration
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}
	sc.Provider = StorageProviderType(strings.ToLower(string(sc.Provider)))

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.SetDefaults()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.SetDefaults()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		sc.Azure.SetDefaults()
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.SetDefaults()
	}

	for i := range sc.Mirrors {
		sc.Mirrors[i].SetDefaults()
	}
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errs.Add("provider", "invalid storage provider type", sc.Provider)
		return errs
	}

	var sub interface{ Validate() error }
	var field string
	switch sc.Provider {
	case StorageProviderLocal:
		field = "local"
		if sc.Local != nil {
			sub = sc.Local
		}
	case StorageProviderS3:
		field = "s3"
		if sc.S3 != nil {
			sub = sc.S3
		}
	case StorageProviderAzure:
		field = "azure"
		if sc.Azure != nil {
			sub = sc.Azure
		}
	case StorageProviderGCS:
		field = "gcs"
		if sc.GCS != nil {
			sub = sc.GCS
		}
	}

	if sub == nil {
		errs.Add(field, fmt.Sprintf("%s storage configuration is required", field), nil)
		return errs
	}
	if err := sub.Validate(); err != nil {
		if validationErrs, ok := err.(ValidationErrors); ok {
			return validationErrs
		}
		errs.Add(field, err.Error(), nil)
		return errs
	}

	for i := range sc.Mirrors {
		if len(sc.Mirrors[i].Mirrors) > 0 {
			errs.Add(fmt.Sprintf("mirrors[%d]", i), "mirrors cannot have mirrors", nil)
			continue
		}
		if err := sc.Mirrors[i].Validate(); err != nil {
			errs.Add(fmt.Sprintf("mirrors[%d]", i), err.Error(), nil)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0750
	}
}

// Validate validates the LocalConfig struct
func (lc *LocalConfig) Validate() error {
	var errs ValidationErrors
	if lc.BasePath == "" {
		errs.Add("base_path", "base path is required for local storage", lc.BasePath)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
	if s3c.Prefix == "" {
		s3c.Prefix = DefaultObjectPrefix
	}
}

// Validate validates the S3Config struct
func (s3c *S3Config) Validate() error {
	var errs ValidationErrors
	if s3c.Bucket == "" {
		errs.Add("bucket", "S3 bucket name is required", s3c.Bucket)
	}
	if s3c.Region == "" {
		errs.Add("region", "S3 region is required", s3c.Region)
	}
	if (s3c.AccessKey == "") != (s3c.SecretKey == "") {
		errs.Add("secret_key", "S3 access key and secret key must be set together", nil)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for Azure storage configuration
func (ac *AzureConfig) SetDefaults() {
	if ac.Prefix == "" {
		ac.Prefix = DefaultObjectPrefix
	}
}

// Validate validates the AzureConfig struct
func (ac *AzureConfig) Validate() error {
	var errs ValidationErrors
	if ac.AccountName == "" {
		errs.Add("account_name", "Azure account name is required", ac.AccountName)
	}
	if ac.AccountKey == "" {
		errs.Add("account_key", "Azure account key is required", nil)
	}
	if ac.ContainerName == "" {
		errs.Add("container_name", "Azure container name is required", ac.ContainerName)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if gc.Prefix == "" {
		gc.Prefix = DefaultObjectPrefix
	}
}

// Validate validates the GCSConfig struct
func (gc *GCSConfig) Validate() error {
	var errs ValidationErrors
	if gc.Bucket == "" {
		errs.Add("bucket", "GCS bucket name is required", gc.Bucket)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ValidateArtifactName rejects names that are not plain artifact file names
func ValidateArtifactName(name string) error {
	if !IsArtifactName(name) {
		return NewValidationError(fmt.Sprintf("artifact name %q must end in %s", name, ArtifactExtension), nil)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return NewValidationError(fmt.Sprintf("artifact name %q must not contain path elements", name), nil)
	}
	return nil
}

// objectKey joins an object store prefix and an artifact name
func objectKey(prefix, name string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

// artifactNameFromKey returns the artifact name of an object key directly under prefix
func artifactNameFromKey(prefix, key string) (string, bool) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(key, prefix)
	if ValidateArtifactName(name) != nil {
		return "", false
	}
	return name, true
}

// sortArtifacts orders artifacts newest first
func sortArtifacts(infos []ArtifactInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
		}
		return infos[i].Name > infos[j].Name
	})
}
