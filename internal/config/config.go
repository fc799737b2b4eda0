// Package config loads the crm-backup configuration from a YAML file,
// CRM_BACKUP_* environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crm-backup/internal/backup"
	"crm-backup/internal/database"
	"crm-backup/internal/logging"
)

const (
	// EnvPrefix is the prefix of every configuration environment variable
	EnvPrefix = "CRM_BACKUP"
	// DefaultEncryptionKeyEnv names the variable holding the artifact secret
	DefaultEncryptionKeyEnv = "BACKUP_ENCRYPTION_KEY"
	// DefaultMaxRestoreBytes bounds the body of a restore upload
	DefaultMaxRestoreBytes int64 = 512 << 20
	// DefaultListenAddr is the address of the HTTP server
	DefaultListenAddr = ":8080"
	// AdminRole is the role required by the backup endpoints
	AdminRole = "admin"
)

// Config is the complete application configuration
type Config struct {
	Database database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   BackupConfig            `mapstructure:"backup" yaml:"backup"`
	Storage  backup.StorageConfig    `mapstructure:"storage" yaml:"storage"`
	API      APIConfig               `mapstructure:"api" yaml:"api"`
	Logging  LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Audit    AuditConfig             `mapstructure:"audit" yaml:"audit"`
}

// BackupConfig tunes the backup pipeline.
// The secret itself is never part of the file; EncryptionKeyEnv names the variable holding it.
type BackupConfig struct {
	EncryptionKeyEnv string `mapstructure:"encryption_key_env" yaml:"encryption_key_env"`
	Compression      string `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
	ReadConcurrency  int    `mapstructure:"read_concurrency" yaml:"read_concurrency"`
	ReadPageSize     int    `mapstructure:"read_page_size" yaml:"read_page_size"`
	BatchSize        int    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxParams        int    `mapstructure:"max_params" yaml:"max_params"`
	StrictVersion    bool   `mapstructure:"strict_version" yaml:"strict_version"`

	Retention backup.RetentionPolicy `mapstructure:"retention" yaml:"retention"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxRestoreBytes int64         `mapstructure:"max_restore_bytes" yaml:"max_restore_bytes"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Tokens          []TokenConfig `mapstructure:"tokens" yaml:"tokens"`
}

// TokenConfig maps a static bearer token to an actor and its roles
type TokenConfig struct {
	Token  string   `mapstructure:"token" yaml:"token"`
	Actor  string   `mapstructure:"actor" yaml:"actor"`
	UserID string   `mapstructure:"user_id" yaml:"user_id,omitempty"`
	Roles  []string `mapstructure:"roles" yaml:"roles"`
}

// LoggingConfig configures the application logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// AuditConfig selects where audit entries are written
type AuditConfig struct {
	File string `mapstructure:"file" yaml:"file,omitempty"`
	SQL  bool   `mapstructure:"sql" yaml:"sql"`
}

// NewViper returns a viper instance reading configFile, or crm-backup.yaml from the
// working directory and $HOME/.config/crm-backup, plus CRM_BACKUP_* variables.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("crm-backup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/crm-backup")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetViperDefaults(v)
	return v
}

// SetViperDefaults registers every scalar key so environment variables can override it
func SetViperDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", database.DefaultPort)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.timeout", database.DefaultTimeout)
	v.SetDefault("database.max_open_conns", database.DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", database.DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", database.DefaultConnMaxLifetime)
	v.SetDefault("database.tls", "")

	v.SetDefault("backup.encryption_key_env", DefaultEncryptionKeyEnv)
	v.SetDefault("backup.compression", string(backup.DefaultCompression))
	v.SetDefault("backup.compression_level", 0)
	v.SetDefault("backup.read_concurrency", backup.DefaultReadConcurrency)
	v.SetDefault("backup.read_page_size", backup.DefaultReadPageSize)
	v.SetDefault("backup.batch_size", backup.DefaultBatchSize)
	v.SetDefault("backup.max_params", backup.DefaultMaxParams)
	v.SetDefault("backup.strict_version", false)
	v.SetDefault("backup.retention.keep_last", 0)
	v.SetDefault("backup.retention.max_age", time.Duration(0))
	v.SetDefault("backup.retention.keep_daily", 0)

	v.SetDefault("storage.provider", string(backup.StorageProviderLocal))
	v.SetDefault("storage.local.base_path", "./backups")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.azure.account_name", "")
	v.SetDefault("storage.azure.account_key", "")
	v.SetDefault("storage.azure.container_name", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.credentials_path", "")

	v.SetDefault("api.listen_addr", DefaultListenAddr)
	v.SetDefault("api.max_restore_bytes", DefaultMaxRestoreBytes)
	v.SetDefault("api.read_timeout", 5*time.Minute)
	v.SetDefault("api.write_timeout", 10*time.Minute)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", string(logging.LogLevelNormal))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("audit.file", "")
	v.SetDefault("audit.sql", true)
}

// Load reads the configuration file when present, applies defaults and validates the result.
// A missing file is not an error when no explicit file was requested.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Storage.SetDefaults()

	if c.Backup.EncryptionKeyEnv == "" {
		c.Backup.EncryptionKeyEnv = DefaultEncryptionKeyEnv
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = string(backup.DefaultCompression)
	}
	if c.Backup.ReadConcurrency <= 0 {
		c.Backup.ReadConcurrency = backup.DefaultReadConcurrency
	}
	if c.Backup.ReadPageSize <= 0 {
		c.Backup.ReadPageSize = backup.DefaultReadPageSize
	}
	if c.Backup.BatchSize <= 0 {
		c.Backup.BatchSize = backup.DefaultBatchSize
	}
	if c.Backup.MaxParams <= 0 {
		c.Backup.MaxParams = backup.DefaultMaxParams
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = DefaultListenAddr
	}
	if c.API.MaxRestoreBytes <= 0 {
		c.API.MaxRestoreBytes = DefaultMaxRestoreBytes
	}
	if c.API.ShutdownTimeout <= 0 {
		c.API.ShutdownTimeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the parts of the configuration that do not depend on the command being run.
// Database settings are validated when a connection is opened.
func (c *Config) Validate() error {
	var errs []error

	if _, err := backup.ParseCompressionType(c.Backup.Compression); err != nil {
		errs = append(errs, fmt.Errorf("backup.compression: %w", err))
	}
	if c.Backup.MaxParams < 1 {
		errs = append(errs, errors.New("backup.max_params must be positive"))
	}
	if err := c.Backup.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup.retention: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.API.Tokens))
	for i, t := range c.API.Tokens {
		switch {
		case t.Token == "":
			errs = append(errs, fmt.Errorf("api.tokens[%d]: token is required", i))
		case t.Actor == "":
			errs = append(errs, fmt.Errorf("api.tokens[%d]: actor is required", i))
		case seen[t.Token]:
			errs = append(errs, fmt.Errorf("api.tokens[%d]: duplicate token", i))
		}
		seen[t.Token] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// EncryptionSecret returns the artifact secret from the environment, or "" when unset
func (c *Config) EncryptionSecret() string {
	return os.Getenv(c.Backup.EncryptionKeyEnv)
}

// LoggerConfig converts the logging section for logging.NewLogger
func (c *Config) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		Format:  c.Logging.Format,
		LogFile: c.Logging.File,
	}, nil
}
