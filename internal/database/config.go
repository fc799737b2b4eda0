package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	DefaultPort            = 3306
	DefaultTimeout         = 30 * time.Second
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

// DatabaseConfig holds the connection parameters of the CRM database
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Database        string        `mapstructure:"database" yaml:"database"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	TLS             string        `mapstructure:"tls" yaml:"tls,omitempty"`
}

// SetDefaults fills unset optional fields
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = DefaultPort
	}
	if dc.Timeout <= 0 {
		dc.Timeout = DefaultTimeout
	}
	if dc.MaxOpenConns <= 0 {
		dc.MaxOpenConns = DefaultMaxOpenConns
	}
	if dc.MaxIdleConns <= 0 {
		dc.MaxIdleConns = DefaultMaxIdleConns
	}
	if dc.ConnMaxLifetime <= 0 {
		dc.ConnMaxLifetime = DefaultConnMaxLifetime
	}
}

// Validate checks that the configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if dc.MaxIdleConns > dc.MaxOpenConns && dc.MaxOpenConns > 0 {
		errs = append(errs, errors.New("max_idle_conns cannot exceed max_open_conns"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// MySQLConfig converts the configuration into a driver config.
// Times are parsed in UTC so snapshots carry zone-independent timestamps.
func (dc *DatabaseConfig) MySQLConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if dc.TLS != "" {
		cfg.TLSConfig = dc.TLS
	}
	return cfg
}

// DSN returns the Data Source Name for the MySQL driver
func (dc *DatabaseConfig) DSN() string {
	return dc.MySQLConfig().FormatDSN()
}

// String describes the target without credentials
func (dc *DatabaseConfig) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", dc.Username, dc.Host, dc.Port, dc.Database)
}
