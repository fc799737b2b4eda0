package database

import (
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func validConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		Username: "crm",
		Password: "p@ss:word",
		Database: "crm",
	}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*DatabaseConfig)
		wantErr bool
	}{
		{name: "valid config", modify: func(*DatabaseConfig) {}},
		{name: "missing host", modify: func(c *DatabaseConfig) { c.Host = "" }, wantErr: true},
		{name: "port out of range", modify: func(c *DatabaseConfig) { c.Port = 70000 }, wantErr: true},
		{name: "missing username", modify: func(c *DatabaseConfig) { c.Username = "" }, wantErr: true},
		{name: "missing database", modify: func(c *DatabaseConfig) { c.Database = "" }, wantErr: true},
		{name: "empty password allowed", modify: func(c *DatabaseConfig) { c.Password = "" }},
		{
			name: "idle above open",
			modify: func(c *DatabaseConfig) {
				c.MaxOpenConns = 2
				c.MaxIdleConns = 4
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.modify(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	config := DatabaseConfig{Host: "db"}
	config.SetDefaults()

	if config.Port != DefaultPort {
		t.Errorf("Expected port %d, got %d", DefaultPort, config.Port)
	}
	if config.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, config.Timeout)
	}
	if config.MaxOpenConns != DefaultMaxOpenConns || config.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("Unexpected pool sizes %d/%d", config.MaxOpenConns, config.MaxIdleConns)
	}
	if config.ConnMaxLifetime != DefaultConnMaxLifetime {
		t.Errorf("Expected lifetime %v, got %v", DefaultConnMaxLifetime, config.ConnMaxLifetime)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	config := validConfig()
	config.Timeout = 10 * time.Second

	parsed, err := mysql.ParseDSN(config.DSN())
	if err != nil {
		t.Fatalf("DSN does not parse: %v", err)
	}

	if parsed.User != "crm" || parsed.Passwd != "p@ss:word" {
		t.Errorf("Unexpected credentials %q/%q", parsed.User, parsed.Passwd)
	}
	if parsed.Addr != "localhost:3306" || parsed.DBName != "crm" {
		t.Errorf("Unexpected target %s/%s", parsed.Addr, parsed.DBName)
	}
	if !parsed.ParseTime {
		t.Error("Expected parseTime to be enabled")
	}
	if parsed.Loc != time.UTC {
		t.Errorf("Expected UTC location, got %v", parsed.Loc)
	}
	if parsed.Timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", parsed.Timeout)
	}
}

func TestDatabaseConfig_String(t *testing.T) {
	config := validConfig()
	if got := config.String(); got != "crm@localhost:3306/crm" {
		t.Errorf("Unexpected description %q", got)
	}
}
