package server

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/server/ticket"
)

const DefaultAddr = "127.0.0.1:8080"

type Config struct {
	HTTP    HTTPConfig     `mapstructure:"http"`
	Auth    auth.Config    `mapstructure:"auth"`
	Sync    ticket.Config  `mapstructure:"sync"`
	Catalog catalog.Config `mapstructure:"catalog"`
	DataDir string         `mapstructure:"data_dir"`
	LogDir  string         `mapstructure:"log_dir"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *HTTPConfig) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *HTTPConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("http `addr` is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("http `cert_file` and `key_file` must be set together")
	}
	return nil
}

// DBPath is the sqlite database holding the catalog and settings
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mdbsync.db")
}

// AccessLogDir holds the per-device sync history
func (c *Config) AccessLogDir() string {
	if c.LogDir != "" {
		return filepath.Join(c.LogDir, "access")
	}
	return filepath.Join(c.DataDir, "logs", "access")
}

// LockPath guards DataDir against a second server instance
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "mdbsync.lock")
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("`data_dir` is required")
	}
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if c.Sync.TTL < 0 || c.Sync.SweepInterval < 0 {
		return errors.New("sync durations must not be negative")
	}
	return nil
}
