package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/mdbmanager/mdbsync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".mdbsync", "config.json")
	DefaultServerURL  = "http://127.0.0.1:8080"
	DefaultLibraryDir = filepath.Join(home, "Music")
)

var (
	ErrNoServerURL = errors.New("config: server url missing")
	ErrNoLibrary   = errors.New("config: library dir missing")
	ErrNotLoggedIn = errors.New("config: not logged in, run `mdbsync login` first")
)

type Config struct {
	ServerURL    string `json:"server_url"`
	LibraryDir   string `json:"library_dir"`
	Device       string `json:"device,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Path         string `json:"-"`
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	if c.LibraryDir == "" {
		return ErrNoLibrary
	}
	return nil
}

// RequireLogin fails when no refresh token has been stored yet
func (c *Config) RequireLogin() error {
	if c.RefreshToken == "" {
		return ErrNotLoggedIn
	}
	return nil
}

// Save writes the config as JSON. The file holds a refresh token so it is
// readable by the owner only.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}
