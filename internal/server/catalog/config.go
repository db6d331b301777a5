package catalog

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mdbmanager/mdbsync/internal/utils"
)

const (
	DefaultRefreshInterval = 24 * time.Hour
	DefaultRefreshDelay    = time.Minute
	DefaultIgnoreFile      = ".mdbignore"
)

var DefaultInclude = []string{"**/*.mp3", "**/*.flac", "**/*.ogg"}

type Config struct {
	ContentRoot     string        `mapstructure:"content_root"`
	Backend         string        `mapstructure:"backend"`
	BadgerDir       string        `mapstructure:"badger_dir"`
	Include         []string      `mapstructure:"include"`
	IgnoreFile      string        `mapstructure:"ignore_file"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshDelay    time.Duration `mapstructure:"refresh_delay"`
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
	Watch           bool          `mapstructure:"watch"`
	HashWorkers     int           `mapstructure:"hash_workers"`
}

func (c *Config) Validate() error {
	if c.ContentRoot == "" {
		return fmt.Errorf("catalog `content_root` is required")
	}
	if !utils.DirExists(c.ContentRoot) {
		return fmt.Errorf("catalog `content_root` %q is not a directory", c.ContentRoot)
	}
	switch c.Backend {
	case "", BackendSqlite, BackendBadger:
	default:
		return fmt.Errorf("%w: catalog `backend` must be %q or %q", ErrInvalidBackend, BackendSqlite, BackendBadger)
	}
	for _, pattern := range c.Include {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("catalog `include` has an invalid pattern %q", pattern)
		}
	}
	if c.RefreshInterval < 0 || c.RefreshDelay < 0 {
		return fmt.Errorf("catalog refresh durations must not be negative")
	}
	return nil
}
