package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/mdbmanager/mdbsync/internal/server"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/mdbmanager/mdbsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix          = "MDBSYNC"
	configFileName     = "config"
	legacyPathFileName = "musicpath.yaml"
	logFileName        = "server.log"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, ".mdbsync", "server")
	logLevel       = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:     "mdbsync-server",
	Short:   "mdbsync server",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		closeLog, err := setupFileLogging(cfg.LogDir)
		if err != nil {
			return err
		}
		defer closeLog()

		cmd.SilenceUsage = true

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return srv.Start(cmd.Context())
	},
}

func init() {
	addRootFlags(rootCmd)
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newTOTPCmd())
}

func addRootFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.PersistentFlags().StringP("config", "c", "", "Path to the config file (yaml or json)")
	cmd.PersistentFlags().String("content-root", "", "Music library to serve")
	cmd.PersistentFlags().String("data-dir", defaultDataDir, "Directory for the database and logs")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logs")
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	cmd.Flags().String("cert", "", "Path to the TLS certificate file")
	cmd.Flags().String("key", "", "Path to the TLS key file")
}

func main() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(stdoutHandler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupFileLogging adds a text log file under logDir next to stdout
func setupFileLogging(logDir string) (func(), error) {
	if logDir == "" {
		return func() {}, nil
	}
	if err := utils.EnsureDir(logDir); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: logLevel,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(slog.Default().Handler(), fileHandler)))

	return func() {
		logInterceptor.Close()
		file.Close()
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", server.DefaultAddr)
	v.SetDefault("http.cert_file", "")
	v.SetDefault("http.key_file", "")

	v.SetDefault("auth.token_issuer", "mdbsync")
	v.SetDefault("auth.access_token_secret", "")
	v.SetDefault("auth.access_token_expiry", "1h")
	v.SetDefault("auth.refresh_token_secret", "")
	v.SetDefault("auth.refresh_token_expiry", "720h")
	v.SetDefault("auth.totp_secret", "")
	v.SetDefault("auth.totp_issuer", "MDBManager")
	v.SetDefault("auth.totp_account", "singleUser")
	v.SetDefault("auth.provisioning_enabled", false)
	v.SetDefault("auth.otp_rate_limit", "10-M")

	v.SetDefault("sync.ticket_ttl", "5m")
	v.SetDefault("sync.sweep_interval", "1m")
	v.SetDefault("sync.ticket_shards", 64)

	v.SetDefault("catalog.content_root", "")
	v.SetDefault("catalog.backend", catalog.BackendSqlite)
	v.SetDefault("catalog.badger_dir", "")
	v.SetDefault("catalog.include", catalog.DefaultInclude)
	v.SetDefault("catalog.ignore_file", catalog.DefaultIgnoreFile)
	v.SetDefault("catalog.refresh_interval", catalog.DefaultRefreshInterval.String())
	v.SetDefault("catalog.refresh_delay", catalog.DefaultRefreshDelay.String())
	v.SetDefault("catalog.refresh_on_start", false)
	v.SetDefault("catalog.watch", false)
	v.SetDefault("catalog.hash_workers", 0)
	v.SetDefault("catalog.legacy_path_file", legacyPathFileName)

	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("log_dir", "")
}

// loadConfig merges defaults, the config file, MDBSYNC_* env vars and flags
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	v := viper.New()
	setDefaults(v)

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(home, ".mdbsync"))
		v.AddConfigPath("/etc/mdbsync")
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	bindFlag(v, cmd, "http.addr", "bind")
	bindFlag(v, cmd, "http.cert_file", "cert")
	bindFlag(v, cmd, "http.key_file", "key")
	bindFlag(v, cmd, "catalog.content_root", "content-root")
	bindFlag(v, cmd, "data_dir", "data-dir")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg server.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}

	if f := cmd.Flag("debug"); f != nil && f.Value.String() == "true" {
		logLevel.Set(slog.LevelDebug)
	}

	if cfg.Catalog.ContentRoot == "" {
		legacyFile := v.GetString("catalog.legacy_path_file")
		if root, err := catalog.ReadLegacyContentRoot(legacyFile); err == nil {
			slog.Info("content root from legacy file", "file", legacyFile, "root", root)
			cfg.Catalog.ContentRoot = root
		}
	}

	if err := resolvePaths(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flag(flag); f != nil {
		v.BindPFlag(key, f)
	}
}

func resolvePaths(cfg *server.Config) error {
	var err error

	if cfg.DataDir != "" {
		if cfg.DataDir, err = utils.ResolvePath(cfg.DataDir); err != nil {
			return fmt.Errorf("data_dir: %w", err)
		}
	}
	if cfg.LogDir == "" && cfg.DataDir != "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}
	if cfg.Catalog.ContentRoot != "" {
		if cfg.Catalog.ContentRoot, err = utils.ResolvePath(cfg.Catalog.ContentRoot); err != nil {
			return fmt.Errorf("catalog.content_root: %w", err)
		}
	}
	return nil
}
