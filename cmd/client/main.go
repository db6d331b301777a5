package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/mdbmanager/mdbsync/internal/client/config"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/mdbmanager/mdbsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "MDBSYNC"

var logLevel = new(slog.LevelVar)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mdbsync",
		Short:   "Pull a music library from an mdbsync server",
		Version: version.Detailed(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logLevel.Set(slog.LevelDebug)
			}
		},
	}

	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "mdbsync config file")
	cmd.PersistentFlags().StringP("server", "s", "", "mdbsync server url")
	cmd.PersistentFlags().StringP("dir", "d", "", "Local music library")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logs")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newFileCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

func main() {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the config file, MDBSYNC_* env vars and flags.
// A missing config file is not an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	v.SetDefault("server_url", config.DefaultServerURL)
	v.SetDefault("library_dir", config.DefaultLibraryDir)
	v.SetDefault("device", "")
	v.SetDefault("refresh_token", "")

	configPath, err := utils.ResolvePath(cmd.Flag("config").Value.String())
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", configPath, err)
		}
	}

	if f := cmd.Flag("server"); f != nil {
		v.BindPFlag("server_url", f)
	}
	if f := cmd.Flag("dir"); f != nil {
		v.BindPFlag("library_dir", f)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		ServerURL:    strings.TrimRight(v.GetString("server_url"), "/"),
		LibraryDir:   v.GetString("library_dir"),
		Device:       v.GetString("device"),
		RefreshToken: v.GetString("refresh_token"),
		Path:         configPath,
	}
	if cfg.LibraryDir != "" {
		if cfg.LibraryDir, err = utils.ResolvePath(cfg.LibraryDir); err != nil {
			return nil, fmt.Errorf("library dir: %w", err)
		}
	}

	return cfg, cfg.Validate()
}
