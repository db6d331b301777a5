package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/gofrs/flock"
	"github.com/mdbmanager/mdbsync/internal/db"
	"github.com/mdbmanager/mdbsync/internal/server"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

// offlineEnv holds what the one-shot commands need while the server is down
type offlineEnv struct {
	cfg     *server.Config
	catalog *catalog.Service
	close   func()
}

// openOffline locks the data dir and opens the catalog without starting
// the refresher. It fails while a server is running on the same data dir.
func openOffline(cmd *cobra.Command) (*offlineEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		return nil, errors.New("`data_dir` is required")
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := utils.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	} else if !locked {
		return nil, fmt.Errorf("%w: stop it or use the HTTP api", server.ErrAlreadyRunning)
	}

	sqlDB, err := db.NewSqliteDB(db.WithPath(cfg.DBPath()))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	store, err := catalog.OpenStore(&cfg.Catalog, sqlDB, cfg.DataDir)
	if err != nil {
		sqlDB.Close()
		lock.Unlock()
		return nil, err
	}

	svc, err := catalog.NewService(&cfg.Catalog, store, afero.NewOsFs())
	if err != nil {
		store.Close()
		sqlDB.Close()
		lock.Unlock()
		return nil, err
	}

	return &offlineEnv{
		cfg:     cfg,
		catalog: svc,
		close: func() {
			store.Close()
			sqlDB.Close()
			lock.Unlock()
		},
	}, nil
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the server catalog",
	}
	cmd.AddCommand(newCatalogRefreshCmd())
	cmd.AddCommand(newCatalogImportCmd())
	cmd.AddCommand(newCatalogExportCmd())
	cmd.AddCommand(newCatalogClearCmd())
	return cmd
}

func newCatalogRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rescan the content root into the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			cmd.SilenceUsage = true

			if err := env.catalog.Load(cmd.Context()); err != nil {
				return err
			}
			res, err := env.catalog.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %d files (%s added, %d updated, %d deleted) in %s\n",
				green("catalog refreshed:"), res.Files, cyan(res.Added), res.Updated, res.Deleted, res.Took)
			return nil
		},
	}
}

func newCatalogImportCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <metadata.json>",
		Short: "Import a path to digest JSON catalog into an empty store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			digests, err := catalog.ReadDigests(f)
			if err != nil {
				return err
			}

			env, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			cmd.SilenceUsage = true

			res, err := env.catalog.Import(cmd.Context(), digests, force)
			if errors.Is(err, catalog.ErrStoreNotEmpty) {
				slog.Info("catalog import skipped", "reason", err, "hint", "use --force to replace it")
				return nil
			} else if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %d files (%d added, %d updated, %d deleted)\n",
				green("catalog imported:"), len(digests), res.Added, res.Updated, res.Deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Replace a non-empty catalog")
	return cmd
}

func newCatalogExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the catalog as path to digest JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			cmd.SilenceUsage = true

			if err := env.catalog.Load(cmd.Context()); err != nil {
				return err
			}
			return catalog.WriteDigests(cmd.OutOrStdout(), env.catalog.Export())
		},
	}
}

func newCatalogClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every catalog record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer env.close()
			cmd.SilenceUsage = true

			if err := env.catalog.Store().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("catalog cleared"))
			return nil
		},
	}
}
