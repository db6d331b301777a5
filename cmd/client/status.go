package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mdbmanager/mdbsync/internal/syncsdk"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the server catalog and this session's pending diff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdk, err := newSDK(cfg)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			st, err := sdk.Sync.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printConfig(w, cfg)
			fmt.Fprintf(w, "%s\t%d files, refreshed %s\n", gray.Render("CATALOG"), st.CatalogFiles, humanize.Time(st.CatalogTakenAt))
			if st.Pending && st.ExpiresAt != nil {
				fmt.Fprintf(w, "%s\t%d files, expires %s\n", gray.Render("PENDING"), st.Files, humanize.Time(*st.ExpiresAt))
			} else {
				fmt.Fprintf(w, "%s\t%s\n", gray.Render("PENDING"), "none")
			}
			return nil
		},
	}
}

func newFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path> <dest>",
		Short: "Download a single catalogued track",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdk, err := newSDK(cfg)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			if err := sdk.Sync.File(cmd.Context(), args[0], args[1]); err != nil {
				if errors.Is(err, syncsdk.ErrFileNotFound) {
					return fmt.Errorf("%s is not in the server catalog", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("Saved"), cyan.Render(args[1]))
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show this device's recent sync requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sdk, err := newSDK(cfg)
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			resp, err := sdk.Sync.History(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, e := range resp.Entries {
				status := green.Render(strconv.Itoa(e.Status))
				if e.Status >= 400 {
					status = red.Render(strconv.Itoa(e.Status))
				}
				fmt.Fprintf(w, "%s  %s %-24s %s  %s\n",
					gray.Render(e.Timestamp.Local().Format(time.DateTime)),
					status, e.Route+e.Path, humanize.Bytes(uint64(e.Bytes)), e.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	return cmd
}
