package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/mdbmanager/mdbsync/internal/client"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/spf13/cobra"
)

var errIncompletePull = errors.New("pull incomplete")

func newPullCmd() *cobra.Command {
	var include []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download every track the local library is missing or has out of date",
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

			if err := utils.EnsureDir(cfg.LibraryDir); err != nil {
				return err
			}
			puller, err := client.NewPuller(cfg.LibraryDir, sdk.Sync, &catalog.Config{Include: include})
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			result, err := puller.Pull(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printPullResult(cmd.OutOrStdout(), result)
			}

			if !result.Complete() {
				return fmt.Errorf("%w: %d of %d files written", errIncompletePull, len(result.Written), result.Expected)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", catalog.DefaultInclude, "Glob patterns of local files reported to the server")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func printPullResult(w io.Writer, r *client.PullResult) {
	if r.Expected == 0 {
		fmt.Fprintf(w, "%s (%d local files)\n", green.Render("Library is up to date"), r.LocalFiles)
		return
	}

	fmt.Fprintf(w, "%s %d of %d files, %s in %s\n",
		green.Render("Pulled"), len(r.Written), r.Expected,
		humanize.Bytes(uint64(r.Bytes)), r.Took.Round(time.Millisecond))

	for _, p := range r.Mismatched {
		fmt.Fprintf(w, "  %s %s\n", yellow.Render("digest mismatch"), p)
	}
	for _, p := range r.Missing {
		fmt.Fprintf(w, "  %s %s\n", yellow.Render("missing"), p)
	}
	for _, p := range r.Rejected {
		fmt.Fprintf(w, "  %s %s\n", red.Render("rejected"), p)
	}
}
