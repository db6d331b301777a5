package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mdbmanager/mdbsync/internal/db"
	"github.com/mdbmanager/mdbsync/internal/server"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/spf13/cobra"
)

func newTOTPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Enroll an authenticator app",
		Long:  "Print the otpauth provisioning URI or write it as a QR code. Works with provisioning disabled over HTTP.",
	}
	cmd.AddCommand(newTOTPURICmd())
	cmd.AddCommand(newTOTPQRCmd())
	return cmd
}

func newTOTPURICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uri",
		Short: "Print the otpauth provisioning URI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := provisioningService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			cmd.SilenceUsage = true

			uri, err := svc.ProvisioningURI(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
}

func newTOTPQRCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "qr <out.png>",
		Short: "Write the provisioning QR code as a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := provisioningService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			cmd.SilenceUsage = true

			png, err := svc.ProvisioningQR(cmd.Context(), size)
			if err != nil {
				return err
			}
			if err := utils.EnsureParent(args[0]); err != nil {
				return err
			}
			if err := os.WriteFile(args[0], png, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("qr code written to"), cyan(args[0]))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 256, "Image width and height in pixels")
	return cmd
}

// provisioningService builds an auth service that always allows provisioning.
// The stored secret is shared with a running server through the sqlite db.
func provisioningService(cmd *cobra.Command) (*auth.AuthService, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	authCfg := cfg.Auth
	authCfg.ProvisioningEnabled = true

	closeFn := func() {}
	if authCfg.TOTPSecret != "" {
		slog.Info("totp secret from config", "secret", utils.MaskSecret(authCfg.TOTPSecret))
		return auth.NewAuthService(&authCfg, auth.StaticSecret(authCfg.TOTPSecret)), closeFn, nil
	}

	if cfg.DataDir == "" {
		return nil, nil, fmt.Errorf("`data_dir` is required")
	}
	sqlDB, err := db.NewSqliteDB(db.WithPath(cfg.DBPath()))
	if err != nil {
		return nil, nil, err
	}

	secrets, err := server.NewSecretProvider(&authCfg, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return auth.NewAuthService(&authCfg, secrets), func() { sqlDB.Close() }, nil
}
