package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/mdbmanager/mdbsync/internal/syncsdk"
	"github.com/mdbmanager/mdbsync/internal/utils"
	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var code string
	var device string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange an authenticator code for a refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := utils.ValidateServerURL(cfg.ServerURL); err != nil {
				return err
			}

			if code == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Authenticator code: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return errors.New("authenticator code is required")
			}

			if device == "" {
				device = cfg.Device
			}
			if device == "" {
				device = syncsdk.DefaultDeviceName()
			}

			cmd.SilenceUsage = true
			tokens, err := syncsdk.VerifyOTP(cmd.Context(), cfg.ServerURL, &syncsdk.VerifyOTPRequest{
				Code:   code,
				Device: device,
			})
			if err != nil {
				return err
			}

			cfg.Device = device
			cfg.RefreshToken = tokens.RefreshToken
			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green.Render("Logged in"))
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Current authenticator code")
	cmd.Flags().StringVar(&device, "device", "", "Device name sent to the server")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.RefreshToken = ""
			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green.Render("Logged out"))
			return nil
		},
	}
}
