package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdbmanager/mdbsync/internal/client/config"
	"github.com/mdbmanager/mdbsync/internal/syncsdk"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "%s\t%s\n", gray.Render("SERVER"), cyan.Render(cfg.ServerURL))
	fmt.Fprintf(w, "%s\t%s\n", gray.Render("LIBRARY"), cyan.Render(cfg.LibraryDir))
	if cfg.Device != "" {
		fmt.Fprintf(w, "%s\t%s\n", gray.Render("DEVICE"), cyan.Render(cfg.Device))
	}
	fmt.Fprintf(w, "%s\t%s\n", gray.Render("CONFIG"), cyan.Render(cfg.Path))
}

// newSDK builds a client that writes every rotated refresh token back to cfg
func newSDK(cfg *config.Config) (*syncsdk.SyncSDK, error) {
	if err := cfg.RequireLogin(); err != nil {
		return nil, err
	}

	sdk, err := syncsdk.New(&syncsdk.Config{
		BaseURL:      cfg.ServerURL,
		RefreshToken: cfg.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	sdk.OnTokenUpdate(func(_, refreshToken string) {
		cfg.RefreshToken = refreshToken
		if err := cfg.Save(cfg.Path); err != nil {
			slog.Error("save rotated refresh token", "path", cfg.Path, "error", err)
		}
	})
	return sdk, nil
}
