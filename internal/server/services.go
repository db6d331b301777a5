package server

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mdbmanager/mdbsync/internal/server/accesslog"
	"github.com/mdbmanager/mdbsync/internal/server/auth"
	"github.com/mdbmanager/mdbsync/internal/server/bundle"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/server/syncer"
	"github.com/mdbmanager/mdbsync/internal/server/ticket"
	"github.com/spf13/afero"
)

type Services struct {
	AccessLog *accesslog.AccessLogger
	Catalog   *catalog.Service
	Tickets   *ticket.Cache
	Resolver  bundle.Resolver
	Sync      *syncer.Service
	Auth      *auth.AuthService
}

// NewServices wires every service over the shared db and the OS filesystem
func NewServices(config *Config, db *sqlx.DB) (*Services, error) {
	return newServices(config, db, afero.NewOsFs())
}

func newServices(config *Config, db *sqlx.DB, fsys afero.Fs) (*Services, error) {
	store, err := catalog.OpenStore(&config.Catalog, db, config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	catalogSvc, err := catalog.NewService(&config.Catalog, store, fsys)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create catalog service: %w", err)
	}

	secrets, err := NewSecretProvider(&config.Auth, db)
	if err != nil {
		store.Close()
		return nil, err
	}

	accessLog, err := accesslog.New(fsys, config.AccessLogDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	resolver := bundle.NewFSResolver(fsys, config.Catalog.ContentRoot)
	tickets := ticket.NewCache(&config.Sync)
	syncSvc := syncer.NewService(catalogSvc, tickets, bundle.NewBuilder(resolver))
	authSvc := auth.NewAuthService(&config.Auth, secrets)

	return &Services{
		AccessLog: accessLog,
		Catalog:   catalogSvc,
		Tickets:   tickets,
		Resolver:  resolver,
		Sync:      syncSvc,
		Auth:      authSvc,
	}, nil
}

// NewSecretProvider prefers a configured TOTP secret and otherwise keeps a
// generated one in the settings table
func NewSecretProvider(config *auth.Config, db *sqlx.DB) (auth.SecretProvider, error) {
	if config.TOTPSecret != "" {
		return auth.StaticSecret(config.TOTPSecret), nil
	}

	issuer := config.TOTPIssuer
	if issuer == "" {
		issuer = auth.DefaultTOTPIssuer
	}
	secret, err := auth.NewStoredSecret(db, issuer)
	if err != nil {
		return nil, fmt.Errorf("create totp secret store: %w", err)
	}
	return secret, nil
}

// Start loads the catalog and starts the background refresher and ticket sweeper
func (s *Services) Start(ctx context.Context) error {
	if err := s.Catalog.Start(ctx); err != nil {
		return fmt.Errorf("start catalog service: %w", err)
	}

	go s.Tickets.Run(ctx)
	return nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if err := s.Catalog.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop catalog service: %w", err)
	}
	return s.AccessLog.Close()
}
