package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/mdbmanager/mdbsync/internal/db"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var ErrAlreadyRunning = errors.New("another server is using the data dir")

type Server struct {
	config *Config
	server *http.Server
	db     *sqlx.DB
	lock   *flock.Flock
	svc    *Services
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(config.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	} else if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, config.DataDir)
	}

	sqlDB, err := db.NewSqliteDB(db.WithPath(config.DBPath()))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	svc, err := NewServices(config, sqlDB)
	if err != nil {
		sqlDB.Close()
		lock.Unlock()
		return nil, err
	}

	handler, err := SetupRoutes(config, svc)
	if err != nil {
		sqlDB.Close()
		lock.Unlock()
		return nil, err
	}

	return &Server{
		config: config,
		db:     sqlDB,
		lock:   lock,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start runs the services and the http server until ctx is done
func (s *Server) Start(ctx context.Context) error {
	slog.Info("mdbsync server start", "addr", s.config.HTTP.Addr, "root", s.config.Catalog.ContentRoot)
	defer slog.Info("mdbsync server stop")

	if err := s.svc.Start(ctx); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("mdbsync shutdown signal")
		return s.Stop()
	})

	return eg.Wait()
}

// Stop shuts down the http server and releases the db and the data dir lock
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.svc.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock data dir: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.TLSEnabled() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
