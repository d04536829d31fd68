package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eteran/meshvault/internal/auth"
	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/database"
	"github.com/eteran/meshvault/internal/ledger"
	"github.com/eteran/meshvault/internal/media"
	"github.com/eteran/meshvault/internal/metrics"
	"github.com/eteran/meshvault/internal/storage"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Server wires the stores and pipelines together and serves them over HTTP.
type Server struct {
	cfg        Config
	db         *sqlx.DB
	catalog    *catalog.Store
	admins     *auth.Admins
	tokens     *auth.TokenEngine
	models     *media.Service
	thumbnails *media.Service
	metrics    *metrics.Metrics
}

// NewServer opens the metadata database, applies its schema and returns a
// new Server. DataDir may only be omitted when both a storage engine and a
// database DSN are configured.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {

	if cfg.DataDir == "" && (cfg.Engine == nil || cfg.DatabaseDSN == "") {
		return nil, errors.New("DataDir must not be empty")
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = database.DriverSQLite
	}
	if cfg.DatabaseDSN == "" {
		if cfg.DatabaseDriver != database.DriverSQLite {
			return nil, fmt.Errorf("a DSN is required for driver %q", cfg.DatabaseDriver)
		}
		cfg.DatabaseDSN = database.SQLiteDSN(filepath.Join(cfg.DataDir, "metadata.sqlite"))
	}

	if cfg.MaxUploadMemory <= 0 {
		cfg.MaxUploadMemory = DefaultMaxUploadMemory
	}

	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	if cfg.TokenSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		cfg.TokenSecret = hex.EncodeToString(secret)
		slog.Warn("No token secret configured, issued tokens will not survive a restart")
	}

	if cfg.Engine == nil {
		engine, err := storage.NewLocalFileStorage(filepath.Join(cfg.DataDir, "blobs"))
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}

	db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenEngine(cfg.TokenSecret, cfg.TokenTTL)
	if cfg.Authenticator == nil {
		cfg.Authenticator = auth.NewCompoundAuthEngine(auth.NewSharedSecretEngine(cfg.AdminSecret), tokens)
	}

	m := metrics.New(cfg.Registry)
	entries := ledger.NewStore(db)
	assets := catalog.NewStore(db)

	return &Server{
		cfg:        cfg,
		db:         db,
		catalog:    assets,
		admins:     auth.NewAdmins(db),
		tokens:     tokens,
		models:     media.NewService(ledger.KindModel, entries, cfg.Engine, assets, m),
		thumbnails: media.NewService(ledger.KindThumbnail, entries, cfg.Engine, assets, m),
		metrics:    m,
	}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.db.Close()
}

// Admins exposes the administrator store for command line management.
func (s *Server) Admins() *auth.Admins {
	return s.admins
}

// Service returns the pipelines for kind.
func (s *Server) Service(kind ledger.Kind) *media.Service {
	if kind == ledger.KindThumbnail {
		return s.thumbnails
	}
	return s.models
}

// Reconcile sweeps both kinds concurrently.
func (s *Server) Reconcile(ctx context.Context, opts media.ReconcileOptions) ([]media.ReconcileReport, error) {
	services := []*media.Service{s.models, s.thumbnails}
	reports := make([]media.ReconcileReport, len(services))

	eg, ctx := errgroup.WithContext(ctx)
	for i, service := range services {
		eg.Go(func() error {
			report, err := service.Reconcile(ctx, opts)
			if err != nil {
				return fmt.Errorf("reconcile %s: %w", service.Kind(), err)
			}
			reports[i] = report
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
