package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin console API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":9000", "HTTP listen address")
	flags.String("https-listen", ":8443", "HTTPS listen address")
	flags.String("tls-cert", "", "TLS certificate file, enables HTTPS together with --tls-key")
	flags.String("tls-key", "", "TLS key file")
	bindFlags(a.v, flags)

	return cmd
}

func serve(ctx context.Context, cfg Config) error {
	server, err := cfg.openServer(ctx)
	if err != nil {
		return err
	}

	defer server.Close()

	router := server.Handler()

	// Uploads and downloads of large models can take a while, so only the
	// header read is bounded.
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              cfg.HTTPSListen,
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	shutdown := func(srv *http.Server) func() error {
		return func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		}
	}
	eg.Go(shutdown(httpsServer))
	eg.Go(shutdown(httpServer))

	eg.Go(func() error {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting MeshVault HTTPS server", "addr", cfg.HTTPSListen)
		err := httpsServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting MeshVault HTTP server", "addr", cfg.Listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("MeshVault started", "data_dir", cfg.DataDir, "storage", cfg.Storage, "db_driver", cfg.DBDriver)
	return eg.Wait()
}
