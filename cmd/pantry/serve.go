package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/pantry/internal/backup"
	"github.com/dukerupert/pantry/internal/database"
	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the document store API and live listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cfg.RequireDatabase(); err != nil {
		return err
	}
	db, err := database.Open(a.cfg.Server.DBDriver, a.cfg.Server.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	store := docstore.NewSQLStore(db, a.cfg.Server.DBDriver, a.logger.With("component", "docstore"))
	srv := server.New(store, server.Config{
		TokenHash:          a.cfg.Server.TokenHash,
		RateLimitPerSecond: a.cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     a.cfg.Server.RateLimitBurst,
	}, a.logger)
	if a.cfg.Server.TokenHash == "" {
		a.logger.Warn("API token check disabled; set server.token_hash to require one")
	}

	backups := backup.NewManager(a.cfg.Backup, store, a.logger)
	backups.Start(ctx)
	defer backups.Stop()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup(10 * time.Minute)
			}
		}
	}()

	httpServer := &http.Server{
		Addr:        a.cfg.Server.Addr,
		Handler:     srv.Router(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pantry serving", "addr", a.cfg.Server.Addr, "driver", a.cfg.Server.DBDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	srv.Hub().CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
