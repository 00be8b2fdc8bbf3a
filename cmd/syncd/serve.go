package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/buehnenplan/syncd/internal/auth"
	"github.com/buehnenplan/syncd/internal/gateway"
	"github.com/buehnenplan/syncd/internal/live"
	"github.com/buehnenplan/syncd/internal/store"
	"github.com/buehnenplan/syncd/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync gateway",
	Long: `Start the HTTP gateway serving the sync endpoints:

  GET  /api/sync/initial   baseline snapshot for bootstrap/resync
  POST /api/sync/pull      incremental event feed
  POST /api/sync/push      idempotent batch application
  GET  /api/sync/live      WebSocket monitoring feed
  GET  /healthz            liveness probe

The schema is created on startup if missing. Shuts down gracefully on
SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.TokenSecret == "" {
			return fmt.Errorf("auth.token_secret is not configured")
		}

		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := db.InitSchema(ctx); err != nil {
			return err
		}

		tokens, err := auth.NewTokens([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}

		projector := store.NewStateProjector(logger)
		selector := syncer.NewSelector(db, logger)
		applier := syncer.NewApplier(db, projector, logger)
		authn := auth.NewAuthenticator(db, tokens, cfg.Auth.SessionCookie, logger)
		hub := live.NewHub(logger)
		hub.Run()

		server := gateway.NewServer(cfg.Listen, db, selector, applier, authn, hub, logger)
		if err := server.Start(); err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(server.Serve)
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		logger.Info("stopped", zap.String("db", db.Path()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
