package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/lexcare/lexcare/app"
	"github.com/ZanzyTHEbar/lexcare/lexcare/db"
	"github.com/ZanzyTHEbar/lexcare/lexcare/transport/httpapi"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conn, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		a, err := app.NewFactory(cfg, conn, logger).Build()
		if err != nil {
			return err
		}

		// Schedule retention
		purger, err := app.NewPurgeScheduler(cfg.Server.PurgeSchedule, a.Turns, logger)
		if err != nil {
			return err
		}
		purger.Start()
		defer func() { <-purger.Stop().Done() }()

		api := httpapi.NewServer(a.Orchestrator, a.Engine, a.Orchestrator.Metrics(), logger)
		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("Listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// openDatabase opens the configured store. db.Open applies pending migrations.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	return db.Open(ctx, cfg.Store, logger)
}
