package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"reconciler/internal/platform/config"
	"reconciler/internal/platform/httpserver"
	"reconciler/internal/platform/logger"
	"reconciler/internal/platform/postgres"
)

const shutdownTimeout = 10 * time.Second

// main wires the CLI. Business logic lives in internal packages; app.go
// assembles them.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Identity reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when configured, the audit relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the Postgres schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := postgres.Up
			if len(args) == 1 {
				direction = postgres.Direction(args[0])
			}
			if direction != postgres.Up && direction != postgres.Down {
				return fmt.Errorf("unknown migration direction %q", args[0])
			}

			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required to migrate")
			}
			log := logger.New(cfg.LogLevel)

			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return postgres.Migrate(db, direction, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Server) error {
	log := logger.New(cfg.LogLevel)

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	srv := httpserver.New(cfg, a.router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting reconciler", "addr", cfg.Addr, "store", string(cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
