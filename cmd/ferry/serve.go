package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/ferry/engine"
	"github.com/xraph/ferry/samplejobs"
	"github.com/xraph/ferry/store"
)

func (a *app) serveCmd() *cobra.Command {
	var delayScale float64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with the sample jobs until interrupted",
		Long: `Start the worker pool and the recurring poller against the configured
store. SIGINT or SIGTERM triggers a graceful shutdown bounded by
FERRY_SHUTDOWN_TIMEOUT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := a.config()
			if err != nil {
				return err
			}
			logger, err := a.logger(cmd, cfg)
			if err != nil {
				return err
			}

			st, err := store.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			eng, err := engine.New(st, engine.WithConfig(cfg), engine.WithLogger(logger))
			if err != nil {
				_ = st.Close()
				return err
			}
			samplejobs.New(logger, samplejobs.WithDelayScale(delayScale)).RegisterAll(eng)

			logger.Info("starting ferry",
				slog.String("version", Version),
				slog.String("store", cfg.StoreDriver),
				slog.Int("workers", cfg.WorkerCount),
				slog.Any("queues", cfg.Queues),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return eng.Start(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
				defer cancel()
				return eng.Stop(sctx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("ferry stopped")
			return nil
		},
	}
	cmd.Flags().Float64Var(&delayScale, "delay-scale", 1, "multiplier for the sample jobs' simulated work")
	return cmd
}
