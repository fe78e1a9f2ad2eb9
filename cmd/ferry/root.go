package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xraph/ferry"
	"github.com/xraph/ferry/engine"
	"github.com/xraph/ferry/internal/logx"
	"github.com/xraph/ferry/samplejobs"
	"github.com/xraph/ferry/store"
)

// app carries state shared by every subcommand.
type app struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ferry",
		Short: "Ferry - background job engine",
		Long: `Ferry runs fire-and-forget, delayed and recurring jobs against a
durable store. Settings come from FERRY_* environment variables, optionally
loaded from a dotenv file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env", nil, "dotenv file(s) to load before reading the environment (default .env)")

	root.AddCommand(
		a.serveCmd(),
		a.enqueueCmd(),
		a.recurringCmd(),
		a.cancelCmd(),
		a.statsCmd(),
		a.configCmd(),
		a.migrateCmd(),
	)
	return root
}

func (a *app) config() (ferry.Config, error) {
	return ferry.LoadConfig(a.envFiles...)
}

func (a *app) logger(cmd *cobra.Command, cfg ferry.Config) (*slog.Logger, error) {
	return logx.New(cfg.LogFormat, cfg.LogLevel,
		logx.WithOutput(cmd.ErrOrStderr()),
		logx.WithAttr(slog.String("service", "ferry")),
	)
}

// session is an engine opened for the duration of one command, with the
// sample jobs registered.
type session struct {
	cfg     ferry.Config
	logger  *slog.Logger
	engine  *engine.Engine
	samples *samplejobs.Set
}

// open connects the configured store and builds an engine that owns it.
// Callers must call close.
func (a *app) open(cmd *cobra.Command) (*session, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	logger, err := a.logger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(st, engine.WithConfig(cfg), engine.WithLogger(logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	samples := samplejobs.New(logger)
	samples.RegisterAll(eng)
	return &session{cfg: cfg, logger: logger, engine: eng, samples: samples}, nil
}

func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.engine.Stop(ctx)
}
