package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironsheep/plan-symbols-mcp/internal/config"
	"github.com/ironsheep/plan-symbols-mcp/internal/logging"
	"github.com/ironsheep/plan-symbols-mcp/internal/pipeline"
	"github.com/ironsheep/plan-symbols-mcp/internal/server"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "plan-symbols-mcp",
		Short:        "Find legend symbols on scanned engineering drawings",
		SilenceUsage: true,
		Long: `plan-symbols-mcp splits a drawing page into sections, detects symbols on
each one and assigns every detected box to at most one symbol from the
drawing's legend.

Run without a subcommand to serve the tools over MCP on stdin/stdout.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger == nil {
				return nil
			}
			return a.logger.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.newServeCmd(),
		a.newMatchCmd(),
		a.newLegendCmd(),
		a.newSplitCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	return pipeline.New(ctx, a.cfg, a.logger.Named("pipeline"))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the symbol tools over MCP on stdin/stdout (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runServe(cmd.Context())
		},
	}
}

func (a *app) runServe(parent context.Context) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	server.Version = Version
	a.logger.Infow("starting MCP server",
		"version", Version,
		"built", BuildTime,
		"commit", GitCommit,
		"detector", a.cfg.Detector.Kind,
		"embedding", a.cfg.Embedding.Kind)

	srv := server.New(p, a.logger.Named("server"))
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan-symbols-mcp %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
