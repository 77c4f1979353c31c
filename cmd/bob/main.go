// Command bob runs plans inside a project jail and drives the
// self-improvement cycle: history analysis, tickets, queue and repair.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bobchad/internal/config"
	"bobchad/internal/logging"
	"bobchad/internal/pipeline"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the global flags and process-wide collaborators.
type app struct {
	verbose    bool
	workspace  string
	configPath string

	logger *zap.Logger
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "bob",
		Short: "bob - plan router, jailed executor and self-improvement loop",
		Long: `bob validates structured plans, executes them inside the project root and
records every result. From that history it generates improvement tickets,
queues them, executes them and repairs failures within a fixed budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			if a.verbose {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			a.logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return a.loadConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&a.workspace, "workspace", "w", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: <workspace>/.bob/config.yaml)")

	rootCmd.AddCommand(
		a.analyseCmd(),
		a.ticketsCmd(),
		a.selfImproveCmd(),
		a.selfCycleCmd(),
		a.teachRuleCmd(),
		a.repairThenRetryCmd(),
		a.newTicketCmd(),
		a.enqueueTicketCmd(),
		a.runQueueCmd(),
		a.executeCmd(),
		a.toolsCmd(),
	)
	return rootCmd
}

func (a *app) loadConfig() error {
	ws := a.workspace
	if ws == "" {
		var err error
		if ws, err = os.Getwd(); err != nil {
			return err
		}
	}
	ws, err := filepath.Abs(ws)
	if err != nil {
		return err
	}

	path := a.configPath
	if path == "" {
		path = filepath.Join(ws, config.DefaultStateDir, config.DefaultFileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(ws, cfg.ProjectRoot)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	logsDir, err := cfg.StatePath("logs")
	if err != nil {
		return err
	}
	if err := logging.Initialize(logsDir, cfg.Logging); err != nil {
		a.logger.Warn("category logging disabled", zap.Error(err))
	}
	a.cfg = cfg
	a.logger.Debug("config loaded", zap.String("path", path), zap.String("root", cfg.ProjectRoot))
	return nil
}

// open builds the pipeline for one command.
func (a *app) open(ctx context.Context) (*pipeline.Pipeline, error) {
	p, err := pipeline.Open(ctx, a.cfg, pipeline.Overrides{})
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	return p, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var pe *planError
		if !errors.As(err, &pe) {
			err = fmt.Errorf("error: %w", err)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
