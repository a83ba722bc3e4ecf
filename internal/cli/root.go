// Package cli implements the livecheck command line tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/config"
	"github.com/example/livecheck/internal/logging"
)

// Version is the application version.
const Version = "0.1.0"

type app struct {
	configPath string
	envFiles   []string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "livecheck",
		Short:         "Facial liveness checks from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: livecheck.yaml in /etc/livecheck, $HOME/.livecheck or .)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before reading the environment (default: .env)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newCaptureCommand(a),
		newAnalyzeCommand(a),
		newClassifyCommand(a),
		newStorageCommand(a),
		newProbeCommand(a),
		newTokenCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads configuration and the logger. Remote commands get the full validation.
func (a *app) setup(remote bool) error {
	load := config.LoadLocal
	if remote {
		load = config.Load
	}
	cfg, err := load(a.configPath, a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
