// ============================================================================
// cardbus CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra-based command line interface.
//
// Command Structure:
//   cardbusd                   # Root command
//   └── run                    # Start the worker fleet
//       └── --config, -c       # Specify TOML config file
//
// run Command:
//   1. Load TOML config
//   2. Open ACS + log store sessions
//   3. Build the worker fleet and register it with the loop
//   4. Start the Metrics HTTP server, if enabled
//   5. Block on SIGINT/SIGTERM, then stop the loop gracefully and exit
//      with status 1
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chuliyu/cardbus/internal/config"
	"github.com/chuliyu/cardbus/internal/fleet"
	"github.com/chuliyu/cardbus/internal/metrics"
)

var log = slog.Default()

var configFile string

// BuildCLI constructs the cardbusd root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "cardbusd",
		Short:   "cardbusd: card-automation worker fleet",
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.toml", "config file path")
	rootCmd.AddCommand(buildRunCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFleet(configFile)
		},
	}
	return cmd
}

func runFleet(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("cli: load config: %w", err)
	}

	f, err := fleet.Build(cfg)
	if err != nil {
		return fmt.Errorf("cli: build fleet: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	f.Loop.Start()
	log.Info("cardbusd started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, stopping gracefully")
	if err := f.Stop(); err != nil {
		log.Warn("fleet stop reported an error", "error", err)
	}
	log.Info("cardbusd stopped")
	// A signal-driven shutdown ends the process with a non-zero status.
	os.Exit(1)
	return nil
}
