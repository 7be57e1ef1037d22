// Package main implements the ace CLI: run reflection cycles over edited
// files and inspect or maintain the pattern library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides config file discovery
	configPath string
	// metricsFile receives a Prometheus text dump after each command
	metricsFile string
	// jsonOutput switches read commands to JSON
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ace",
	Short: "Learn coding patterns from edits and test results",
	Long: `ace watches the code you write, detects the patterns it uses, judges them
against test evidence and keeps a curated playbook of what works.

Configuration is read from .ace/config.yaml, ~/.config/ace/config.yaml or
--config, and overridden by ACE_* environment variables
(ACE_STORE_PATH sets store.path).`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(renderCmd)
}

// withApp loads the configured application, runs fn and releases it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	runErr := fn(cmd.Context(), a)
	if metricsFile != "" {
		if err := a.writeMetrics(metricsFile); err != nil && runErr == nil {
			runErr = err
		}
	}
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
