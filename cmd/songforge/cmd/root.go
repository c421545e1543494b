// Package cmd implements the CLI commands for songforge.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songforge/songforge/internal/config"
	"github.com/songforge/songforge/internal/observability"
	"github.com/songforge/songforge/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "songforge",
	Short:   "Multi-tenant music generation service",
	Version: version.Short(),
	Long: `songforge turns text prompts into finished tracks. A request is planned
into a song structure, sequenced and rendered into stems, mixed and mastered,
and optionally extended with vocals, timed captions, and a visualizer video.

Requests are accepted over a REST API, executed on a persistent job queue
with idempotent enqueue, and served back as streamable assets.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Note: these flags are NOT bound to viper. Serve checks Changed() and
	// only then overrides the config/env values, preserving the priority
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initLogging configures the default slog logger from the CLI flags so every
// command logs consistently. serve rebuilds the logger once the full
// configuration is loaded.
func initLogging() error {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	format, _ := rootCmd.PersistentFlags().GetString("log-format")

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}
	// Handle "warning" as an alias for "warn".
	if strings.ToLower(level) == "warning" {
		level = "warn"
	}

	logger := observability.NewLogger(config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	})
	observability.SetDefault(logger)
	return nil
}
