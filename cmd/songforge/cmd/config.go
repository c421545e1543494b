package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/songforge/songforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing songforge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  songforge config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/songforge/config.yaml, ~/.songforge)
  - Environment variables (SONGFORGE_SERVER_PORT, DATABASE_URL, etc.)
  - Command-line flags (for some options)

Environment variables use the SONGFORGE_ prefix and underscores for nesting;
a handful of conventional deployment variables (PORT, DATABASE_URL,
ASSETS_DIR, DEFAULT_API_KEY, ...) are accepted as aliases.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)

	out, err := yaml.Marshal(formatSettings(v.AllSettings()))
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

// formatSettings renders durations as strings so the dump reads as "30s"
// rather than a nanosecond count.
func formatSettings(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for key, value := range settings {
		switch v := value.(type) {
		case map[string]any:
			out[key] = formatSettings(v)
		case time.Duration:
			out[key] = v.String()
		default:
			out[key] = value
		}
	}
	return out
}
