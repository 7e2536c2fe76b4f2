package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mediabuilder/mediad/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing mediad configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  mediad config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/mediad/config.yaml)
  - Environment variables with the MEDIAD_ prefix and underscores for
    nesting (server.port -> MEDIAD_SERVER_PORT)`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	v := viper.New()
	config.SetDefaults(v)

	// Merge the active configuration over the defaults so the dump shows
	// what the daemon would actually run with.
	for _, key := range viper.AllKeys() {
		v.Set(key, viper.Get(key))
	}

	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}

	fmt.Print(string(out))
	return nil
}
