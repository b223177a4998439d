package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/epgview/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing epgview configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  epgview config dump > .epgview.yaml

Configuration can be set via:
  - Config file (.epgview.yaml, /etc/epgview/.epgview.yaml)
  - Environment variables with the EPGVIEW_ prefix
    (server.port -> EPGVIEW_SERVER_PORT)
  - The bare PORT variable, which overrides server.port`,
	RunE: runConfigDump,
}

func init() {
	configCmd.AddCommand(configDumpCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
