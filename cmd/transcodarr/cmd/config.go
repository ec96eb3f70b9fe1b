package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rcoury/transcodarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for inspecting transcodarr configuration.",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

With no config file present this shows the defaults, so the output can be
redirected to create a configuration template:

  transcodarr config dump > config.yaml

Environment variables use the TRANSCODARR_ prefix with underscores for
nesting. Example: server.port -> TRANSCODARR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# transcodarr configuration")
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# loaded from: %s\n", used)
	} else {
		fmt.Println("# all values are defaults")
	}
	fmt.Println("#")
	fmt.Print(string(yamlData))

	return nil
}
