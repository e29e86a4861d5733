// Package config implements configuration management subcommands.
package config

import (
	"fmt"

	"github.com/marmos91/dnfs/internal/cli/output"
	"github.com/marmos91/dnfs/pkg/config"
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage dnfs configuration files.

Subcommands:
  init      Write a sample configuration file
  show      Display the effective configuration
  validate  Validate a configuration file`,
}

var (
	initForce  bool
	showOutput string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample dnfs configuration file.

By default, the file is created at $XDG_CONFIG_HOME/dnfs/config.yaml.
Use --config to choose another path.

Examples:
  dnfs config init
  dnfs config init --config /etc/dnfs/config.yaml
  dnfs config init --force`,
	RunE: runInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and environment overrides
have been applied.`,
	RunE: runShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if _, err := config.Load(configPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")

	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configFile, _ := cmd.Flags().GetString("config")

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the configuration file to customize your exports")
	fmt.Fprintln(out, "  2. Start the server with: dnfs serve")
	fmt.Fprintf(out, "  3. Or specify custom config: dnfs serve --config %s\n", configPath)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.Print(cmd.OutOrStdout(), format, cfg)
}
