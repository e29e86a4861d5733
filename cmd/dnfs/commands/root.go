// Package commands implements the dnfs command line.
package commands

import (
	"fmt"

	"github.com/marmos91/dnfs/cmd/dnfs/commands/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dnfs",
	Short: "dnfs - NFS version 3 server and client",
	Long: `dnfs serves directory trees over NFS version 3 and talks to NFS servers
from the command line, without a kernel mount.

The server carries the portmap, MOUNT and NFS programs over TCP. The client
commands resolve ports through the server's portmapper unless --nfs-port is
given.

Use "dnfs [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dnfs %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dnfs/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(config.Cmd)
	for _, cmd := range clientCommands() {
		rootCmd.AddCommand(cmd)
	}
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrln(fmt.Sprintf(format, args...))
}
