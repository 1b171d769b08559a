package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sysmon/internal/monitor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sysmon",
	Short: "Periodic system monitor for container hosts",
	Long: `sysmon samples a container runtime, host resources and a device health
endpoint for a fixed duration, then uploads the collected log.

Examples:
  sysmon run --type duckiebot -d 60
  sysmon run --type watchtower -T robot.local -F '^dt-' --verbose
  sysmon run --config /etc/sysmon/sysmon.yaml`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show sysmon version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", monitor.AppName, version)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
