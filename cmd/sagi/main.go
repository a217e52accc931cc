// Package main provides the sagi CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version      = "0.1.0"
	configPath   string
	logLevelFlag string
	pretty       = true
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sagi",
		Short: "Agent streaming server with permission-gated tools",
		Long: `sagi streams LLM chat turns with tool calls and asks before running
anything the session has not approved.

  sagi serve            Start the HTTP/WebSocket server
  sagi chat "prompt"    Run a turn in the terminal
  sagi permissions      Inspect and change permissions on a running server
  sagi config init      Write a default config file`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.sagi/config.{yaml,json})")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Colored output")

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		permissionsCmd(),
		tokenCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show sagi version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sagi version %s\n", version)
		},
	}
}
