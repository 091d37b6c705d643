// Package commands provides the CLI commands for toolbridge.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolbridge-ai/toolbridge/internal/config"
	"github.com/toolbridge-ai/toolbridge/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	dataDir   string
)

var rootCmd = &cobra.Command{
	Use:   "toolbridge",
	Short: "toolbridge - MCP server connection manager",
	Long: `toolbridge manages connections to MCP (Model Context Protocol)
servers: stored definitions, connection lifecycle, tool discovery, and
tool invocation over stdio, HTTP, or websocket transports.

Run 'toolbridge servers list' to see configured servers, or
'toolbridge call <server> <tool>' to invoke a tool.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		out := os.Stderr
		cfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: out,
			Pretty: printLogs,
		}
		if !printLogs {
			// Keep command output clean unless logs were asked for.
			cfg.Level = logging.ErrorLevel
		}
		logging.Init(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: XDG data home)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("toolbridge %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(testCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the effective configuration, honoring the
// --data-dir flag over file and environment sources.
func loadConfig() (*config.Config, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}
