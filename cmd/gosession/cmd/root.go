package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "gosession",
	Short: "goSession authentication and session service",
	Long: `goSession issues and rotates access/renewal token pairs, runs password recovery
and proxies a linked third-party music account.

Configuration is read from an optional YAML file and then from GOSESSION_
environment variables, with "__" separating nesting levels, for example
GOSESSION_ENGINE__TOKEN__ACCESS_SECRET.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (text, json)")
}
