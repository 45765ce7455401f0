// Package cli implements the claude-relay command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "claude-relay",
	Short: "Claude Messages API gateway for OpenAI-compatible backends",
	Long: `claude-relay accepts Anthropic Messages API requests and forwards them to
OpenAI-compatible chat completion providers, translating requests, responses
and streams in both directions.`,
	SilenceUsage: true,
	RunE: func(c *cobra.Command, args []string) error {
		return serveCmd.RunE(c, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/claude-relay/config.yaml)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
