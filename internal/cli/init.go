package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nghyane/claude-relay/internal/bootstrap"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(c *cobra.Command, args []string) error {
		path, err := bootstrap.ResolveConfigPath(cfgFile)
		if err != nil {
			return err
		}
		created, err := bootstrap.WriteDefaultConfig(path, initForce)
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintf(c.OutOrStdout(), "config already exists at %s (use --force to overwrite)\n", path)
			return nil
		}
		fmt.Fprintf(c.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}
