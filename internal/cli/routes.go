package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nghyane/claude-relay/internal/bootstrap"
	"github.com/nghyane/claude-relay/internal/registry"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print how Claude model ids map to upstream models",
	RunE: func(c *cobra.Command, args []string) error {
		result, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			return err
		}
		return printRoutes(c.OutOrStdout(), registry.NewModelRegistry(result.Config))
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func printRoutes(out io.Writer, reg *registry.ModelRegistry) error {
	entries := reg.Routes()
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no routes: configure at least one provider")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATTERN\tMATCH\tPROVIDER\tUPSTREAM MODEL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Pattern, e.Kind, e.Provider, e.Model)
	}
	return tw.Flush()
}
