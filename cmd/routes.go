package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fleet-portal/internal/access"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route to feature binding table",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tMATCH\tFEATURE\tMODE")
		for _, b := range access.Default().Bindings() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Path, b.Match, b.Feature, b.Mode)
		}
		return w.Flush()
	},
}
