package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "List the configured knowledge domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		domains, err := a.admin.ListDomains(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tWEIGHT\tCHUNKS\tSTYLE\tKEYWORDS")
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t%.2f\t%d\t%t\t%s\n", d.ID, d.Weight, d.ChunkCount, d.Style, strings.Join(d.Keywords, ","))
		}
		return w.Flush()
	},
}
