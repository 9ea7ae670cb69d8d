package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// kindsCmd represents the kinds command
var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the resource kinds the sweeper knows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := buildRegistry(cfg)
		if err != nil {
			return err
		}
		return printKinds(cmd.OutOrStdout(), reg)
	},
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}

func printKinds(out io.Writer, reg *resource.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tAGE LIMIT\tAGED BY\tSCOPE")
	for _, d := range reg.Kinds() {
		agedBy := "creation time"
		if !d.HasNativeTime() {
			agedBy = "age store"
		}
		scope := "region"
		if d.Global {
			scope = "account"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Kind, d.Limit(), agedBy, scope)
	}
	return w.Flush()
}
