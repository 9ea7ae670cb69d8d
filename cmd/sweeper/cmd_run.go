package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/internal/filter"
)

var runKind string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep a single resource kind",
	Long: `Sweep one resource kind in every configured region.

Use "sweeper kinds" to list the kind names. The age store purge only runs
with --kind Database.`,
	Example: `  sweeper run --kind Ec2Instance --check
  sweeper run --kind S3Bucket --force
  sweeper run --kind Database`,
	RunE: runSingleKind,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runKind, "kind", "k", "", "Resource kind to sweep")
	_ = runCmd.MarkFlagRequired("kind")
}

func runSingleKind(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, summaryOutput())
	if err != nil {
		return err
	}
	defer a.close()

	if _, ok := a.registry.Lookup(runKind); !ok && runKind != filter.DatabaseTarget {
		return fmt.Errorf("unknown kind %q (see 'sweeper kinds')", runKind)
	}

	_, err = a.runSweep(cmd.Context(), filter.New([]string{runKind}, nil))
	return err
}
