package main

import (
	"github.com/spf13/cobra"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep every selected kind in every configured region",
	Long: `Sweep the test account: every kind (or the --target kinds) in every
configured region, then purge old rows from the age store.

Account-wide kinds such as IAM roles and S3 buckets are swept once, from
the primary region. Per-resource failures are logged and never stop the
sweep; only setup errors (config, credentials, wrong account) fail the
command.`,
	Example: `  sweeper cleanup --check                      # Report only
  sweeper cleanup --region all                 # Every enabled region
  sweeper cleanup -t Ec2Instance -t Ec2Volume  # Only these kinds
  sweeper cleanup -t Database                  # Only the age store purge
  sweeper cleanup --store bolt://sweeper.db    # Local age store`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, summaryOutput())
	if err != nil {
		return err
	}
	defer a.close()

	f, err := buildFilter(a.registry, cfg.Sweep.Targets, cfg.Sweep.Exclude)
	if err != nil {
		return err
	}

	_, err = a.runSweep(cmd.Context(), f)
	return err
}
