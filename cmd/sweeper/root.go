package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/internal/config"
	"github.com/yairfalse/sweeper/internal/telemetry"
)

var (
	version = "0.1.0"

	cfgFile     string
	flagVerbose bool
	flagCheck   bool
	flagForce   bool
	flagRegions []string
	flagStage   string
	flagTargets []string
	flagStore   string
	flagJSON    bool

	// cfg is loaded once in PersistentPreRunE.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "sweeper",
		Short: "Stale resource sweeper for AWS test accounts",
		Long: `Sweeper removes resources left behind in AWS test accounts.

Every supported resource kind is listed in each region. Anything older
than its kind's age limit is terminated. Kinds without a creation time are
aged from the first time the sweeper saw them, tracked in an age store.

Nothing is mutated in --check mode.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Sweeper {{.Version}}
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Config file (.toml, .yml or .yaml)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&flagCheck, "check", false, "Report what would be terminated without changing anything")
	pf.BoolVar(&flagForce, "force", false, "Terminate every non-ignored resource regardless of age")
	pf.StringSliceVarP(&flagRegions, "region", "r", nil, `Region to sweep, repeatable; "all" for every enabled region`)
	pf.StringVar(&flagStage, "stage", "", "Deployment stage (selects role and age store table)")
	pf.StringSliceVarP(&flagTargets, "target", "t", nil, `Kind to sweep, repeatable; "Database" selects the age store purge`)
	pf.StringVar(&flagStore, "store", "", "Age store: dynamodb, dynamodb://TABLE, bolt://PATH or memory")
	pf.BoolVar(&flagJSON, "json", false, "Write one JSON summary per sweep unit to stdout")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return telemetry.SetupLogging(cfg.Log, flagVerbose, os.Stderr)
}

// applyFlags overrides file values with flags set on the command line.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("check") {
		c.Sweep.Check = flagCheck
	}
	if flags.Changed("force") {
		c.Sweep.Force = flagForce
	}
	if flags.Changed("region") {
		c.AWS.Regions = flagRegions
	}
	if flags.Changed("stage") {
		c.Sweep.Stage = flagStage
	}
	if flags.Changed("target") {
		c.Sweep.Targets = flagTargets
	}
	if flags.Changed("store") {
		if err := parseStore(flagStore, &c.Store); err != nil {
			return err
		}
	}
	return nil
}

// parseStore applies a --store value to sc.
func parseStore(value string, sc *config.StoreConfig) error {
	backend, location, _ := strings.Cut(value, "://")
	switch backend {
	case config.BackendDynamoDB:
		sc.Backend = backend
		if location != "" {
			sc.Table = location
		}
	case config.BackendBolt:
		if location == "" {
			return errors.New("--store bolt needs a path, e.g. bolt://sweeper.db")
		}
		sc.Backend = backend
		sc.Path = location
	case config.BackendMemory:
		sc.Backend = backend
	default:
		return fmt.Errorf("unknown --store %q (want dynamodb, bolt://PATH or memory)", value)
	}
	return nil
}
