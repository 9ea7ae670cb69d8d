package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/internal/daemon"
	"github.com/yairfalse/sweeper/internal/journal"
)

var (
	daemonInterval    time.Duration
	daemonCron        string
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sweep on a schedule",
	Long: `Run the sweeper continuously, sweeping on a cron schedule or at a
fixed interval. The first sweep starts immediately.

Features:
- Prometheus metrics on /metrics
- Health checks on /health, /-/healthy, /-/ready
- Journal retention cleanup once a day
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  sweeper daemon                          # Schedule from config (default 30m)
  sweeper daemon --interval 15m           # Sweep every 15 minutes
  sweeper daemon --cron "0 * * * *"       # Sweep hourly
  sweeper daemon --metrics-addr :9100     # Custom metrics address`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Sweep interval")
	daemonCmd.Flags().StringVar(&daemonCron, "cron", "", "Sweep cron schedule (5 fields)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics HTTP server address")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	sched := cfg.Schedule
	if cmd.Flags().Changed("interval") {
		sched.Interval, sched.Cron = daemonInterval, ""
	}
	if cmd.Flags().Changed("cron") {
		sched.Cron = daemonCron
	}
	if cmd.Flags().Changed("metrics-addr") {
		sched.MetricsAddr = daemonMetricsAddr
	}

	a, err := newApp(cmd.Context(), cfg, summaryOutput())
	if err != nil {
		return err
	}
	defer a.close()

	f, err := buildFilter(a.registry, cfg.Sweep.Targets, cfg.Sweep.Exclude)
	if err != nil {
		return err
	}

	opts := []daemon.Option{
		daemon.WithMeter(a.telemetry.Meter()),
	}
	if cfg.Journal.Dir != "" {
		retention := journal.RetentionConfig{RetentionDays: cfg.Journal.RetentionDays, FilePrefix: journal.DefaultPrefix}
		opts = append(opts, daemon.WithHousekeeping(daemon.Housekeeping{
			Name:     "journal-cleanup",
			Interval: 24 * time.Hour,
			Run: func(context.Context) error {
				stats, err := journal.Cleanup(cfg.Journal.Dir, retention)
				if err != nil {
					return err
				}
				log.Info().Int("files_removed", stats.FilesRemoved).Msg("journal cleanup")
				return nil
			},
		}))
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Cron:        sched.Cron,
		Interval:    sched.Interval,
		MetricsAddr: sched.MetricsAddr,
		Gatherer:    a.telemetry.Registry(),
	}, func(ctx context.Context) error {
		_, err := a.runSweep(ctx, f)
		return err
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	log.Info().
		Str("cron", sched.Cron).
		Dur("interval", sched.Interval).
		Str("metrics_addr", sched.MetricsAddr).
		Strs("regions", cfg.AWS.Regions).
		Bool("check", cfg.Sweep.Check).
		Msg("sweeper daemon starting")

	if err := d.Start(cmd.Context()); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	log.Info().Msg("daemon stopped")
	return nil
}
