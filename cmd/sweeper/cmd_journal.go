package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yairfalse/sweeper/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the termination journal",
	Long: `The journal records every termination attempt and age store purge,
one JSON line per event, in [journal] dir.`,
}

var journalListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List journal files",
	PreRunE: requireJournal,
	RunE: func(cmd *cobra.Command, _ []string) error {
		files, err := journal.Files(cfg.Journal.Dir, journal.DefaultPrefix)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(f))
		}
		return nil
	},
}

var journalShowCmd = &cobra.Command{
	Use:     "show FILE",
	Short:   "Print the entries of a journal file",
	Args:    cobra.ExactArgs(1),
	PreRunE: requireJournal,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if filepath.Base(path) == path {
			path = filepath.Join(cfg.Journal.Dir, path)
		}
		return printJournal(cmd.OutOrStdout(), path)
	},
}

var journalPruneCmd = &cobra.Command{
	Use:     "prune",
	Short:   "Remove journal files older than the retention period",
	PreRunE: requireJournal,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := journal.Cleanup(cfg.Journal.Dir, journal.RetentionConfig{
			RetentionDays: cfg.Journal.RetentionDays,
			FilePrefix:    journal.DefaultPrefix,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d files (%d bytes)\n", stats.FilesRemoved, stats.BytesFreed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd, journalShowCmd, journalPruneCmd)
}

func requireJournal(*cobra.Command, []string) error {
	if cfg == nil || cfg.Journal.Dir == "" {
		return errors.New("journal disabled: set [journal] dir in the config file")
	}
	return nil
}

func printJournal(out io.Writer, path string) error {
	r, err := journal.NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tACCOUNT\tREGION\tKIND\tNAME\tAGE\tERROR")
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Account, e.Region, e.Kind, e.Name, e.Age, e.Error)
	}
	return w.Flush()
}
