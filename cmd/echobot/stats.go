package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"echobot/internal/config"
	"echobot/internal/journal"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery counters and recent replies from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled (enable with 'echobot config set journal.enabled true')")
			}
			if _, err := os.Stat(cfg.Journal.DBPath); err != nil {
				return fmt.Errorf("journal database not found at %s: run the bot first", cfg.Journal.DBPath)
			}

			j, err := journal.NewSQLiteJournal(cfg.Journal.DBPath, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			stats, err := j.Stats(ctx)
			if err != nil {
				return err
			}
			recent, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}
			printStats(os.Stdout, stats, recent)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent deliveries to show")
	return cmd
}

func printStats(w io.Writer, stats journal.Stats, recent []journal.Delivery) {
	fmt.Fprintf(w, "Deliveries: %d (sent %d, failed %d) across %d chat(s)\n",
		stats.Total, stats.Sent, stats.Failed, stats.Chats)
	if stats.LastAt != nil {
		fmt.Fprintf(w, "Last reply: %s\n", stats.LastAt.Local().Format(time.RFC3339))
	}
	if len(recent) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCHAT\tTHREAD\tSTATUS\tLATENCY\tERROR")
	for _, d := range recent {
		thread := "-"
		if d.ThreadID != 0 {
			thread = fmt.Sprint(d.ThreadID)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			d.ChatID, thread, d.Status, d.Latency.Round(time.Millisecond), d.Error)
	}
	tw.Flush()
}
