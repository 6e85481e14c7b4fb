package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/state"
	"github.com/spf13/cobra"
)

var (
	eventsLimit  int
	eventsType   string
	eventsPerson string
	eventsSince  time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded events, newest first",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "number of events to show")
	eventsCmd.Flags().StringVarP(&eventsType, "type", "t", "", "only events of this type (motion_detected, motion_recorded)")
	eventsCmd.Flags().StringVarP(&eventsPerson, "person", "p", "", "only events for this person")
	eventsCmd.Flags().DurationVar(&eventsSince, "since", 0, "only events newer than this, e.g. 24h")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	stateMgr, err := state.Open(cfg.DatabasePath(), log)
	if err != nil {
		return fmt.Errorf("failed to open event database: %w", err)
	}
	defer stateMgr.Close()

	opts := events.ListOptions{
		EventType:  eventsType,
		PersonName: eventsPerson,
		Limit:      eventsLimit,
	}
	if eventsSince > 0 {
		opts.Since = time.Now().Add(-eventsSince)
	}

	rows, total, err := events.NewStorage(stateMgr, log).ListEvents(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No events found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTYPE\tPERSON\tFILE")
	for _, e := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.EventType, orDash(e.PersonName), orDash(e.FilePath))
	}
	w.Flush()

	if total > len(rows) {
		fmt.Fprintf(out, "\nShowing %d of %d events\n", len(rows), total)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
