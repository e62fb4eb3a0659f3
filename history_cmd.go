package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerhost/ledgerhost/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sign-in, backup and update events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			events, res := s.Service.History(cmd.Context(), limit)
			if !res.OK {
				return resultErr(res)
			}

			if flagJSON {
				return printJSON(os.Stdout, events)
			}

			if len(events) == 0 {
				statusf("No events recorded.\n")
				return nil
			}

			printTable(os.Stdout, []string{"TIME", "OPERATION", "STATUS", "MESSAGE"}, historyRows(events))

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", journal.DefaultRecentLimit, "number of events to show")

	return cmd
}

func historyRows(events []journal.Event) [][]string {
	rows := make([][]string, 0, len(events))

	for _, ev := range events {
		rows = append(rows, []string{formatAge(ev.OccurredAt), ev.Op, ev.Kind, truncate(ev.Message, maxMessageWidth)})
	}

	return rows
}

// maxMessageWidth keeps history rows on one terminal line.
const maxMessageWidth = 80

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}
