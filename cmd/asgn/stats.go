package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show prompt and session counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.Stats(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("prompts:\n")
			fmt.Printf("  pending:     %d\n", stats.Pending)
			fmt.Printf("  assigned:    %d\n", stats.Assigned)
			fmt.Printf("  in_progress: %d\n", stats.InProgress)
			fmt.Printf("  completed:   %d\n", stats.Completed)
			fmt.Printf("  failed:      %d\n", stats.Failed)
			fmt.Printf("  cancelled:   %d\n", stats.Cancelled)
			fmt.Printf("sessions:\n")
			for status, n := range stats.SessionsByStatus {
				fmt.Printf("  %-12s %d\n", status, n)
			}
			return nil
		},
	}
}
