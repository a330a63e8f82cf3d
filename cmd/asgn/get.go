package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/store"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a prompt's current state and assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid prompt id %q: %w", args[0], err)
			}
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			p, err := s.GetPrompt(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("#%d  %s\n", p.ID, p.Status)
			fmt.Printf("  content:   %s\n", p.Content)
			fmt.Printf("  priority:  %d\n", p.Priority)
			fmt.Printf("  session:   %s\n", p.AssignedSession)
			fmt.Printf("  retries:   %d/%d\n", p.RetryCount, p.MaxRetries)
			if p.Metadata.WorkingDir != "" {
				fmt.Printf("  work dir:  %s\n", p.Metadata.WorkingDir)
			}
			if p.Error != "" {
				fmt.Printf("  error:     %s\n", p.Error)
			}
			if p.Response != "" {
				fmt.Printf("  response:  %s\n", p.Response)
			}

			history, err := s.History(ctx, id)
			if err != nil {
				return err
			}
			if len(history) > 0 {
				fmt.Println("  history:")
				for _, rec := range history {
					fmt.Printf("    %s  %-10s %s  %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Action, rec.SessionName, rec.Details)
				}
			}
			return nil
		},
	}
}
