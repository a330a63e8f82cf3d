package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/queue"
	"github.com/relaywerks/assigner/internal/store"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a prompt, immediately if pending, cooperatively if in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid prompt id %q: %w", args[0], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			q := queue.New(s, cfg.Retry)
			if err := q.Cancel(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("cancel requested for prompt #%d\n", id)
			return nil
		},
	}
}
