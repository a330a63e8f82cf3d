package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Register or deregister a session the dispatcher can target",
	}
	cmd.AddCommand(newSessionRegisterCmd(), newSessionDeregisterCmd(), newSessionHistoryCmd())
	return cmd
}

func newSessionRegisterCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a new idle session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.UpsertSession(context.Background(), model.Session{
				Name:     args[0],
				Provider: provider,
				Status:   model.SessionIdle,
			})
			if err != nil {
				return err
			}
			fmt.Printf("registered session %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "provider tag (e.g. claude, codex)")
	return cmd
}

func newSessionDeregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <name>",
		Short: "Remove a session from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			held, err := s.ListBySession(ctx, args[0])
			if err != nil {
				return err
			}
			if len(held) > 0 {
				return &model.ConflictError{Kind: "session", ID: args[0], Expected: "no non-terminal prompts held", Actual: fmt.Sprintf("%d held", len(held))}
			}

			if err := s.DeleteSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("deregistered session %s\n", args[0])
			return nil
		},
	}
}

func newSessionHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <name>",
		Short: "Show the assignment history a session has taken part in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			history, err := s.HistoryBySession(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			for _, rec := range history {
				fmt.Printf("%s  prompt #%d  %-10s %s\n", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.PromptID, rec.Action, rec.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the number of entries returned (0 = unbounded)")
	return cmd
}
