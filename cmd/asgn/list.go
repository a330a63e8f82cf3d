package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
	"github.com/relaywerks/assigner/internal/style"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompts, sessions, or locks",
	}
	cmd.AddCommand(newListPromptsCmd(), newListSessionsCmd(), newListLocksCmd())
	return cmd
}

func newListPromptsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "List prompts, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			var prompts []model.Prompt
			if status == "" {
				prompts, err = s.ListPending(ctx, 256)
			} else {
				prompts, err = s.ListPrompts(ctx, model.PromptStatus(status), 256, 0)
			}
			if err != nil {
				return err
			}

			t := style.NewTable(
				style.Column{Name: "ID", Width: 6},
				style.Column{Name: "STATUS", Width: 12},
				style.Column{Name: "PRI", Width: 4},
				style.Column{Name: "SESSION", Width: 16},
				style.Column{Name: "CONTENT", Width: 50},
			).FillLastColumn(style.TerminalWidth(80))
			for _, p := range prompts {
				t.AddRow(fmt.Sprint(p.ID), string(p.Status), fmt.Sprint(p.Priority), p.AssignedSession, p.Content)
			}
			fmt.Print(t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (default: pending)")
	return cmd
}

func newListSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			sessions, err := s.ListSessions(context.Background(), "")
			if err != nil {
				return err
			}

			t := style.NewTable(
				style.Column{Name: "NAME", Width: 18},
				style.Column{Name: "PROVIDER", Width: 12},
				style.Column{Name: "STATUS", Width: 10},
				style.Column{Name: "TASK", Width: 6},
				style.Column{Name: "WORKDIR", Width: 40},
			).FillLastColumn(style.TerminalWidth(80))
			for _, sess := range sessions {
				task := ""
				if sess.CurrentTaskID != 0 {
					task = fmt.Sprint(sess.CurrentTaskID)
				}
				t.AddRow(sess.Name, sess.Provider, string(sess.Status), task, sess.WorkingDir)
			}
			fmt.Print(t.Render())
			return nil
		},
	}
	return cmd
}

func newListLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List directory locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			locks, err := s.ListLocks(context.Background(), "")
			if err != nil {
				return err
			}

			t := style.NewTable(
				style.Column{Name: "PATH", Width: 40},
				style.Column{Name: "OWNER", Width: 18},
				style.Column{Name: "STATUS", Width: 10},
				style.Column{Name: "EXPIRES", Width: 20},
			)
			for _, l := range locks {
				t.AddRow(l.Path, l.Owner, string(l.Status), l.ExpiresAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Print(t.Render())
			return nil
		},
	}
	return cmd
}
