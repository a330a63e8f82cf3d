package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/store"
)

func newSubmitCmd() *cobra.Command {
	var (
		priority       int
		targetSession  string
		targetProvider string
		maxRetries     int
		timeoutMinutes int
		workingDir     string
		gitBranch      string
		envVars        []string
		prereqs        []string
		source         string
	)

	cmd := &cobra.Command{
		Use:   "submit <content>",
		Short: "Submit a prompt for dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(resolveDBPath())
			if err != nil {
				return err
			}
			defer s.Close()

			env := map[string]string{}
			for _, kv := range envVars {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
				}
				env[parts[0]] = parts[1]
			}

			p := model.Prompt{
				Content:        args[0],
				Priority:       priority,
				Source:         source,
				TargetSession:  targetSession,
				TargetProvider: targetProvider,
				MaxRetries:     maxRetries,
				TimeoutMinutes: timeoutMinutes,
				Metadata: model.Metadata{
					WorkingDir:    workingDir,
					GitBranch:     gitBranch,
					EnvVars:       env,
					Prerequisites: prereqs,
				},
			}
			id, err := s.Enqueue(context.Background(), p)
			if err != nil {
				return err
			}
			fmt.Printf("submitted prompt #%d\n", id)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, fmt.Sprintf("higher dispatches first (%d..%d)", store.MinPriority, store.MaxPriority))
	cmd.Flags().StringVar(&targetSession, "session", "", "pin to this exact session name")
	cmd.Flags().StringVar(&targetProvider, "provider", "", "restrict to sessions of this provider")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "retries allowed before the prompt stays failed")
	cmd.Flags().IntVar(&timeoutMinutes, "timeout", 30, "minutes before an in-progress prompt is considered stuck")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "required working directory")
	cmd.Flags().StringVar(&gitBranch, "branch", "", "required git branch")
	cmd.Flags().StringArrayVar(&envVars, "env", nil, "required env var, KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&prereqs, "prereq", nil, "shell command to run before delivery (repeatable)")
	cmd.Flags().StringVar(&source, "source", "", "free-form origin tag")
	return cmd
}
