package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/config"
)

var (
	stateDir   string
	dbPath     string
	configPath string
)

func newRootCmd() *cobra.Command {
	home, _ := os.UserHomeDir()
	defaultState := filepath.Join(home, ".assigner")

	root := &cobra.Command{
		Use:           "asgn",
		Short:         "Distributed prompt-to-session dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&stateDir, "state-dir", defaultState, "directory holding the daemon's database and lifecycle files")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "path to the assigner database (defaults to <state-dir>/assigner.db)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to assigner.toml (defaults to <state-dir>/assigner.toml)")

	root.AddCommand(
		newSubmitCmd(),
		newGetCmd(),
		newCancelCmd(),
		newRetryCmd(),
		newListCmd(),
		newStatsCmd(),
		newSessionCmd(),
		newDaemonCmd(),
	)
	return root
}

func resolveDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return filepath.Join(stateDir, "assigner.db")
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(stateDir, "assigner.toml")
}

func loadConfig() (config.Config, error) {
	return config.Load(resolveConfigPath())
}
