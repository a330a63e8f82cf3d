package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaywerks/assigner/internal/daemon"
	"github.com/relaywerks/assigner/internal/style"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the dispatcher/reconciler background process",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonStatusCmd(), newDaemonRunCmd(), newDaemonLogsCmd())
	return cmd
}

func daemonConfig() daemon.Config {
	cfg := daemon.DefaultConfig(stateDir)
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := daemonConfig()
			running, pid, err := daemon.IsRunning(cfg)
			if err != nil {
				return err
			}
			if running {
				fmt.Printf("daemon already running (pid %d)\n", pid)
				return nil
			}

			self, err := os.Executable()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(cfg.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer logFile.Close()

			proc := exec.Command(self, "daemon", "run", "--state-dir", stateDir)
			proc.Stdout = logFile
			proc.Stderr = logFile
			if err := proc.Start(); err != nil {
				return fmt.Errorf("starting daemon: %w", err)
			}
			if err := proc.Process.Release(); err != nil {
				return err
			}
			fmt.Printf("daemon started (pid %d)\n", proc.Process.Pid)
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopDaemon(daemonConfig()); err != nil {
				return err
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := daemonConfig()
			running, pid, err := daemon.IsRunning(cfg)
			if err != nil {
				return err
			}
			if !running {
				fmt.Println(style.Dim.Render("daemon not running"))
				return nil
			}
			fmt.Printf("%s (pid %d)\n", style.Good.Render("running"), pid)

			state, err := daemon.LoadState(cfg)
			if err == nil {
				fmt.Printf("  started:        %s\n", state.StartedAt.Format(time.RFC3339))
				fmt.Printf("  last heartbeat: %s\n", state.LastHeartbeat.Format(time.RFC3339))
				fmt.Printf("  heartbeats:     %d\n", state.HeartbeatCount)
			}
			return nil
		},
	}
}

func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground (used internally by `daemon start`)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := daemonConfig()
			settings, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Settings = settings

			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			return d.Run()
		},
	}
}

func newDaemonLogsCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon's log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(daemonConfig().LogFile())
			if err != nil {
				return err
			}
			lines := splitLines(string(data))
			if tail > 0 && len(lines) > tail {
				lines = lines[len(lines)-tail:]
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 100, "number of trailing lines to show")
	return cmd
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
