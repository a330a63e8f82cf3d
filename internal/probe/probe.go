// Package probe wraps tmux subprocess calls to observe and drive the
// terminal-multiplexer panes that host agent sessions.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// shells are pane commands treated as "idle, nothing running" rather than
// an active agent.
var shells = []string{"bash", "zsh", "sh", "fish"}

// Probe wraps tmux operations used to observe and inject into agent panes.
type Probe struct{}

// New creates a Probe.
func New() *Probe { return &Probe{} }

func (p *Probe) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", p.wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (p *Probe) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case strings.Contains(stderr, "no server running"), strings.Contains(stderr, "error connecting to"):
		return ErrNoServer
	case strings.Contains(stderr, "duplicate session"):
		return ErrSessionExists
	case strings.Contains(stderr, "session not found"), strings.Contains(stderr, "can't find session"):
		return ErrSessionNotFound
	}
	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// IsAvailable checks if tmux is installed and can be invoked.
func (p *Probe) IsAvailable() bool {
	return exec.Command("tmux", "-V").Run() == nil
}

// HasSession checks if a session exists (exact match).
func (p *Probe) HasSession(name string) (bool, error) {
	_, err := p.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SendKeys sends keystrokes to a session's pane and presses Enter after a
// debounce delay, so the paste finishes processing before submit.
func (p *Probe) SendKeys(session, keys string, debounceMs int) error {
	if _, err := p.run("send-keys", "-t", session, "-l", keys); err != nil {
		return err
	}
	if debounceMs > 0 {
		time.Sleep(time.Duration(debounceMs) * time.Millisecond)
	}
	_, err := p.run("send-keys", "-t", session, "Enter")
	return err
}

// SendInterrupt sends a Ctrl-C keystroke to a session's pane, used to
// interrupt in-progress work on cancellation rather than waiting for the
// session to go idle on its own. Unlike SendKeys this sends the tmux key
// name "C-c" rather than literal text, and presses no trailing Enter.
func (p *Probe) SendInterrupt(session string) error {
	_, err := p.run("send-keys", "-t", session, "C-c")
	return err
}

// CapturePane captures the last n lines of a pane's visible content.
func (p *Probe) CapturePane(session string, n int) (string, error) {
	return p.run("capture-pane", "-p", "-t", session, "-S", fmt.Sprintf("-%d", n))
}

// CapturePaneLines captures the last n lines of a pane as a slice.
func (p *Probe) CapturePaneLines(session string, n int) ([]string, error) {
	out, err := p.CapturePane(session, n)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// GetPaneCommand returns the current foreground command running in a pane
// ("bash", "node", "claude", etc).
func (p *Probe) GetPaneCommand(session string) (string, error) {
	out, err := p.run("list-panes", "-t", session, "-F", "#{pane_current_command}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GetPaneWorkDir returns the current working directory of a pane.
func (p *Probe) GetPaneWorkDir(session string) (string, error) {
	out, err := p.run("list-panes", "-t", session, "-F", "#{pane_current_path}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsAgentRunning reports whether the session's pane is running something
// other than an idle shell.
func (p *Probe) IsAgentRunning(session string) bool {
	cmd, err := p.GetPaneCommand(session)
	if err != nil {
		return false
	}
	for _, sh := range shells {
		if cmd == sh {
			return false
		}
	}
	return cmd != ""
}

// WaitForRuntimeReady polls until readyPromptPrefix appears at the start of
// a line in the pane, or falls back to a fixed delay if no prefix is
// configured for the provider. Used only during a session's bootstrap; once
// an agent is running, state is derived from quiescence instead (see
// Observe).
func (p *Probe) WaitForRuntimeReady(session, readyPromptPrefix string, fallbackDelay, timeout time.Duration) error {
	if readyPromptPrefix == "" {
		if fallbackDelay <= 0 {
			return nil
		}
		if fallbackDelay > timeout {
			fallbackDelay = timeout
		}
		time.Sleep(fallbackDelay)
		return nil
	}

	deadline := time.Now().Add(timeout)
	prefix := strings.TrimSpace(readyPromptPrefix)
	for time.Now().Before(deadline) {
		lines, err := p.CapturePaneLines(session, 10)
		if err == nil {
			for _, line := range lines {
				trimmed := strings.TrimSpace(line)
				if strings.HasPrefix(trimmed, readyPromptPrefix) || (prefix != "" && trimmed == prefix) {
					return nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for runtime prompt on %s", session)
}

// versionPattern matches Claude Code's pane command when it reports a bare
// version number (e.g. "2.0.76") instead of "claude" or "node".
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)

// IsRuntimeProcess reports whether cmd names one of processNames, or
// matches the bare-version-number pattern some providers report instead.
func IsRuntimeProcess(cmd string, processNames []string) bool {
	for _, name := range processNames {
		if cmd == name {
			return true
		}
	}
	return versionPattern.MatchString(cmd)
}
