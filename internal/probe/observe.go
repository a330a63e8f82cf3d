package probe

import (
	"strings"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

// Observation is a snapshot of a session's health and context as derived
// from its tmux pane, independent of any store state.
type Observation struct {
	Status     model.SessionStatus
	WorkingDir string
	LastOutput string
}

// Observe derives idle/busy/offline/unknown for session by comparing two
// pane snapshots taken quiescence apart, then confirming the pane's
// foreground command is a bare shell rather than an agent or other
// long-running process that just happens to be quiet. Unchanged output
// over a quiescence window is necessary but not sufficient for idle: a
// command blocked on a sleep or a hung network call produces no output
// either, so idle additionally requires the pane to have returned to a
// recognizable shell prompt. A missing tmux session is offline; a capture
// failure of a session that does exist is unknown.
func (p *Probe) Observe(session string, quiescence time.Duration, captureLines int) (Observation, error) {
	exists, err := p.HasSession(session)
	if err != nil {
		return Observation{Status: model.SessionUnknown}, err
	}
	if !exists {
		return Observation{Status: model.SessionOffline}, nil
	}

	before, err := p.CapturePane(session, captureLines)
	if err != nil {
		return Observation{Status: model.SessionUnknown}, nil
	}
	time.Sleep(quiescence)
	after, err := p.CapturePane(session, captureLines)
	if err != nil {
		return Observation{Status: model.SessionUnknown}, nil
	}

	workDir, _ := p.GetPaneWorkDir(session)
	obs := Observation{WorkingDir: workDir, LastOutput: after}
	switch {
	case before != after:
		obs.Status = model.SessionBusy
	case p.IsAgentRunning(session):
		// Quiet pane, but the foreground command isn't a shell — still
		// mid-task (e.g. blocked on I/O), not idle.
		obs.Status = model.SessionBusy
	default:
		obs.Status = model.SessionIdle
	}
	return obs, nil
}

// ExtractContext pulls the working directory and git branch out of a
// sentinel-delimited block that ContextProbeCommand echoes into the pane,
// e.g.:
//
//	---ASGN-CONTEXT---
//	pwd: /home/user/project
//	branch: main
//	---END-ASGN-CONTEXT---
//
// Returns zero values for anything not found rather than an error, since
// the block may be missing or cut off in the captured pane tail.
func ExtractContext(output string) (workDir, branch string) {
	const start = "---ASGN-CONTEXT---"
	const end = "---END-ASGN-CONTEXT---"

	s := strings.Index(output, start)
	if s < 0 {
		return "", ""
	}
	e := strings.Index(output[s:], end)
	if e < 0 {
		return "", ""
	}
	block := output[s+len(start) : s+e]

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "pwd:"):
			workDir = strings.TrimSpace(strings.TrimPrefix(line, "pwd:"))
		case strings.HasPrefix(line, "branch:"):
			branch = strings.TrimSpace(strings.TrimPrefix(line, "branch:"))
		}
	}
	return workDir, branch
}

// ContextProbeCommand is the shell snippet the dispatcher sends to a session
// during preparation, before the prompt itself is delivered, to make the
// session echo its working directory and branch back into the pane so the
// dispatcher can validate context before delivery.
const ContextProbeCommand = `echo "---ASGN-CONTEXT---"; echo "pwd: $(pwd)"; echo "branch: $(git rev-parse --abbrev-ref HEAD 2>/dev/null)"; echo "---END-ASGN-CONTEXT---"`
