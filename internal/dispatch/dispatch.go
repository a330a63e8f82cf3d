// Package dispatch executes one matched (prompt, session) pair through the
// seven-step sequence: claim, lock, prepare, validate, claim session,
// deliver, log. On any failure the prompt returns to pending.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywerks/assigner/internal/config"
	"github.com/relaywerks/assigner/internal/lockmgr"
	"github.com/relaywerks/assigner/internal/match"
	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/probe"
	"github.com/relaywerks/assigner/internal/queue"
	"github.com/relaywerks/assigner/internal/registry"
	"github.com/relaywerks/assigner/internal/store"
)

const lockGrace = 10 * time.Minute

// Dispatcher runs a bounded pool of workers that each repeatedly pick the
// current best (prompt, session) pair and drive it through dispatch.
type Dispatcher struct {
	store    *store.Store
	queue    *queue.Queue
	registry *registry.Registry
	locks    *lockmgr.Manager
	probe    *probe.Probe
	cfg      config.Dispatcher
	probeCfg config.Probe
}

// New creates a Dispatcher wired to the given collaborators.
func New(s *store.Store, q *queue.Queue, r *registry.Registry, l *lockmgr.Manager, p *probe.Probe, cfg config.Dispatcher, probeCfg config.Probe) *Dispatcher {
	return &Dispatcher{store: s, queue: q, registry: r, locks: l, probe: p, cfg: cfg, probeCfg: probeCfg}
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			d.workerLoop(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.PollInterval) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs a single dispatch attempt if a pair is currently available.
// Returning without a match is not an error: idempotent dispatch requires
// that an empty store leave state unchanged.
func (d *Dispatcher) tick(ctx context.Context) {
	limit := d.cfg.ClaimScanSize
	if limit <= 0 {
		limit = 256
	}
	prompts, err := d.queue.Peek(ctx, limit)
	if err != nil || len(prompts) == 0 {
		return
	}

	locked := func(path, candidate string) bool {
		locks, err := d.locks.List(ctx, model.LockActive)
		if err != nil {
			return false
		}
		now := time.Now()
		for _, l := range locks {
			if l.Path == path && l.Active(now) && l.Owner != candidate {
				return true
			}
		}
		return false
	}

	pair, ok := match.Best(prompts, d.registry.Idle(), locked)
	if !ok {
		return
	}

	// A ConflictError here just means another worker or process won the
	// race for this prompt; any other failure has already been recorded to
	// the assignment log by dispatch itself.
	_ = d.dispatch(ctx, pair.Prompt, pair.Session.Name)
}

// dispatch runs the seven-step sequence for one pair.
func (d *Dispatcher) dispatch(ctx context.Context, p model.Prompt, session string) error {
	// 1. Claim: pending -> assigned.
	assignedSession := session
	if err := d.store.Transition(ctx, p.ID,
		[]model.PromptStatus{model.StatusPending}, model.StatusAssigned,
		store.TransitionFields{AssignedSession: &assignedSession}); err != nil {
		return err
	}
	logAssignment(ctx, d.store, p.ID, session, model.ActionAssigned, "")

	// 2. Acquire required locks.
	ttl := time.Duration(p.TimeoutMinutes)*time.Minute + lockGrace
	var acquired []model.Lock
	for _, path := range requiredPaths(p) {
		lock, err := d.locks.AcquireTTL(ctx, path, session, ttl)
		if err != nil {
			// Lock contention isn't a dispatch-attempt failure: another
			// holder will release it, so don't burn a retry on the prompt.
			d.abort(ctx, p.ID, session, false, fmt.Sprintf("lock busy on %s: %v", path, err))
			return err
		}
		acquired = append(acquired, *lock)
	}
	release := func() {
		for _, l := range acquired {
			_ = d.locks.Release(ctx, l.ID, session)
		}
	}

	// 3. Prepare context: observe, then inject preparation keystrokes.
	obs, err := d.probe.Observe(session, time.Duration(d.probeCfg.QuiescenceMs)*time.Millisecond, d.probeCfg.CaptureLines)
	if err != nil {
		release()
		d.abort(ctx, p.ID, session, true, fmt.Sprintf("observe failed: %v", err))
		return err
	}
	if p.Metadata.WorkingDir != "" && obs.WorkingDir != p.Metadata.WorkingDir {
		if err := d.probe.SendKeys(session, "cd "+p.Metadata.WorkingDir, d.probeCfg.DebounceMs); err != nil {
			release()
			d.abort(ctx, p.ID, session, true, fmt.Sprintf("prepare failed: %v", err))
			return err
		}
	}
	for k, v := range p.Metadata.EnvVars {
		if err := d.probe.SendKeys(session, fmt.Sprintf("export %s=%s", k, v), d.probeCfg.DebounceMs); err != nil {
			release()
			d.abort(ctx, p.ID, session, true, fmt.Sprintf("prepare failed: %v", err))
			return err
		}
	}
	for _, cmd := range p.Metadata.Prerequisites {
		if err := d.probe.SendKeys(session, cmd, d.probeCfg.DebounceMs); err != nil {
			release()
			d.abort(ctx, p.ID, session, true, fmt.Sprintf("prerequisite failed: %v", err))
			return err
		}
	}
	if err := d.probe.SendKeys(session, probe.ContextProbeCommand, d.probeCfg.DebounceMs); err != nil {
		release()
		d.abort(ctx, p.ID, session, true, fmt.Sprintf("context probe failed: %v", err))
		return err
	}

	// 4. Validate context.
	tail, err := d.probe.CapturePane(session, d.probeCfg.CaptureLines)
	if err != nil {
		release()
		d.abort(ctx, p.ID, session, true, fmt.Sprintf("validate failed: %v", err))
		return err
	}
	gotDir, gotBranch := probe.ExtractContext(tail)
	if (p.Metadata.WorkingDir != "" && gotDir != "" && gotDir != p.Metadata.WorkingDir) ||
		(p.Metadata.GitBranch != "" && gotBranch != "" && gotBranch != p.Metadata.GitBranch) {
		release()
		mismatch := &model.ContextMismatchError{
			PromptID: p.ID, Session: session,
			Want: p.Metadata.WorkingDir, Got: gotDir,
		}
		d.abort(ctx, p.ID, session, true, mismatch.Error())
		return mismatch
	}

	// 5. Claim the session.
	d.registry.Put(model.Session{Name: session, Status: model.SessionBusy, CurrentTaskID: p.ID, LastActivity: time.Now()})
	if err := d.store.SetSessionTask(ctx, session, p.ID); err != nil {
		release()
		return err
	}
	if err := d.store.SetSessionStatus(ctx, session, model.SessionBusy); err != nil {
		release()
		return err
	}

	// 6. Transition to in_progress and deliver.
	if err := d.store.Transition(ctx, p.ID,
		[]model.PromptStatus{model.StatusAssigned}, model.StatusInProgress, store.TransitionFields{}); err != nil {
		release()
		return err
	}
	if err := d.probe.SendKeys(session, p.Content, d.probeCfg.DebounceMs); err != nil {
		return err
	}

	// 7. Log delivery.
	logAssignment(ctx, d.store, p.ID, session, model.ActionStarted, "")
	return nil
}

// abort releases the prompt back to pending with an explanatory error and
// logs a requeued entry with reason. countRetry distinguishes lock
// contention (another holder will eventually release; not the prompt's
// fault) from genuine dispatch-attempt failures, which burn a retry.
func (d *Dispatcher) abort(ctx context.Context, promptID int64, session string, countRetry bool, detail string) {
	errMsg := detail
	fields := store.TransitionFields{Error: &errMsg}
	if countRetry {
		fields.RetryCountDelta = 1
	}
	_ = d.store.Transition(ctx, promptID,
		[]model.PromptStatus{model.StatusAssigned}, model.StatusPending, fields)
	logAssignment(ctx, d.store, promptID, session, model.ActionRequeued, detail)
}

func requiredPaths(p model.Prompt) []string {
	if p.Metadata.WorkingDir == "" {
		return nil
	}
	return []string{p.Metadata.WorkingDir}
}

func logAssignment(ctx context.Context, s *store.Store, promptID int64, session string, action model.AssignmentAction, details string) {
	_ = s.LogAssignment(ctx, model.AssignmentRecord{
		PromptID: promptID, SessionName: session, Action: action, Details: details,
	})
}
