// Package reconcile runs the background loops that enforce every invariant
// the dispatcher doesn't enforce synchronously: completion sweep, retry
// driver, stuck-session detector, lock reaper, and terminal-record cleanup.
// Each loop runs at its own cadence and communicates only through the
// store, so races with the dispatcher resolve via ConflictError.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/relaywerks/assigner/internal/config"
	"github.com/relaywerks/assigner/internal/dedup"
	"github.com/relaywerks/assigner/internal/lockmgr"
	"github.com/relaywerks/assigner/internal/model"
	"github.com/relaywerks/assigner/internal/probe"
	"github.com/relaywerks/assigner/internal/queue"
	"github.com/relaywerks/assigner/internal/registry"
	"github.com/relaywerks/assigner/internal/store"
)

// logWriter receives diagnostic lines from loops that have no natural
// prompt to attach an assignment-log entry to.
var logWriter io.Writer = os.Stderr

// Reconciler owns the five background loops.
type Reconciler struct {
	store    *store.Store
	queue    *queue.Queue
	registry *registry.Registry
	locks    *lockmgr.Manager
	probe    *probe.Probe
	cfg      config.Reconciler
	probeCfg config.Probe
	retry    config.Retry
	retain   config.Retention
	sentinel map[string]config.ProviderSentinel
	alerts   *dedup.Manager
}

// New creates a Reconciler wired to its collaborators and configuration.
// alerts may be nil, in which case every loop logs unconditionally on each
// tick rather than deduplicating repeat conditions.
func New(s *store.Store, q *queue.Queue, r *registry.Registry, l *lockmgr.Manager, p *probe.Probe, cfg config.Config, alerts *dedup.Manager) *Reconciler {
	return &Reconciler{
		store: s, queue: q, registry: r, locks: l, probe: p,
		cfg: cfg.Reconciler, probeCfg: cfg.Probe, retry: cfg.Retry, retain: cfg.Retention,
		sentinel: cfg.Sentinels, alerts: alerts,
	}
}

// shouldAlert reports whether slot for session should fire, deduplicating
// against the alert manager when one is configured.
func (r *Reconciler) shouldAlert(session, slot, message string) bool {
	if r.alerts == nil {
		return true
	}
	ok, err := r.alerts.SendIfReady(session, slot, message)
	return err == nil && ok
}

// Recover rolls back state left inconsistent by an unclean process exit.
// Called once at daemon startup, before the dispatcher or any reconcile
// loop runs: any prompt still `assigned` has no in-flight dispatcher
// goroutine behind it in this new process, so it's returned to `pending`
// via the normal conditional transition rather than left stranded. Any
// lock still active was necessarily acquired by a now-dead process (it
// predates this process's startedAt), so its holder can't still be
// running — it is force-released so the path isn't wedged until its TTL
// expires on its own.
func Recover(ctx context.Context, s *store.Store, l *lockmgr.Manager, startedAt time.Time) (reassigned, locksReleased int, err error) {
	stale, err := s.ListPrompts(ctx, model.StatusAssigned, 10000, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("listing assigned prompts: %w", err)
	}
	for _, p := range stale {
		errMsg := "recovered: process restarted mid-dispatch"
		if txErr := s.Transition(ctx, p.ID, []model.PromptStatus{model.StatusAssigned}, model.StatusPending,
			store.TransitionFields{Error: &errMsg}); txErr == nil {
			reassigned++
			_ = s.LogAssignment(ctx, model.AssignmentRecord{PromptID: p.ID, SessionName: p.AssignedSession, Action: model.ActionRequeued, Details: errMsg})
		}
	}

	locks, err := l.List(ctx, model.LockActive)
	if err != nil {
		return reassigned, 0, fmt.Errorf("listing active locks: %w", err)
	}
	for _, lock := range locks {
		if lock.CreatedAt.After(startedAt) {
			continue // acquired by this same process, e.g. a fast restart racing Recover
		}
		if err := l.Release(ctx, lock.ID, lock.Owner); err == nil {
			locksReleased++
		}
	}
	return reassigned, locksReleased, nil
}

// Run starts all five loops and blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	loops := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"completion-sweep", ms(r.cfg.CompletionSweepMs, 2000), r.completionSweep},
		{"retry-driver", ms(r.cfg.RetryDriverMs, 10000), r.retryDriver},
		{"stuck-detector", ms(r.cfg.StuckDetectorMs, 30000), r.stuckDetector},
		{"lock-reaper", ms(r.cfg.LockReaperMs, 60000), r.lockReaper},
		{"cleanup", ms(r.cfg.CleanupMs, 3600000), r.cleanup},
	}

	for _, loop := range loops {
		go runLoop(ctx, loop.interval, loop.fn)
	}
	<-ctx.Done()
}

func runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func ms(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

// completionSweep compares each busy session's observed pane tail against
// its provider's success/failure sentinels, and fails any in_progress
// prompt that has outrun its timeout.
func (r *Reconciler) completionSweep(ctx context.Context) {
	for _, sess := range r.registry.ByStatus(model.SessionBusy) {
		if sess.CurrentTaskID == 0 {
			continue
		}
		p, err := r.store.GetPrompt(ctx, sess.CurrentTaskID)
		if err != nil || p.Status != model.StatusInProgress {
			continue
		}

		obs, err := r.probe.Observe(sess.Name, time.Duration(r.probeCfg.QuiescenceMs)*time.Millisecond, r.probeCfg.CaptureLines)
		if err != nil {
			continue
		}

		sent := r.sentinel[sess.Provider]
		switch {
		case p.CancelRequested && obs.Status == model.SessionIdle:
			r.complete(ctx, p, sess, model.StatusCancelled, "", "cancelled")
		case p.CancelRequested:
			// Still running: interrupt the pane instead of waiting for it
			// to go idle on its own. Best-effort and idempotent — a later
			// tick retries if the session hasn't quieted down yet.
			_ = r.probe.SendInterrupt(sess.Name)
		case sent.SuccessPattern != "" && matches(sent.SuccessPattern, obs.LastOutput):
			r.complete(ctx, p, sess, model.StatusCompleted, obs.LastOutput, "")
		case sent.FailurePattern != "" && matches(sent.FailurePattern, obs.LastOutput):
			r.complete(ctx, p, sess, model.StatusFailed, "", "provider reported failure")
		case time.Since(p.AssignedAt) > time.Duration(p.TimeoutMinutes)*time.Minute:
			r.complete(ctx, p, sess, model.StatusFailed, "", "timeout")
		}
	}
}

func matches(pattern, text string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// complete transitions an in_progress prompt to a terminal state, clears
// the session's claim, and releases any locks it held.
func (r *Reconciler) complete(ctx context.Context, p *model.Prompt, sess model.Session, to model.PromptStatus, response, errMsg string) {
	fields := store.TransitionFields{}
	if response != "" {
		fields.Response = &response
	}
	if errMsg != "" {
		fields.Error = &errMsg
	}
	if err := r.store.Transition(ctx, p.ID, []model.PromptStatus{model.StatusInProgress}, to, fields); err != nil {
		return // lost the race to the dispatcher or another reconciler tick
	}
	r.releaseAndClear(ctx, p, sess, to == model.StatusCompleted)
}

func (r *Reconciler) releaseAndClear(ctx context.Context, p *model.Prompt, sess model.Session, succeeded bool) {
	_ = r.store.SetSessionTask(ctx, sess.Name, 0)
	_ = r.store.SetSessionStatus(ctx, sess.Name, model.SessionIdle)
	r.registry.Put(model.Session{Name: sess.Name, Provider: sess.Provider, Status: model.SessionIdle, LastActivity: time.Now()})
	if r.alerts != nil {
		_ = r.alerts.MarkSessionActive(sess.Name)
	}

	locks, err := r.locks.List(ctx, model.LockActive)
	if err == nil {
		for _, l := range locks {
			if l.Owner == sess.Name {
				_ = r.locks.Release(ctx, l.ID, sess.Name)
			}
		}
	}

	action := model.ActionCompleted
	if !succeeded {
		action = model.ActionFailed
	}
	_ = r.store.LogAssignment(ctx, model.AssignmentRecord{PromptID: p.ID, SessionName: sess.Name, Action: action})
}

// retryDriver requeues failed prompts whose backoff deadline has elapsed
// and whose retry_count is still below max_retries.
func (r *Reconciler) retryDriver(ctx context.Context) {
	failed, err := r.store.ListPrompts(ctx, model.StatusFailed, 256, 0)
	if err != nil {
		return
	}
	for _, p := range failed {
		if p.RetryCount >= p.MaxRetries {
			continue
		}
		delay := r.queue.RetryDelay(p.RetryCount, p.TimeoutMinutes)
		if time.Since(p.CompletedAt) < delay {
			continue
		}
		_ = r.queue.Requeue(ctx, p.ID)
	}
}

// stuckDetector force-fails the current prompt of any session that has
// been busy longer than its prompt's timeout with no observed output
// change.
func (r *Reconciler) stuckDetector(ctx context.Context) {
	for _, sess := range r.registry.ByStatus(model.SessionBusy) {
		if sess.CurrentTaskID == 0 {
			continue
		}
		p, err := r.store.GetPrompt(ctx, sess.CurrentTaskID)
		if err != nil || p.Status != model.StatusInProgress {
			continue
		}
		timeout := time.Duration(p.TimeoutMinutes) * time.Minute
		if time.Since(p.AssignedAt) <= timeout {
			continue
		}

		obs, err := r.probe.Observe(sess.Name, time.Duration(r.probeCfg.QuiescenceMs)*time.Millisecond, r.probeCfg.CaptureLines)
		if err != nil || obs.Status != model.SessionIdle {
			continue // output is still changing, or we can't tell — not stuck
		}

		errMsg := fmt.Sprintf("session %s stuck (no output change for %s)", sess.Name, timeout)
		if !r.shouldAlert(sess.Name, dedup.SlotStuck, errMsg) {
			continue // already raised and not yet acknowledged
		}
		if err := r.store.Transition(ctx, p.ID, []model.PromptStatus{model.StatusInProgress}, model.StatusFailed,
			store.TransitionFields{Error: &errMsg}); err != nil {
			continue
		}
		_ = r.store.SetSessionTask(ctx, sess.Name, 0)
		_ = r.store.SetSessionStatus(ctx, sess.Name, model.SessionUnknown)
		r.registry.Put(model.Session{Name: sess.Name, Provider: sess.Provider, Status: model.SessionUnknown})
		_ = r.store.LogAssignment(ctx, model.AssignmentRecord{PromptID: p.ID, SessionName: sess.Name, Action: model.ActionFailed, Details: "stuck"})
	}
}

// lockReaper expires locks past their TTL.
func (r *Reconciler) lockReaper(ctx context.Context) {
	freed, err := r.locks.Reap(ctx)
	if err != nil {
		return
	}
	for _, l := range freed {
		msg := fmt.Sprintf("lock reaper: expired %s on %s (owner %s)", l.ID, l.Path, l.Owner)
		if r.shouldAlert(l.Owner, dedup.SlotLockExpired, msg) {
			fmt.Fprintln(logWriter, msg)
		}
	}
}

// cleanup removes assignment log entries and terminal prompts older than
// the configured retention.
func (r *Reconciler) cleanup(ctx context.Context) {
	_, _ = r.store.CleanupTerminal(ctx, time.Duration(r.retain.Days)*24*time.Hour)
}
