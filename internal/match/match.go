// Package match implements the scoring algorithm that pairs a pending
// prompt with its best eligible session on each dispatcher tick.
package match

import (
	"path/filepath"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

// staleContextThreshold is the idle duration below which a warm session
// earns the scoring bonus for likely still having useful cached context.
const staleContextThreshold = 5 * time.Minute

// LockChecker reports whether path is locked by an owner other than
// candidate, so the matcher can mark that session ineligible.
type LockChecker func(path, candidate string) (lockedByOther bool)

// Pair is a scored (prompt, session) candidate.
type Pair struct {
	Prompt  model.Prompt
	Session model.Session
	Score   int
}

// Best scans prompts in (priority DESC, created_at ASC) order — the order
// they're expected to already be in — and returns the first prompt that has
// an eligible session, paired with that prompt's best-scoring session, or
// ok=false if no pair is eligible this tick. Later prompts are not scored
// once an earlier one has a match.
func Best(prompts []model.Prompt, sessions []model.Session, locked LockChecker) (Pair, bool) {
	for _, p := range prompts {
		eligible := eligibleSessions(p, sessions)
		if len(eligible) == 0 {
			continue
		}
		best, ok := bestSession(p, eligible, locked)
		if ok {
			return Pair{Prompt: p, Session: best.sess, Score: best.score}, true
		}
	}
	return Pair{}, false
}

func eligibleSessions(p model.Prompt, sessions []model.Session) []model.Session {
	if p.TargetSession != "" {
		for _, s := range sessions {
			if s.Name == p.TargetSession && s.Status == model.SessionIdle {
				return []model.Session{s}
			}
		}
		return nil
	}

	var out []model.Session
	for _, s := range sessions {
		if s.Status != model.SessionIdle {
			continue
		}
		if p.TargetProvider != "" && s.Provider != p.TargetProvider {
			continue
		}
		out = append(out, s)
	}
	return out
}

type scored struct {
	sess  model.Session
	score int
}

// bestSession scores every eligible session for p and returns the highest,
// breaking ties by session name (lexically smallest wins, for determinism).
func bestSession(p model.Prompt, candidates []model.Session, locked LockChecker) (scored, bool) {
	var best scored
	found := false

	for _, s := range candidates {
		score, eligible := score(p, s, locked)
		if !eligible {
			continue
		}
		if !found || score > best.score || (score == best.score && s.Name < best.sess.Name) {
			best = scored{sess: s, score: score}
			found = true
		}
	}
	return best, found
}

// score computes a session's fitness for a prompt per the matching
// algorithm: +10 working-dir match, +5 env superset, +3 warm session,
// +1 branch match, ineligible if a required path's lock is held elsewhere.
func score(p model.Prompt, s model.Session, locked LockChecker) (int, bool) {
	if locked != nil {
		for _, req := range requiredPaths(p) {
			if locked(req, s.Name) {
				return 0, false
			}
		}
	}

	total := 0
	if p.Metadata.WorkingDir != "" && canonical(p.Metadata.WorkingDir) == canonical(s.WorkingDir) {
		total += 10
	}
	if envSuperset(s.EnvVars, p.Metadata.EnvVars) {
		total += 5
	}
	if time.Since(s.LastActivity) < staleContextThreshold {
		total += 3
	}
	if p.Metadata.GitBranch != "" && p.Metadata.GitBranch == s.GitBranch {
		total += 1
	}
	return total, true
}

// requiredPaths returns the filesystem paths a prompt's dispatch would need
// to lock: today just its working directory, if set.
func requiredPaths(p model.Prompt) []string {
	if p.Metadata.WorkingDir == "" {
		return nil
	}
	return []string{p.Metadata.WorkingDir}
}

func canonical(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(abs)
}

func envSuperset(have, want map[string]string) bool {
	if len(want) == 0 {
		return false
	}
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
