package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

// Priority bounds enforced by Enqueue: higher dispatches first, within
// this implementation-defined range.
const (
	MinPriority = -10
	MaxPriority = 10
)

// ClaimFilter narrows claim_next to prompts a particular caller may take.
type ClaimFilter struct {
	// SessionName restricts the claim to prompts pinned to this exact
	// session name (target_session), or with no pin at all, depending on
	// Pinned below.
	SessionName string
	// Pinned, when true, only matches prompts whose target_session equals
	// SessionName. When false, only matches prompts with no target_session.
	Pinned bool
	// Provider restricts unpinned prompts to this target_provider, or any
	// provider when empty.
	Provider string
	// ScanLimit bounds how many pending candidates are considered.
	ScanLimit int
}

// Enqueue inserts a new prompt in the pending state.
func (s *Store) Enqueue(ctx context.Context, p model.Prompt) (int64, error) {
	if p.Content == "" {
		return 0, &model.InvalidInputError{Field: "content", Reason: "must not be empty"}
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return 0, &model.InvalidInputError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", MinPriority, MaxPriority)}
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.TimeoutMinutes < 1 {
		p.TimeoutMinutes = 1
	}

	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return 0, &model.InvalidInputError{Field: "metadata", Reason: err.Error()}
	}

	var id int64
	err = retryWithBackoff(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO prompts
				(content, priority, source, target_session, target_provider,
				 max_retries, timeout_minutes, metadata, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
			p.Content, p.Priority, p.Source, p.TargetSession, p.TargetProvider,
			p.MaxRetries, p.TimeoutMinutes, string(metaJSON),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ClaimNext atomically selects the highest-priority pending prompt matching
// filter and transitions it to assigned. Ties break on (priority DESC,
// created_at ASC, id ASC). Returns (nil, nil) if nothing matches.
func (s *Store) ClaimNext(ctx context.Context, session string, filter ClaimFilter) (*model.Prompt, error) {
	limit := filter.ScanLimit
	if limit <= 0 {
		limit = 256
	}

	var claimed *model.Prompt
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT id, content, priority, source, target_session, target_provider,
			       max_retries, timeout_minutes, metadata, status, retry_count,
			       assigned_session, error, response, cancel_requested,
			       created_at, assigned_at, completed_at
			FROM prompts
			WHERE status = 'pending'`
		args := []any{}
		if filter.Pinned {
			query += ` AND target_session = ?`
			args = append(args, filter.SessionName)
		} else {
			query += ` AND (target_session = '' OR target_session IS NULL)`
			if filter.Provider != "" {
				query += ` AND (target_provider = '' OR target_provider = ?)`
				args = append(args, filter.Provider)
			}
		}
		query += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT ?`
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		candidates, err := scanPrompts(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		p := candidates[0]

		res, err := tx.ExecContext(ctx, `
			UPDATE prompts
			SET status = 'assigned', assigned_session = ?, assigned_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'pending'`,
			session, p.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Another claimer won the race between SELECT and UPDATE.
			return &model.ConflictError{Kind: "prompt", ID: fmt.Sprint(p.ID), Expected: "pending", Actual: "taken"}
		}
		p.Status = model.StatusAssigned
		p.AssignedSession = session
		p.AssignedAt = time.Now()
		claimed = &p
		return nil
	})
	if err != nil {
		var conflict *model.ConflictError
		if errors.As(err, &conflict) {
			// Caller re-reads on the next tick; not an error condition.
			return nil, nil
		}
		return nil, err
	}
	return claimed, nil
}

// Transition conditionally updates a prompt's status, failing with
// ConflictError if the current status is not in from.
func (s *Store) Transition(ctx context.Context, id int64, from []model.PromptStatus, to model.PromptStatus, fields TransitionFields) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM prompts WHERE id = ?`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return &model.NotFoundError{Kind: "prompt", ID: fmt.Sprint(id)}
			}
			return err
		}
		if !statusIn(model.PromptStatus(current), from) {
			return &model.ConflictError{Kind: "prompt", ID: fmt.Sprint(id), Expected: joinStatuses(from), Actual: current}
		}

		set := []string{"status = ?"}
		args := []any{string(to)}
		if fields.AssignedSession != nil {
			set = append(set, "assigned_session = ?")
			args = append(args, *fields.AssignedSession)
		}
		if fields.RetryCountDelta != 0 {
			set = append(set, "retry_count = retry_count + ?")
			args = append(args, fields.RetryCountDelta)
		}
		if fields.Error != nil {
			set = append(set, "error = ?")
			args = append(args, *fields.Error)
		}
		if fields.Response != nil {
			set = append(set, "response = ?")
			args = append(args, *fields.Response)
		}
		if fields.CancelRequested != nil {
			set = append(set, "cancel_requested = ?")
			v := 0
			if *fields.CancelRequested {
				v = 1
			}
			args = append(args, v)
		}
		switch to {
		case model.StatusInProgress:
			// assigned_at already set at claim time; nothing extra.
		case model.StatusCompleted, model.StatusFailed, model.StatusCancelled:
			set = append(set, "completed_at = CURRENT_TIMESTAMP")
		case model.StatusPending:
			set = append(set, "assigned_session = ''", "assigned_at = NULL")
		}

		q := "UPDATE prompts SET " + joinSet(set) + " WHERE id = ?"
		args = append(args, id)
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

// TransitionFields carries optional field updates applied alongside a status
// transition. A nil pointer leaves the corresponding column untouched.
type TransitionFields struct {
	AssignedSession *string
	RetryCountDelta int
	Error           *string
	Response        *string
	CancelRequested *bool
}

// GetPrompt fetches a single prompt by id.
func (s *Store) GetPrompt(ctx context.Context, id int64) (*model.Prompt, error) {
	rows, err := s.db.QueryContext(ctx, promptSelectCols+` FROM prompts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prompts, err := scanPrompts(rows)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, &model.NotFoundError{Kind: "prompt", ID: fmt.Sprint(id)}
	}
	return &prompts[0], nil
}

// ListPending returns up to limit pending prompts in dispatch order.
func (s *Store) ListPending(ctx context.Context, limit int) ([]model.Prompt, error) {
	return s.listByStatus(ctx, model.StatusPending, limit, 0)
}

// ListPrompts returns prompts filtered by status (empty = any), paginated.
func (s *Store) ListPrompts(ctx context.Context, status model.PromptStatus, limit, offset int) ([]model.Prompt, error) {
	return s.listByStatus(ctx, status, limit, offset)
}

func (s *Store) listByStatus(ctx context.Context, status model.PromptStatus, limit, offset int) ([]model.Prompt, error) {
	q := promptSelectCols + ` FROM prompts`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// ListBySession returns prompts with a non-terminal claim on the given
// session, used by deregistration.
func (s *Store) ListBySession(ctx context.Context, session string) ([]model.Prompt, error) {
	rows, err := s.db.QueryContext(ctx, promptSelectCols+`
		FROM prompts WHERE assigned_session = ? AND status IN ('assigned', 'in_progress')`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPrompts(rows)
}

// Stats summarizes prompt counts by status.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM prompts GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		switch model.PromptStatus(status) {
		case model.StatusPending:
			st.Pending = n
		case model.StatusAssigned:
			st.Assigned = n
		case model.StatusInProgress:
			st.InProgress = n
		case model.StatusFailed:
			st.Failed = n
		case model.StatusCompleted:
			st.Completed = n
		case model.StatusCancelled:
			st.Cancelled = n
		}
	}

	st.SessionsByStatus = make(map[model.SessionStatus]int)
	srows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer srows.Close()
	for srows.Next() {
		var status string
		var n int
		if err := srows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.SessionsByStatus[model.SessionStatus(status)] = n
	}
	return st, nil
}

// CleanupTerminal removes assignment log entries and terminal prompts older
// than olderThan.
func (s *Store) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM assignments WHERE prompt_id IN (
				SELECT id FROM prompts
				WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
			)`, cutoff)
		if err != nil {
			return err
		}
		res2, err := tx.ExecContext(ctx, `
			DELETE FROM prompts
			WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res2.RowsAffected()
		_, _ = res.RowsAffected()
		return err
	})
	return n, err
}

const promptSelectCols = `SELECT id, content, priority, source, target_session, target_provider,
	max_retries, timeout_minutes, metadata, status, retry_count,
	assigned_session, error, response, cancel_requested,
	created_at, assigned_at, completed_at`

func scanPrompts(rows *sql.Rows) ([]model.Prompt, error) {
	var out []model.Prompt
	for rows.Next() {
		var p model.Prompt
		var metaStr, status string
		var assignedAt, completedAt sql.NullTime
		var cancelRequested int
		if err := rows.Scan(
			&p.ID, &p.Content, &p.Priority, &p.Source, &p.TargetSession, &p.TargetProvider,
			&p.MaxRetries, &p.TimeoutMinutes, &metaStr, &status, &p.RetryCount,
			&p.AssignedSession, &p.Error, &p.Response, &cancelRequested,
			&p.CreatedAt, &assignedAt, &completedAt,
		); err != nil {
			return nil, err
		}
		p.Status = model.PromptStatus(status)
		p.CancelRequested = cancelRequested != 0
		if assignedAt.Valid {
			p.AssignedAt = assignedAt.Time
		}
		if completedAt.Valid {
			p.CompletedAt = completedAt.Time
		}
		if err := json.Unmarshal([]byte(metaStr), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for prompt %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func statusIn(s model.PromptStatus, set []model.PromptStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

func joinStatuses(set []model.PromptStatus) string {
	s := ""
	for i, x := range set {
		if i > 0 {
			s += "|"
		}
		s += string(x)
	}
	return s
}

func joinSet(cols []string) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryWithBackoff(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
