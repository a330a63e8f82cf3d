package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

// UpsertSession creates or updates a session's observed state, keyed by
// name. On update every other field, provider included, is overwritten with
// the values passed in.
func (s *Store) UpsertSession(ctx context.Context, sess model.Session) error {
	if sess.Name == "" {
		return &model.InvalidInputError{Field: "name", Reason: "must not be empty"}
	}
	envJSON, err := json.Marshal(sess.EnvVars)
	if err != nil {
		return &model.InvalidInputError{Field: "env_vars", Reason: err.Error()}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (name, provider, status, current_task_id, working_dir, git_branch, env_vars, last_output, last_activity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				provider = excluded.provider,
				status = excluded.status,
				current_task_id = excluded.current_task_id,
				working_dir = excluded.working_dir,
				git_branch = excluded.git_branch,
				env_vars = excluded.env_vars,
				last_output = excluded.last_output,
				last_activity = CURRENT_TIMESTAMP`,
			sess.Name, sess.Provider, string(sess.Status), sess.CurrentTaskID,
			sess.WorkingDir, sess.GitBranch, string(envJSON), sess.LastOutput,
		)
		return err
	})
}

// SetSessionStatus updates only the status (and last_activity) of a session,
// leaving its other observed fields untouched. Used by the dispatcher and
// by the reconciler's completion and stuck-session paths.
func (s *Store) SetSessionStatus(ctx context.Context, name string, status model.SessionStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, last_activity = CURRENT_TIMESTAMP WHERE name = ?`,
			string(status), name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{Kind: "session", ID: name}
		}
		return nil
	})
}

// SetSessionTask assigns or clears (taskID == 0) the session's current task.
func (s *Store) SetSessionTask(ctx context.Context, name string, taskID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET current_task_id = ?, last_activity = CURRENT_TIMESTAMP WHERE name = ?`,
			taskID, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{Kind: "session", ID: name}
		}
		return nil
	})
}

// GetSession fetches a single session by name.
func (s *Store) GetSession(ctx context.Context, name string) (*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelectCols+` FROM sessions WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, &model.NotFoundError{Kind: "session", ID: name}
	}
	return &sessions[0], nil
}

// ListSessions returns all known sessions, optionally filtered by status
// (empty matches any).
func (s *Store) ListSessions(ctx context.Context, status model.SessionStatus) ([]model.Session, error) {
	q := sessionSelectCols + ` FROM sessions`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY name ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// DeleteSession removes a session record, used on explicit deregistration.
func (s *Store) DeleteSession(ctx context.Context, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &model.NotFoundError{Kind: "session", ID: name}
		}
		return nil
	})
}

// StaleSessions returns busy sessions whose last_activity predates the
// cutoff. The stuck-session detector does not call it; it reads the registry.
func (s *Store) StaleSessions(ctx context.Context, olderThan time.Duration) ([]model.Session, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, sessionSelectCols+` FROM sessions WHERE status = 'busy' AND last_activity < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

const sessionSelectCols = `SELECT name, provider, status, current_task_id, last_activity, working_dir, git_branch, env_vars, last_output`

func scanSessions(rows *sql.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		var sess model.Session
		var status, envStr string
		var lastActivity time.Time
		if err := rows.Scan(
			&sess.Name, &sess.Provider, &status, &sess.CurrentTaskID,
			&lastActivity, &sess.WorkingDir, &sess.GitBranch, &envStr, &sess.LastOutput,
		); err != nil {
			return nil, err
		}
		sess.Status = model.SessionStatus(status)
		sess.LastActivity = lastActivity
		if err := json.Unmarshal([]byte(envStr), &sess.EnvVars); err != nil {
			return nil, fmt.Errorf("decoding env_vars for session %s: %w", sess.Name, err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
