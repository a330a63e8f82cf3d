package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/relaywerks/assigner/internal/model"
)

// LogAssignment appends one audit-log entry. The assignments table is
// append-only; nothing in this package ever updates or deletes a row except
// CleanupTerminal's retention sweep.
func (s *Store) LogAssignment(ctx context.Context, rec model.AssignmentRecord) error {
	if rec.PromptID == 0 {
		return &model.InvalidInputError{Field: "prompt_id", Reason: "must be set"}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO assignments (prompt_id, session_name, action, details)
			VALUES (?, ?, ?, ?)`,
			rec.PromptID, rec.SessionName, string(rec.Action), rec.Details,
		)
		return err
	})
}

// History returns the assignment log for one prompt, oldest first.
func (s *Store) History(ctx context.Context, promptID int64) ([]model.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt_id, session_name, action, timestamp, details
		FROM assignments WHERE prompt_id = ? ORDER BY id ASC`, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// HistoryBySession returns the assignment log across every prompt a
// session has touched, oldest first, capped at limit (0 means unbounded).
func (s *Store) HistoryBySession(ctx context.Context, session string, limit int) ([]model.AssignmentRecord, error) {
	q := `SELECT id, prompt_id, session_name, action, timestamp, details
		FROM assignments WHERE session_name = ? ORDER BY id ASC`
	args := []any{session}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func scanAssignments(rows *sql.Rows) ([]model.AssignmentRecord, error) {
	var out []model.AssignmentRecord
	for rows.Next() {
		var rec model.AssignmentRecord
		var action string
		var ts time.Time
		if err := rows.Scan(&rec.ID, &rec.PromptID, &rec.SessionName, &action, &ts, &rec.Details); err != nil {
			return nil, err
		}
		rec.Action = model.AssignmentAction(action)
		rec.Timestamp = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}
