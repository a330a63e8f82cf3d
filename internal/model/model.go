// Package model defines the core entities of the prompt dispatcher: prompts,
// sessions, assignment records, and directory locks.
package model

import "time"

// PromptStatus is the lifecycle state of a Prompt.
type PromptStatus string

const (
	StatusPending    PromptStatus = "pending"
	StatusAssigned   PromptStatus = "assigned"
	StatusInProgress PromptStatus = "in_progress"
	StatusCompleted  PromptStatus = "completed"
	StatusFailed     PromptStatus = "failed"
	StatusCancelled  PromptStatus = "cancelled"
)

// Terminal reports whether a status is terminal (no further transitions,
// except failed -> pending via retry).
func (s PromptStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SessionStatus is the observed health state of a Session.
type SessionStatus string

const (
	SessionIdle    SessionStatus = "idle"
	SessionBusy    SessionStatus = "busy"
	SessionOffline SessionStatus = "offline"
	SessionUnknown SessionStatus = "unknown"
)

// AssignmentAction identifies one kind of audit-log event.
type AssignmentAction string

const (
	ActionAssigned  AssignmentAction = "assigned"
	ActionStarted   AssignmentAction = "started"
	ActionCompleted AssignmentAction = "completed"
	ActionFailed    AssignmentAction = "failed"
	ActionTimedOut  AssignmentAction = "timed_out"
	ActionRequeued  AssignmentAction = "requeued"
	ActionRetried   AssignmentAction = "retried"
	ActionCancelled AssignmentAction = "cancelled"
)

// LockStatus is the lifecycle state of a Directory lock.
type LockStatus string

const (
	LockActive  LockStatus = "active"
	LockExpired LockStatus = "expired"
	LockReleased LockStatus = "released"
)

// Metadata is the structured record carried by a Prompt: a fixed set of
// typed fields, stored as JSON. No separate validation step checks it.
type Metadata struct {
	WorkingDir    string            `json:"working_dir,omitempty"`
	EnvVars       map[string]string `json:"env_vars,omitempty"`
	Prerequisites []string          `json:"prerequisites,omitempty"`
	GitBranch     string            `json:"git_branch,omitempty"`
}

// Prompt is a unit of work submitted to the assigner.
type Prompt struct {
	ID              int64
	Content         string
	Priority        int
	Source          string
	TargetSession   string
	TargetProvider  string
	MaxRetries      int
	TimeoutMinutes  int
	Metadata        Metadata
	Status          PromptStatus
	RetryCount      int
	AssignedSession string
	Error           string
	Response        string
	CreatedAt       time.Time
	AssignedAt      time.Time
	CompletedAt     time.Time
	// CancelRequested marks a producer-initiated cancel of an in-flight
	// prompt; the completion sweep interrupts the session's pane and, once
	// the session is idle, marks the prompt cancelled and frees the session.
	CancelRequested bool
}

// Session is a long-lived worker identified by a unique name.
type Session struct {
	Name          string
	Provider      string
	Status        SessionStatus
	CurrentTaskID int64 // 0 means null
	LastActivity  time.Time
	WorkingDir    string
	GitBranch     string
	EnvVars       map[string]string
	LastOutput    string
}

// HoldsTask reports whether the session currently claims the given prompt.
func (s Session) HoldsTask(promptID int64) bool {
	return s.CurrentTaskID != 0 && s.CurrentTaskID == promptID
}

// AssignmentRecord is one append-only audit-log entry.
type AssignmentRecord struct {
	ID          int64
	PromptID    int64
	SessionName string
	Action      AssignmentAction
	Timestamp   time.Time
	Details     string
}

// Lock grants a session exclusive write access to a filesystem path.
type Lock struct {
	ID        string
	Path      string
	Owner     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    LockStatus
}

// Active reports whether the lock is active and unexpired as of now.
func (l Lock) Active(now time.Time) bool {
	return l.Status == LockActive && now.Before(l.ExpiresAt)
}

// Stats summarizes queue and session counts for the inspection interface.
type Stats struct {
	Pending        int
	Assigned       int
	InProgress     int
	Failed         int
	Completed      int
	Cancelled      int
	SessionsByStatus map[SessionStatus]int
}
