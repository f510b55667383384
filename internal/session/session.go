// Package session provides the session data model and its SQLite persistence.
package session

import "time"

// Status is the internal session status vocabulary.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	// StatusStopping is a transient marker set only by an explicit stop
	// request; a later reconciliation read replaces it with the
	// platform-confirmed terminal value.
	StatusStopping  Status = "stopping"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Level classifies a log entry.
type Level string

const (
	LevelInfo   Level = "info"
	LevelError  Level = "error"
	LevelDebug  Level = "debug"
	LevelStdout Level = "stdout"
	LevelStderr Level = "stderr"
)

// Config is the full launch configuration for a session. Immutable after
// creation; stored as a JSON column.
type Config struct {
	RepoURL    string            `json:"repo_url,omitempty"`
	Ref        string            `json:"ref,omitempty"`
	SnapshotID string            `json:"snapshot_id,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	Plan       string            `json:"plan,omitempty"`
	Model      string            `json:"model,omitempty"`
	Runtime    string            `json:"runtime"`
	Env        map[string]string `json:"env,omitempty"`
}

// Session is the authoritative record of one sandbox run.
type Session struct {
	ID        string    `json:"id"`
	SandboxID string    `json:"sandbox_id,omitempty"` // empty until the platform create succeeds
	Status    Status    `json:"status"`
	Config    Config    `json:"config"`
	Runtime   string    `json:"runtime"`
	PRUrl     string    `json:"pr_url,omitempty"`
	PRStatus  string    `json:"pr_status,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LogEntry is one immutable unit of captured sandbox output. The
// autoincrement ID doubles as the durable ordering within a session.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotStatus is the lifecycle state of a snapshot record.
type SnapshotStatus string

const (
	SnapshotCreated SnapshotStatus = "created"
	SnapshotDeleted SnapshotStatus = "deleted"
	SnapshotFailed  SnapshotStatus = "failed"
)

// SnapshotRecord is the durable record of a platform snapshot.
type SnapshotRecord struct {
	ID              string         `json:"id"` // platform-assigned
	SessionID       string         `json:"session_id"`
	SourceSandboxID string         `json:"source_sandbox_id"`
	Status          SnapshotStatus `json:"status"`
	SizeBytes       int64          `json:"size_bytes"`
	ExpiresAt       time.Time      `json:"expires_at"`
	CreatedAt       time.Time      `json:"created_at"`
}
