// Package platform defines the compute platform capability consumed by the
// orchestrator: microVM sandbox creation, status reads, stop, snapshots, and
// live output streaming.
package platform

import (
	"context"
	"errors"
	"time"
)

// Status is the platform's native sandbox status vocabulary.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusStopped      Status = "stopped"
	StatusFailed       Status = "failed"
	StatusSnapshotting Status = "snapshotting"
)

// ErrNotFound means the sandbox or snapshot no longer exists on the platform.
// A stale handle is indistinguishable from a finished-and-reaped sandbox, so
// callers treat this as terminal rather than transient.
var ErrNotFound = errors.New("platform: not found")

// Handle references a sandbox instance on the platform.
type Handle string

// Source describes where a sandbox's filesystem comes from: either a git
// clone or a snapshot restore. Exactly the non-empty one is used; the
// orchestrator validates that at least one is set.
type Source struct {
	GitURL     string `json:"git_url,omitempty"`
	GitRef     string `json:"git_ref,omitempty"`
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// CreateRequest configures a new sandbox.
type CreateRequest struct {
	Source  Source            `json:"source"`
	Image   string            `json:"image"`
	Env     map[string]string `json:"env,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
	Command []string          `json:"command"`
	Timeout time.Duration     `json:"timeout"` // sandbox execution timeout, not the API call timeout
}

// Info is a sandbox status report.
type Info struct {
	Status  Status        `json:"status"`
	Timeout time.Duration `json:"timeout"`
}

// Stream identifies which output stream a chunk came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Chunk is one unit of live sandbox output.
type Chunk struct {
	Stream Stream `json:"stream"`
	Data   string `json:"data"`
}

// Snapshot is a platform-captured filesystem image of a sandbox.
type Snapshot struct {
	ID        string    `json:"id"`
	SandboxID string    `json:"sandbox_id"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OutputStream delivers sandbox output chunks one at a time. Next blocks
// until a chunk is available, the stream ends (io.EOF), or ctx is done.
type OutputStream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Platform is the sandbox compute capability.
type Platform interface {
	Create(ctx context.Context, req CreateRequest) (Handle, error)
	GetStatus(ctx context.Context, h Handle) (Info, error)
	Stop(ctx context.Context, h Handle) error
	Snapshot(ctx context.Context, h Handle) (Snapshot, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	StreamOutput(ctx context.Context, h Handle) (OutputStream, error)
}
