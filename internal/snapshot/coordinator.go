// Package snapshot manages the lifecycle of sandbox filesystem snapshots:
// creation, lookup, listing, and the two-step delete protocol against the
// platform.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandloft/sandloft/internal/fault"
	"github.com/sandloft/sandloft/internal/platform"
	"github.com/sandloft/sandloft/internal/session"
)

// Coordinator drives snapshot operations against the platform and the store.
type Coordinator struct {
	store    *session.Store
	platform platform.Platform
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store *session.Store, pf platform.Platform) *Coordinator {
	return &Coordinator{store: store, platform: pf}
}

// Create captures a snapshot of the session's sandbox and persists the
// record. The platform stops the source sandbox as a side effect; the
// session's resulting terminal status is picked up by the next status
// reconciliation, not written here.
func (c *Coordinator) Create(ctx context.Context, sess *session.Session) (*session.SnapshotRecord, error) {
	snap, err := c.platform.Snapshot(ctx, platform.Handle(sess.SandboxID))
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, fault.NotFound("sandbox %s no longer exists", sess.SandboxID)
		}
		return nil, fault.Unavailable(err, "platform snapshot failed")
	}

	rec := &session.SnapshotRecord{
		ID:              snap.ID,
		SessionID:       sess.ID,
		SourceSandboxID: sess.SandboxID,
		Status:          session.SnapshotCreated,
		SizeBytes:       snap.SizeBytes,
		ExpiresAt:       snap.ExpiresAt,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.store.CreateSnapshot(rec); err != nil {
		// The platform-side snapshot exists but the local record failed.
		// Surface the error; a live list still finds the snapshot.
		return nil, fmt.Errorf("persisting snapshot record %s: %w", snap.ID, err)
	}
	return rec, nil
}

// Get returns the stored snapshot record, or a not-found fault.
func (c *Coordinator) Get(id string) (*session.SnapshotRecord, error) {
	rec, err := c.store.GetSnapshot(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("snapshot %s", id)
	}
	return rec, err
}

// List returns stored snapshot records, newest first. Serving from the store
// keeps pagination stable while platform-side state churns.
func (c *Coordinator) List(page, limit int) ([]*session.SnapshotRecord, error) {
	return c.store.ListSnapshots(page, limit)
}

// ListLive bypasses the store and asks the platform directly, for operators
// who need ground truth over pagination stability.
func (c *Coordinator) ListLive(ctx context.Context) ([]platform.Snapshot, error) {
	snaps, err := c.platform.ListSnapshots(ctx)
	if err != nil {
		return nil, fault.Unavailable(err, "listing platform snapshots")
	}
	return snaps, nil
}

// Delete removes a snapshot: platform first, local record second. The local
// record is marked deleted only after the platform confirms, so a failed
// platform delete never creates a dangling belief of absence while
// platform-side storage lives on. A platform not-found counts as confirmed
// absence.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	rec, err := c.store.GetSnapshot(id)
	if errors.Is(err, session.ErrNotFound) {
		return fault.NotFound("snapshot %s", id)
	}
	if err != nil {
		return err
	}
	if rec.Status == session.SnapshotDeleted {
		return fault.Conflict("snapshot %s is already deleted", id)
	}

	if err := c.platform.DeleteSnapshot(ctx, id); err != nil && !errors.Is(err, platform.ErrNotFound) {
		return fault.Unavailable(err, "platform delete of snapshot %s failed", id)
	}

	return c.store.UpdateSnapshotStatus(id, session.SnapshotDeleted)
}
