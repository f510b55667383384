// Package status maps the platform's native sandbox status vocabulary onto
// the internal session status vocabulary and classifies terminal statuses.
// Pure functions only; no dependencies beyond the two vocabularies.
package status

import (
	"github.com/sandloft/sandloft/internal/platform"
	"github.com/sandloft/sandloft/internal/session"
)

// Map converts a platform status to an internal session status. Total over
// every value the platform can emit; anything unrecognized maps to failed
// rather than crashing the caller.
func Map(ps platform.Status) session.Status {
	switch ps {
	case platform.StatusPending:
		return session.StatusPending
	case platform.StatusRunning:
		return session.StatusRunning
	case platform.StatusStopping, platform.StatusSnapshotting:
		return session.StatusStopping
	case platform.StatusStopped:
		// The platform does not distinguish "finished" from "stopped",
		// so both surface as completed.
		return session.StatusCompleted
	case platform.StatusFailed:
		return session.StatusFailed
	default:
		return session.StatusFailed
	}
}

// IsTerminal reports whether a session status admits no further transitions.
func IsTerminal(s session.Status) bool {
	return s == session.StatusCompleted || s == session.StatusFailed
}
