// Package orchestrator coordinates the session lifecycle: sandbox creation,
// status reconciliation against the platform, explicit stop, and snapshots.
//
// The local session record is a cache of the platform's state, and the
// platform can change or disappear without notice. The orchestrator treats
// the platform as ground truth only at read time: every status read of a
// non-terminal session reconciles the stored record against the live answer,
// and reconciliation is idempotent and safe to repeat. Once a session is
// terminal it is frozen; reads of terminal sessions make zero platform calls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sandloft/sandloft/internal/config"
	"github.com/sandloft/sandloft/internal/fault"
	"github.com/sandloft/sandloft/internal/github"
	"github.com/sandloft/sandloft/internal/logs"
	"github.com/sandloft/sandloft/internal/notify"
	"github.com/sandloft/sandloft/internal/platform"
	"github.com/sandloft/sandloft/internal/session"
	"github.com/sandloft/sandloft/internal/snapshot"
	"github.com/sandloft/sandloft/internal/status"
)

// Options configures an Orchestrator.
type Options struct {
	// Runtimes is the runtime catalog; session configs must name one of
	// these (or leave the runtime empty to get DefaultRuntime).
	Runtimes       map[string]config.Runtime
	DefaultRuntime string

	// SandboxTimeout is the execution timeout handed to the platform.
	SandboxTimeout time.Duration

	// SandboxEnv is merged into every sandbox's environment.
	SandboxEnv map[string]string
}

// Orchestrator is the top-level session coordinator.
type Orchestrator struct {
	opts      Options
	store     *session.Store
	platform  platform.Platform
	snapshots *snapshot.Coordinator
	pipeline  *logs.Pipeline
	github    *github.Client // nil if PR tracking is not configured
	notifiers []notify.Notifier
	logger    *log.Logger
}

// New creates an Orchestrator. github may be nil; notifiers may be empty.
func New(
	opts Options,
	store *session.Store,
	pf platform.Platform,
	snaps *snapshot.Coordinator,
	pipeline *logs.Pipeline,
	gh *github.Client,
	notifiers []notify.Notifier,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		opts:      opts,
		store:     store,
		platform:  pf,
		snapshots: snaps,
		pipeline:  pipeline,
		github:    gh,
		notifiers: notifiers,
		logger:    logger,
	}
}

// StatusResult is the outcome of a status read. LiveStatus is set when a
// live platform read happened; LiveUnavailable is set when the platform was
// temporarily unreachable and Session carries last-known state.
type StatusResult struct {
	Session         *session.Session `json:"session"`
	LiveStatus      platform.Status  `json:"live_status,omitempty"`
	LiveUnavailable bool             `json:"live_unavailable,omitempty"`
}

// CreateSession validates the launch config, persists a pending session, and
// launches the sandbox in the background. It returns immediately; callers
// track progress via GetStatus and the log stream. A platform create failure
// surfaces as a failed session with the reason in its log, never as a
// deleted session; the caller already holds the identifier.
func (o *Orchestrator) CreateSession(ctx context.Context, cfg session.Config) (*session.Session, error) {
	if cfg.RepoURL == "" && cfg.SnapshotID == "" {
		return nil, fault.Validation("a git repository or a snapshot id is required")
	}
	if cfg.RepoURL != "" && cfg.Ref == "" {
		cfg.Ref = "main"
	}

	runtime := cfg.Runtime
	if runtime == "" {
		runtime = o.opts.DefaultRuntime
		cfg.Runtime = runtime
	}
	if _, ok := o.opts.Runtimes[runtime]; !ok {
		return nil, fault.Validation("unknown runtime %q", runtime)
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:        uuid.New().String()[:8],
		Status:    session.StatusPending,
		Config:    cfg,
		Runtime:   runtime,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The pending row is durable before the platform sees anything, so the
	// session is trackable even if the create call never returns.
	if err := o.store.CreateSession(sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	// The goroutine gets its own copy; the caller's struct is JSON-encoded
	// by the HTTP handler while the launch is in flight.
	launched := *sess
	go o.launch(&launched)

	return sess, nil
}

// launch runs on the session's own goroutine: platform interactions for one
// session never block another.
func (o *Orchestrator) launch(sess *session.Session) {
	ctx := context.Background()
	logger := o.logger.With("session", sess.ID)

	rt := o.opts.Runtimes[sess.Runtime]
	req := platform.CreateRequest{
		Source: platform.Source{
			GitURL:     sess.Config.RepoURL,
			GitRef:     sess.Config.Ref,
			SnapshotID: sess.Config.SnapshotID,
		},
		Image:   rt.Image,
		Env:     o.sandboxEnv(sess),
		Workdir: sess.Config.Workdir,
		Command: rt.Command,
		Timeout: o.opts.SandboxTimeout,
	}

	handle, err := o.platform.Create(ctx, req)
	if err != nil {
		logger.Error("sandbox create failed", "err", err)
		o.pipeline.Append(sess.ID, session.LevelError, fmt.Sprintf("sandbox create failed: %v", err))
		o.markTerminal(ctx, sess, session.StatusFailed)
		// No output stream will ever run for this session; end the live
		// sequence so connected observers see completion, not silence.
		o.pipeline.Close(sess.ID)
		return
	}

	// The session may have gone terminal while the create was in flight (an
	// explicit stop takes the no-handle path and completes it directly). The
	// guarded write keeps a terminal row terminal; when it refuses, the fresh
	// sandbox is an orphan and gets stopped, never adopted.
	if err := o.store.AttachSandbox(sess.ID, string(handle)); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			logger.Warn("session ended during create, stopping orphan sandbox", "sandbox", handle)
			if err := o.platform.Stop(ctx, handle); err != nil && !errors.Is(err, platform.ErrNotFound) {
				logger.Error("stopping orphan sandbox", "sandbox", handle, "err", err)
			}
			o.pipeline.Close(sess.ID)
			return
		}
		logger.Error("persisting sandbox handle", "err", err)
	}

	sess.SandboxID = string(handle)
	// Status stays pending until the platform confirms an active sandbox on
	// the first status read; creation alone is not proof of running.
	o.pipeline.Append(sess.ID, session.LevelInfo, fmt.Sprintf("sandbox %s created", handle))

	// Pump the live output stream until it ends. Blocking is fine here;
	// this goroutine belongs to the session.
	o.pipeline.Run(ctx, sess.ID, handle)

	// The stream ending usually means the sandbox finished. Reconcile once
	// so the stored status catches up without waiting for a caller poll.
	if _, err := o.GetStatus(ctx, sess.ID); err != nil {
		logger.Warn("post-stream reconcile failed", "err", err)
	}
}

func (o *Orchestrator) sandboxEnv(sess *session.Session) map[string]string {
	env := make(map[string]string, len(o.opts.SandboxEnv)+len(sess.Config.Env)+4)
	for k, v := range o.opts.SandboxEnv {
		env[k] = v
	}
	for k, v := range sess.Config.Env {
		env[k] = v
	}
	env["SANDLOFT_SESSION_ID"] = sess.ID
	if sess.Config.Plan != "" {
		env["SANDLOFT_PLAN"] = sess.Config.Plan
	}
	if sess.Config.Model != "" {
		env["SANDLOFT_MODEL"] = sess.Config.Model
	}
	return env
}

// GetStatus reads the stored session and, for non-terminal sessions with a
// sandbox handle, reconciles it against the live platform status.
//
// Reconciliation rules:
//   - a terminal stored status short-circuits: zero platform calls;
//   - a vanished sandbox (platform not-found) maps to completed; the
//     platform offers no way to tell "finished" from "disappeared";
//   - a transient platform failure returns last-known state with
//     LiveUnavailable set, never a hard failure and never a status write;
//   - an explicit-stop marker (stopping) is only replaced by a terminal
//     confirmation, not by a live running/pending report;
//   - otherwise the live status wins and the record is updated.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*StatusResult, error) {
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}

	if status.IsTerminal(sess.Status) {
		return &StatusResult{Session: sess}, nil
	}
	if sess.SandboxID == "" {
		// Create still in flight (or failed before a handle existed).
		return &StatusResult{Session: sess}, nil
	}

	info, err := o.platform.GetStatus(ctx, platform.Handle(sess.SandboxID))
	if errors.Is(err, platform.ErrNotFound) {
		o.markTerminal(ctx, sess, session.StatusCompleted)
		return &StatusResult{Session: sess}, nil
	}
	if err != nil {
		o.logger.Warn("live status unavailable", "session", id, "err", err)
		return &StatusResult{Session: sess, LiveUnavailable: true}, nil
	}

	mapped := status.Map(info.Status)
	switch {
	case mapped == sess.Status:
		// Nothing to reconcile.
	case sess.Status == session.StatusStopping && !status.IsTerminal(mapped):
		// Stop was explicitly requested; keep the marker until the
		// platform confirms a terminal state.
	case status.IsTerminal(mapped):
		o.markTerminal(ctx, sess, mapped)
	default:
		if sess.Status == session.StatusRunning && mapped == session.StatusPending {
			// A sandbox cannot move backwards. Log loudly, then take the
			// platform's answer anyway: the live state wins.
			o.logger.Error("platform status regressed",
				"session", id, "stored", sess.Status, "live", info.Status,
				"err", fault.Inconsistent("sandbox %s reported %s while stored %s", sess.SandboxID, info.Status, sess.Status))
		}
		sess.Status = mapped
		if err := o.store.UpdateSession(sess); err != nil {
			return nil, fmt.Errorf("updating session %s: %w", id, err)
		}
	}

	return &StatusResult{Session: sess, LiveStatus: info.Status}, nil
}

// markTerminal freezes the session in a terminal status and fans the event
// out to notifiers. The store write is guarded, so when two paths race to
// finalize (an explicit stop against a failing launch, say) exactly one wins
// and exactly one notification fires.
func (o *Orchestrator) markTerminal(ctx context.Context, sess *session.Session, st session.Status) {
	err := o.store.FinalizeSession(sess.ID, st)
	if errors.Is(err, session.ErrNotFound) {
		// Another writer finalized first; that writer owns the notification.
		sess.Status = st
		return
	}
	if err != nil {
		o.logger.Error("persisting terminal status", "session", sess.ID, "err", err)
		return
	}
	sess.Status = st
	for _, n := range o.notifiers {
		if err := n.SessionTerminal(ctx, sess); err != nil {
			o.logger.Warn("terminal notification failed", "session", sess.ID, "err", err)
		}
	}
}

// StopSession stops a pending or running session. Stopping an already
// stopping or terminal session is a conflict, not a silent no-op, so callers
// can detect double-stop bugs.
func (o *Orchestrator) StopSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}

	if sess.Status != session.StatusPending && sess.Status != session.StatusRunning {
		return nil, fault.Conflict("cannot stop session %s in status %s", id, sess.Status)
	}

	if sess.SandboxID == "" {
		// No sandbox exists yet; there is nothing for the platform to
		// confirm, so the session goes terminal directly.
		o.markTerminal(ctx, sess, session.StatusCompleted)
		return sess, nil
	}

	if err := o.platform.Stop(ctx, platform.Handle(sess.SandboxID)); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			o.markTerminal(ctx, sess, session.StatusCompleted)
			return sess, nil
		}
		// Transient: leave the record untouched rather than guessing.
		return nil, fault.Unavailable(err, "platform stop of sandbox %s failed", sess.SandboxID)
	}

	sess.Status = session.StatusStopping
	if err := o.store.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("updating session %s: %w", id, err)
	}
	o.pipeline.Append(sess.ID, session.LevelInfo, "stop requested")
	return sess, nil
}

// CreateSnapshot captures the running session's filesystem. The platform
// stops the source sandbox as a side effect; the session's terminal status
// is observed by the next GetStatus reconciliation rather than written here,
// so there is exactly one code path deciding final states.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, id string) (*session.SnapshotRecord, error) {
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}

	if sess.Status != session.StatusRunning {
		return nil, fault.Conflict("snapshot requires a running session, %s is %s", id, sess.Status)
	}
	if sess.SandboxID == "" {
		return nil, fault.Inconsistent("session %s is running but has no sandbox", id)
	}

	rec, err := o.snapshots.Create(ctx, sess)
	if err != nil {
		return nil, err
	}
	o.pipeline.Append(sess.ID, session.LevelInfo, fmt.Sprintf("snapshot %s created", rec.ID))
	return rec, nil
}

// SetArchived toggles the user-controlled visibility flag. Archival does not
// affect the session lifecycle.
func (o *Orchestrator) SetArchived(id string, archived bool) (*session.Session, error) {
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}
	sess.Archived = archived
	if err := o.store.UpdateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetPR records the pull request the session's agent produced. PR fields are
// independent of session status.
func (o *Orchestrator) SetPR(ctx context.Context, id, prURL string) (*session.Session, error) {
	if prURL == "" {
		return nil, fault.Validation("pr url is required")
	}
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}
	sess.PRUrl = prURL
	sess.PRStatus = "open"
	if err := o.store.UpdateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RefreshPR re-reads the session's pull request state from GitHub.
func (o *Orchestrator) RefreshPR(ctx context.Context, id string) (*session.Session, error) {
	if o.github == nil {
		return nil, fault.Unavailable(nil, "github is not configured")
	}
	sess, err := o.store.GetSession(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	}
	if err != nil {
		return nil, err
	}
	if sess.PRUrl == "" {
		return nil, fault.Conflict("session %s has no pull request", id)
	}

	state, err := o.github.PRState(ctx, sess.PRUrl)
	if err != nil {
		return nil, fault.Unavailable(err, "fetching PR state")
	}
	sess.PRStatus = state
	if err := o.store.UpdateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns sessions from the store, newest first.
func (o *Orchestrator) ListSessions(includeArchived bool) ([]*session.Session, error) {
	return o.store.ListSessions(includeArchived)
}

// Logs returns all stored log entries for a session in observation order.
func (o *Orchestrator) Logs(id string) ([]*session.LogEntry, error) {
	if _, err := o.store.GetSession(id); errors.Is(err, session.ErrNotFound) {
		return nil, fault.NotFound("session %s", id)
	} else if err != nil {
		return nil, err
	}
	return o.store.ListLogEntries(id, 0)
}
