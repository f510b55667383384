package session_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandloft/sandloft/internal/session"
)

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := session.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// makeSession returns a minimal Session with sensible defaults.
func makeSession(id string) *session.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &session.Session{
		ID:     id,
		Status: session.StatusPending,
		Config: session.Config{
			RepoURL: "https://github.com/owner/repo",
			Ref:     "main",
			Runtime: "node24",
		},
		Runtime:   "node24",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ---------------------------------------------------------------------------
// Store creation
// ---------------------------------------------------------------------------

func TestNewStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "new.db")
	store, err := session.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := session.NewStore("/no/such/dir/test.db")
	if err == nil {
		t.Fatal("expected error for invalid path, got nil")
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)

	want := makeSession("sess-1")
	want.Config.Env = map[string]string{"FOO": "bar"}
	want.Config.Plan = "fix the login bug"
	if err := store.CreateSession(want); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID: want %q, got %q", want.ID, got.ID)
	}
	if got.Status != session.StatusPending {
		t.Errorf("Status: want %q, got %q", session.StatusPending, got.Status)
	}
	if got.Config.RepoURL != want.Config.RepoURL {
		t.Errorf("Config.RepoURL: want %q, got %q", want.Config.RepoURL, got.Config.RepoURL)
	}
	if got.Config.Plan != want.Config.Plan {
		t.Errorf("Config.Plan: want %q, got %q", want.Config.Plan, got.Config.Plan)
	}
	if got.Config.Env["FOO"] != "bar" {
		t.Errorf("Config.Env: want FOO=bar, got %v", got.Config.Env)
	}
	if got.Runtime != "node24" {
		t.Errorf("Runtime: want %q, got %q", "node24", got.Runtime)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession("does-not-exist")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSession(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-u")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sess.SandboxID = "sbx-abc123"
	sess.Status = session.StatusRunning
	sess.PRUrl = "https://github.com/owner/repo/pull/42"
	sess.PRStatus = "open"

	if err := store.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.GetSession("sess-u")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SandboxID != "sbx-abc123" {
		t.Errorf("SandboxID: want %q, got %q", "sbx-abc123", got.SandboxID)
	}
	if got.Status != session.StatusRunning {
		t.Errorf("Status: want %q, got %q", session.StatusRunning, got.Status)
	}
	if got.PRUrl != sess.PRUrl {
		t.Errorf("PRUrl: want %q, got %q", sess.PRUrl, got.PRUrl)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt is zero after update")
	}
}

func TestUpdateSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("ghost")
	if err := store.UpdateSession(sess); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSession_DoesNotRewriteConfig(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-cfg")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Mutating the in-memory config must not leak into the stored row.
	sess.Config.RepoURL = "https://github.com/evil/other"
	sess.Status = session.StatusRunning
	if err := store.UpdateSession(sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := store.GetSession("sess-cfg")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Config.RepoURL != "https://github.com/owner/repo" {
		t.Errorf("Config.RepoURL changed on update: got %q", got.Config.RepoURL)
	}
}

func TestListSessions_ArchivedFilter(t *testing.T) {
	store := newTestStore(t)

	s1 := makeSession("sess-1")
	s1.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s1.UpdatedAt = s1.CreatedAt

	s2 := makeSession("sess-2")
	s2.Archived = true
	s2.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	s2.UpdatedAt = s2.CreatedAt

	for _, s := range []*session.Session{s1, s2} {
		if err := store.CreateSession(s); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.ID, err)
		}
	}

	visible, err := store.ListSessions(false)
	if err != nil {
		t.Fatalf("ListSessions(false): %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "sess-1" {
		t.Fatalf("expected only sess-1, got %v", sessionIDs(visible))
	}

	all, err := store.ListSessions(true)
	if err != nil {
		t.Fatalf("ListSessions(true): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "sess-2" || all[1].ID != "sess-1" {
		t.Errorf("expected [sess-2 sess-1], got %v", sessionIDs(all))
	}
	if !all[0].Archived {
		t.Error("sess-2 should be archived")
	}
}

func TestAttachSandbox(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-at")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := store.AttachSandbox("sess-at", "sbx-9"); err != nil {
		t.Fatalf("AttachSandbox: %v", err)
	}

	got, err := store.GetSession("sess-at")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SandboxID != "sbx-9" {
		t.Errorf("SandboxID: want %q, got %q", "sbx-9", got.SandboxID)
	}
	if got.Status != session.StatusPending {
		t.Errorf("attach must not touch status: got %q", got.Status)
	}
}

func TestAttachSandbox_RefusesTerminalSession(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-term")
	sess.Status = session.StatusCompleted
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := store.AttachSandbox("sess-term", "sbx-9"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal session, got %v", err)
	}

	got, err := store.GetSession("sess-term")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SandboxID != "" {
		t.Errorf("terminal session gained a sandbox: %q", got.SandboxID)
	}
}

func TestFinalizeSession(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-f")
	sess.Status = session.StatusRunning
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := store.FinalizeSession("sess-f", session.StatusCompleted); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	got, err := store.GetSession("sess-f")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("Status: want %q, got %q", session.StatusCompleted, got.Status)
	}

	// A second finalize loses: the stored terminal value is frozen.
	if err := store.FinalizeSession("sess-f", session.StatusFailed); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for already-terminal session, got %v", err)
	}
	got, _ = store.GetSession("sess-f")
	if got.Status != session.StatusCompleted {
		t.Errorf("terminal status overwritten: got %q", got.Status)
	}
}

// ---------------------------------------------------------------------------
// Log entries
// ---------------------------------------------------------------------------

func TestAppendLogEntry_AssignsOrderedIDs(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-log")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	var lastID int64
	for i := 0; i < 5; i++ {
		e := &session.LogEntry{
			SessionID: "sess-log",
			Level:     session.LevelStdout,
			Message:   fmt.Sprintf("line %d", i),
			CreatedAt: now,
		}
		if err := store.AppendLogEntry(e); err != nil {
			t.Fatalf("AppendLogEntry[%d]: %v", i, err)
		}
		if e.ID <= lastID {
			t.Fatalf("entry %d: ID %d not greater than previous %d", i, e.ID, lastID)
		}
		lastID = e.ID
	}
}

func TestListLogEntries_PreservesObservationOrder(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-ord")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Identical timestamps: ordering must come from insertion, not time.
	now := time.Now().UTC().Truncate(time.Second)
	messages := []string{"alpha", "bravo", "charlie", "delta"}
	for _, msg := range messages {
		e := &session.LogEntry{SessionID: "sess-ord", Level: session.LevelStdout, Message: msg, CreatedAt: now}
		if err := store.AppendLogEntry(e); err != nil {
			t.Fatalf("AppendLogEntry(%q): %v", msg, err)
		}
	}

	entries, err := store.ListLogEntries("sess-ord", 0)
	if err != nil {
		t.Fatalf("ListLogEntries: %v", err)
	}
	if len(entries) != len(messages) {
		t.Fatalf("expected %d entries, got %d", len(messages), len(entries))
	}
	for i, e := range entries {
		if e.Message != messages[i] {
			t.Errorf("entries[%d].Message: want %q, got %q", i, messages[i], e.Message)
		}
	}
}

func TestListLogEntries_AfterID(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-af")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	var ids []int64
	for i := 0; i < 4; i++ {
		e := &session.LogEntry{SessionID: "sess-af", Level: session.LevelInfo, Message: "x", CreatedAt: now}
		if err := store.AppendLogEntry(e); err != nil {
			t.Fatalf("AppendLogEntry[%d]: %v", i, err)
		}
		ids = append(ids, e.ID)
	}

	entries, err := store.ListLogEntries("sess-af", ids[1])
	if err != nil {
		t.Fatalf("ListLogEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after id %d, got %d", ids[1], len(entries))
	}
	if entries[0].ID != ids[2] || entries[1].ID != ids[3] {
		t.Errorf("expected IDs [%d %d], got [%d %d]", ids[2], ids[3], entries[0].ID, entries[1].ID)
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func makeSnapshot(id, sessionID string) *session.SnapshotRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &session.SnapshotRecord{
		ID:              id,
		SessionID:       sessionID,
		SourceSandboxID: "sbx-1",
		Status:          session.SnapshotCreated,
		SizeBytes:       1 << 20,
		ExpiresAt:       now.Add(72 * time.Hour),
		CreatedAt:       now,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-snap")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	want := makeSnapshot("snap-1", "sess-snap")
	if err := store.CreateSnapshot(want); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	got, err := store.GetSnapshot("snap-1")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.SessionID != "sess-snap" {
		t.Errorf("SessionID: want %q, got %q", "sess-snap", got.SessionID)
	}
	if got.Status != session.SnapshotCreated {
		t.Errorf("Status: want %q, got %q", session.SnapshotCreated, got.Status)
	}
	if got.SizeBytes != 1<<20 {
		t.Errorf("SizeBytes: want %d, got %d", 1<<20, got.SizeBytes)
	}
	if !got.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt should be in the future, got %v", got.ExpiresAt)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSnapshot("nope")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshots_Pagination(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-p")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := makeSnapshot(fmt.Sprintf("snap-%d", i), "sess-p")
		snap.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.CreateSnapshot(snap); err != nil {
			t.Fatalf("CreateSnapshot[%d]: %v", i, err)
		}
	}

	page1, err := store.ListSnapshots(1, 2)
	if err != nil {
		t.Fatalf("ListSnapshots(1, 2): %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "snap-4" || page1[1].ID != "snap-3" {
		t.Fatalf("page 1: expected [snap-4 snap-3], got %v", snapshotIDs(page1))
	}

	page3, err := store.ListSnapshots(3, 2)
	if err != nil {
		t.Fatalf("ListSnapshots(3, 2): %v", err)
	}
	if len(page3) != 1 || page3[0].ID != "snap-0" {
		t.Fatalf("page 3: expected [snap-0], got %v", snapshotIDs(page3))
	}
}

func TestUpdateSnapshotStatus(t *testing.T) {
	store := newTestStore(t)

	sess := makeSession("sess-d")
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	snap := makeSnapshot("snap-d", "sess-d")
	if err := store.CreateSnapshot(snap); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := store.UpdateSnapshotStatus("snap-d", session.SnapshotDeleted); err != nil {
		t.Fatalf("UpdateSnapshotStatus: %v", err)
	}

	got, err := store.GetSnapshot("snap-d")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.Status != session.SnapshotDeleted {
		t.Errorf("Status: want %q, got %q", session.SnapshotDeleted, got.Status)
	}

	if err := store.UpdateSnapshotStatus("ghost", session.SnapshotDeleted); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown snapshot, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func sessionIDs(sessions []*session.Session) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func snapshotIDs(snaps []*session.SnapshotRecord) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}
