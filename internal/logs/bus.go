package logs

import (
	"sync"

	"github.com/sandloft/sandloft/internal/session"
)

// Bus provides per-session pub/sub for live log entries. Subscribers that
// fall behind are skipped rather than blocking the pump; they recover the
// full history from the durable store.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan *session.LogEntry
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan *session.LogEntry)}
}

// Subscribe creates a channel that receives live entries for a session.
func (b *Bus) Subscribe(sessionID string) chan *session.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *session.LogEntry, 64)
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Safe to call after
// CloseSession; an already-removed channel is a no-op.
func (b *Bus) Unsubscribe(sessionID string, ch chan *session.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sessionID]
	for i, s := range subs {
		if s == ch {
			b.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an entry to all subscribers for a session.
func (b *Bus) Publish(sessionID string, e *session.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- e:
		default:
			// Drop if the subscriber is too slow.
		}
	}
}

// CloseSession closes every subscriber channel for a session, signalling that
// the live sequence has ended. Called by the pipeline when the platform
// stream ends.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[sessionID] {
		close(ch)
	}
	delete(b.subs, sessionID)
}
