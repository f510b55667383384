// Package logs implements the live log pipeline: it captures a sandbox's
// output stream, persists every entry durably, and fans entries out to
// connected observers.
package logs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sandloft/sandloft/internal/platform"
	"github.com/sandloft/sandloft/internal/session"
)

// Pipeline pumps sandbox output into the store and onto the bus.
type Pipeline struct {
	store    *session.Store
	platform platform.Platform
	bus      *Bus
	logger   *log.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store *session.Store, pf platform.Platform, bus *Bus, logger *log.Logger) *Pipeline {
	return &Pipeline{store: store, platform: pf, bus: bus, logger: logger}
}

// Bus returns the fan-out bus observers subscribe to.
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// Append persists a lifecycle entry and forwards it to live observers. Used
// by the orchestrator for status breadcrumbs and failure reasons.
func (p *Pipeline) Append(sessionID string, level session.Level, message string) {
	e := &session.LogEntry{
		SessionID: sessionID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.AppendLogEntry(e); err != nil {
		p.logger.Error("persisting log entry", "session", sessionID, "err", err)
		return
	}
	p.bus.Publish(sessionID, e)
}

// Close ends a session's live sequence without a pump. Used when no output
// stream will ever run (the sandbox create failed, or the session was stopped
// before a sandbox existed); Run closes the sequence itself when it returns.
func (p *Pipeline) Close(sessionID string) {
	p.bus.CloseSession(sessionID)
}

// Run attaches to the sandbox's output stream and pumps until the stream
// ends or ctx is cancelled. Every chunk is persisted before it is forwarded,
// so a disconnecting observer can always recover the full history from the
// store with no gap. One reattachment is attempted on transient failure;
// after that the live sequence is closed and callers fall back to polling.
//
// Run blocks; the orchestrator invokes it on the session's own goroutine.
func (p *Pipeline) Run(ctx context.Context, sessionID string, handle platform.Handle) {
	defer p.bus.CloseSession(sessionID)

	logger := p.logger.With("session", sessionID)

	reattached := false
	for {
		stream, err := p.platform.StreamOutput(ctx, handle)
		if err != nil {
			logger.Warn("attaching output stream", "err", err)
			return
		}

		err = p.pump(ctx, sessionID, stream)
		stream.Close()

		switch {
		case err == nil || errors.Is(err, io.EOF):
			return // stream ended cleanly
		case ctx.Err() != nil:
			return // cancelled
		case errors.Is(err, platform.ErrNotFound):
			return // sandbox gone; nothing to reattach to
		case reattached:
			logger.Warn("output stream failed after reattach, closing", "err", err)
			return
		default:
			logger.Warn("output stream failed, reattaching once", "err", err)
			reattached = true
		}
	}
}

// pump reads chunks until error or EOF, persisting then publishing each.
func (p *Pipeline) pump(ctx context.Context, sessionID string, stream platform.OutputStream) error {
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		e := &session.LogEntry{
			SessionID: sessionID,
			Level:     levelFor(chunk.Stream),
			Message:   chunk.Data,
			CreatedAt: time.Now().UTC(),
		}

		// Durable write first. Forwarding an unpersisted entry would let a
		// live observer see output that a later "all logs" read misses.
		if err := p.store.AppendLogEntry(e); err != nil {
			p.logger.Error("persisting log entry", "session", sessionID, "err", err)
			continue
		}
		p.bus.Publish(sessionID, e)
	}
}

func levelFor(s platform.Stream) session.Level {
	if s == platform.StreamStderr {
		return session.LevelStderr
	}
	return session.LevelStdout
}
