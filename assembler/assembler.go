// Package assembler builds the transcript of one recording session.
package assembler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

// Appender receives every result as it is appended, typically a storage sink.
type Appender interface {
	AppendTranscript(ctx context.Context, sessionID string, result model.TranscriptionResult) error
}

// Assembler keeps results in the order they arrived. It never reorders,
// deduplicates or fills gaps.
type Assembler struct {
	sessionID string
	appender  Appender
	logger    *slog.Logger

	mu      sync.RWMutex
	entries []model.TranscriptionResult
}

// New returns an empty transcript for sessionID. appender may be nil.
func New(sessionID string, appender Appender, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		sessionID: sessionID,
		appender:  appender,
		logger:    logger.With("component", "assembler", "session_id", sessionID),
	}
}

// OnResult appends r. A failing appender is logged; the entry is kept.
func (a *Assembler) OnResult(ctx context.Context, r model.TranscriptionResult) {
	a.mu.Lock()
	a.entries = append(a.entries, r)
	a.mu.Unlock()

	if a.appender == nil {
		return
	}
	if err := a.appender.AppendTranscript(ctx, a.sessionID, r); err != nil {
		a.logger.Warn("Failed to persist transcript entry",
			slog.Uint64("seq", r.Sequence),
			slog.String("error", err.Error()),
		)
	}
}

// Snapshot returns a copy of the transcript so far.
func (a *Assembler) Snapshot() model.Transcript {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := make([]model.TranscriptionResult, len(a.entries))
	copy(entries, a.entries)
	return model.Transcript{SessionID: a.sessionID, Entries: entries}
}

func (a *Assembler) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Assembler) SessionID() string { return a.sessionID }
