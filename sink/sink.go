// Package sink stores transcripts produced by recording sessions.
package sink

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

//go:generate mockgen -destination=mock_sink.go -package=sink github.com/mrsingh-rishi/meeting-scribe/sink Sink

// Sink is where finished transcript lines and notes go. Appends happen as
// results arrive; FinalizeTranscript runs once when the session ends.
type Sink interface {
	AppendTranscript(ctx context.Context, sessionID string, result model.TranscriptionResult) error
	FinalizeTranscript(ctx context.Context, sessionID string, transcript model.Transcript) (model.StoredNote, error)
}

// Store is a Sink that can also be read back.
type Store interface {
	Sink
	Entries(ctx context.Context, sessionID string) ([]model.TranscriptionResult, error)
	Note(ctx context.Context, sessionID string) (model.StoredNote, error)
	Notes(ctx context.Context, limit int) ([]model.StoredNote, error)
	Close() error
}

var ErrNotFound = errors.New("not found")

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
