// Package stt turns one encoded audio fragment into text.
package stt

import "context"

//go:generate mockgen -destination=mock_transcriber.go -package=stt github.com/mrsingh-rishi/meeting-scribe/stt Transcriber

// Transcriber recognizes the speech in one self-contained audio payload.
// Implementations must honor ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, payload []byte) (string, error)
}

// TranscriberFunc adapts a plain function to Transcriber.
type TranscriberFunc func(ctx context.Context, payload []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, payload []byte) (string, error) {
	return f(ctx, payload)
}
