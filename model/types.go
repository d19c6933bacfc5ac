package model

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSpeaker is used when an audio message carries no speaker label.
const DefaultSpeaker = "Unknown"

// AudioFragment is one fixed-duration slice of captured audio.
type AudioFragment struct {
	SessionID     string
	Sequence      uint64
	Speaker       string
	Payload       []byte // encoded, transport-ready
	CaptureOffset time.Duration
}

// TranscriptionResult is the text recognized for one fragment.
// Sequence is zero when the originating fragment is unknown.
type TranscriptionResult struct {
	Speaker   string
	Text      string
	Timestamp time.Time
	Sequence  uint64
}

// Transcript is the ordered list of results for one session, in arrival order.
// StartedAt and Duration are filled in when the session is finalized.
type Transcript struct {
	SessionID string
	Entries   []TranscriptionResult
	StartedAt time.Time
	Duration  time.Duration
}

// Text renders the transcript as "speaker: text" lines.
func (t Transcript) Text() string {
	var sb strings.Builder
	for i, e := range t.Entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s: %s", e.Speaker, e.Text)
	}
	return sb.String()
}

// StoredNote is what the storage sink returns for a finalized transcript.
type StoredNote struct {
	ID          int64
	SessionID   string
	Entries     int
	Text        string
	StartedAt   time.Time
	FinalizedAt time.Time
	Duration    time.Duration
}

// ConnectionAttempt records one scheduled reconnect try.
type ConnectionAttempt struct {
	Attempt int
	Delay   time.Duration
}
