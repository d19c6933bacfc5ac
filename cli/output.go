package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/recorder"
)

// Formatter prints user-facing lines. Safe for concurrent use; recorder
// callbacks print from the controller's goroutine.
type Formatter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) printf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, format, args...)
}

func (f *Formatter) Connected(url string) {
	f.printf("🔌 Connected to %s\n", url)
}

func (f *Formatter) RecordingStarted(sessionID, speaker string) {
	f.printf("🎙️  Recording session %s as %q\n", sessionID, speaker)
	f.printf("   p = pause, r = resume, q = stop\n")
}

func (f *Formatter) State(from, to recorder.State) {
	switch to {
	case recorder.Paused:
		f.printf("⏸️  Paused\n")
	case recorder.Recording:
		if from == recorder.Paused {
			f.printf("▶️  Resumed\n")
		}
	}
}

func (f *Formatter) Result(r model.TranscriptionResult) {
	f.printf("[%s] %s: %s\n", r.Timestamp.Local().Format("15:04:05"), r.Speaker, r.Text)
}

func (f *Formatter) RecordingStopped(note model.StoredNote) {
	f.printf("⏹️  Recording stopped (%s, %d entries)\n", formatDuration(note.Duration), note.Entries)
	if note.ID != 0 {
		f.printf("✅ Transcript saved: %s\n", note.SessionID)
	}
}

func (f *Formatter) Error(msg string) {
	f.printf("❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	f.printf("ℹ️  %s\n", msg)
}

func (f *Formatter) Note(note model.StoredNote) {
	f.printf("Session:  %s\nStarted:  %s\nDuration: %s\nEntries:  %d\n\n%s\n",
		note.SessionID,
		note.StartedAt.Local().Format("2006-01-02 15:04:05"),
		formatDuration(note.Duration),
		note.Entries,
		note.Text,
	)
}

func (f *Formatter) NoteListItem(note model.StoredNote) {
	f.printf("%-36s  %s  %8s  %4d entries\n",
		note.SessionID,
		note.StartedAt.Local().Format("2006-01-02 15:04"),
		formatDuration(note.Duration),
		note.Entries,
	)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
