package output

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/types"
)

type fakeSocket struct {
	mu       sync.Mutex
	frames   [][]byte
	failNext bool
	written  chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{written: make(chan struct{}, 16)}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.written <- struct{}{}
	}()
	if s.failNext {
		s.failNext = false
		return errors.New("broken pipe")
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.written:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d writes happened", i, n)
		}
	}
}

func TestNewSocketOutputValidates(t *testing.T) {
	if _, err := NewSocketOutput(nil, make(chan model.TranscriptionResult), 0, nil, nil); err == nil {
		t.Error("expected error for nil socket")
	}
	if _, err := NewSocketOutput(newFakeSocket(), nil, 0, nil, nil); err == nil {
		t.Error("expected error for nil channel")
	}
}

func TestWritesTranscriptionMessagesInOrder(t *testing.T) {
	sock := newFakeSocket()
	results := make(chan model.TranscriptionResult, 4)
	out, err := NewSocketOutput(sock, results, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatal(err)
	}
	out.Start()
	defer out.Stop()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sock.failNext = true
	results <- model.TranscriptionResult{Speaker: "You", Text: "lost", Timestamp: ts, Sequence: 1}
	results <- model.TranscriptionResult{Speaker: "You", Text: "hello", Timestamp: ts, Sequence: 2}
	results <- model.TranscriptionResult{Speaker: "Ana", Text: "world", Timestamp: ts, Sequence: 3}
	sock.wait(t, 3)

	sock.mu.Lock()
	frames := append([][]byte(nil), sock.frames...)
	sock.mu.Unlock()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	for i, want := range []string{"hello", "world"} {
		m, err := types.Decode(frames[i])
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if m.Type != types.TypeTranscription || m.Text != want || m.Seq != uint64(i+2) {
			t.Errorf("frame %d = %+v", i, m)
		}
		if m.Timestamp != "2024-05-01T12:00:00Z" {
			t.Errorf("timestamp = %q", m.Timestamp)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	out, err := NewSocketOutput(newFakeSocket(), make(chan model.TranscriptionResult), 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	out.Stop()
	out.Start() // no-op after Stop
	out.Stop()

	started, err := NewSocketOutput(newFakeSocket(), make(chan model.TranscriptionResult), 0, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	started.Start()
	started.Stop()
	started.Stop()
}
