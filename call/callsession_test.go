package call

import (
	"encoding/base64"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
	"github.com/mrsingh-rishi/meeting-scribe/types"
)

type fakeSocket struct {
	in      chan []byte
	closed  chan struct{}
	expired chan struct{}
	once    sync.Once
	expire  sync.Once
	out     chan types.Message

	// hijacked sockets, like fasthttp's, keep blocking reads through Close.
	hijacked bool

	mu       sync.Mutex
	controls [][]byte
	touched  int // control frames and read deadlines
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:      make(chan []byte, 16),
		closed:  make(chan struct{}),
		expired: make(chan struct{}),
		out:     make(chan types.Message, 16),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	closed := s.closed
	if s.hijacked {
		closed = nil
	}
	select {
	case b := <-s.in:
		return 1, b, nil
	case <-closed:
		return 0, nil, errors.New("connection closed")
	case <-s.expired:
		return 0, nil, errors.New("i/o timeout")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("connection closed")
	default:
	}
	m, err := types.Decode(data)
	if err != nil {
		return err
	}
	s.out <- m
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.touched++
	s.mu.Unlock()
	if !t.After(time.Now()) {
		s.expire.Do(func() { close(s.expired) })
	}
	return nil
}

func (s *fakeSocket) WriteControl(_ int, data []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	s.controls = append(s.controls, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) calls() (controls [][]byte, touched int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.controls...), s.touched
}

func audioFrame(payload, speaker string, seq uint64) []byte {
	data, _ := types.Encode(types.Message{
		Type:    types.TypeAudio,
		Audio:   base64.StdEncoding.EncodeToString([]byte(payload)),
		Speaker: speaker,
		Seq:     seq,
	})
	return data
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCallTranscribesAudioMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockTr := stt.NewMockTranscriber(ctrl)
	gomock.InOrder(
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("chunk-1")).Return("good morning", nil),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("chunk-2")).Return("", errors.New("rate limited")),
		mockTr.EXPECT().Transcribe(gomock.Any(), []byte("chunk-3")).Return("let's begin", nil),
	)

	m := metrics.NewMetrics()
	sock := newFakeSocket()
	c, err := NewCall(sock, mockTr, Options{Timeout: time.Second, Logger: quiet(), Metrics: m})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	finished := make(chan struct{})
	go func() {
		c.Start()
		close(finished)
	}()

	sock.in <- audioFrame("chunk-1", "You", 1)
	sock.in <- []byte(`{"type":"audio"}`)
	sock.in <- []byte(`{"type":"transcription","text":"spoofed"}`)
	sock.in <- []byte(`garbage`)
	sock.in <- audioFrame("chunk-2", "You", 2)
	sock.in <- audioFrame("chunk-3", "", 0)

	for _, want := range []types.Message{
		{Text: "good morning", Speaker: "You", Seq: 1},
		{Text: "let's begin", Speaker: "Unknown", Seq: 0},
	} {
		select {
		case got := <-sock.out:
			if got.Type != types.TypeTranscription || got.Text != want.Text || got.Speaker != want.Speaker || got.Seq != want.Seq {
				t.Errorf("got %+v, want %+v", got, want)
			}
			if got.Timestamp == "" {
				t.Error("missing timestamp")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no result for %q", want.Text)
		}
	}

	sock.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the socket closed")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after Start returned")
	}

	if got := testutil.ToFloat64(m.FragmentsReceived); got != 3 {
		t.Errorf("fragments received = %v", got)
	}
	if got := testutil.ToFloat64(m.MalformedMessages); got != 3 {
		t.Errorf("malformed = %v", got)
	}
}

func TestCloseEndsCall(t *testing.T) {
	sock := newFakeSocket()
	sock.hijacked = true
	c, err := NewCall(sock, stt.Simulated{}, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	go c.Start()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("call did not clean up")
	}

	controls, _ := sock.calls()
	if len(controls) != 1 {
		t.Fatalf("sent %d control frames, want 1", len(controls))
	}
	if code := binary.BigEndian.Uint16(controls[0]); code != websocket.CloseGoingAway {
		t.Errorf("close code = %d, want %d", code, websocket.CloseGoingAway)
	}
	c.CleanupResources()
}

func TestCloseAfterCleanupLeavesSocketAlone(t *testing.T) {
	sock := newFakeSocket()
	c, err := NewCall(sock, stt.Simulated{}, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	finished := make(chan struct{})
	go func() {
		c.Start()
		close(finished)
	}()

	sock.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the socket closed")
	}

	_, before := sock.calls()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, after := sock.calls(); after != before {
		t.Errorf("Close touched the socket after cleanup (%d calls, want %d)", after, before)
	}
}

func TestCallsAreIsolated(t *testing.T) {
	a, err := NewCall(newFakeSocket(), stt.Simulated{}, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewCall(newFakeSocket(), stt.Simulated{}, Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID || a.TranscriptionWorker == b.TranscriptionWorker || a.ResultChannel == b.ResultChannel {
		t.Error("calls share state")
	}
	a.CleanupResources()
	b.CleanupResources()
}

func TestNewCallValidates(t *testing.T) {
	if _, err := NewCall(nil, stt.Simulated{}, Options{}); err == nil {
		t.Error("expected error for nil socket")
	}
	if _, err := NewCall(newFakeSocket(), nil, Options{}); err == nil {
		t.Error("expected error for nil transcriber")
	}
}
