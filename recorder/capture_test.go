package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/audio"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/sink"
	"github.com/mrsingh-rishi/meeting-scribe/transport"
)

// pipeSource is a microphone whose PCM is written by the test.
type pipeSource struct {
	mu sync.Mutex
	w  *io.PipeWriter
}

func (s *pipeSource) Format() audio.Format { return audio.Format{SampleRate: 8000, Channels: 1} }

func (s *pipeSource) Open(context.Context) (io.ReadCloser, error) {
	r, w := io.Pipe()
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
	return r, nil
}

func (s *pipeSource) writer() *io.PipeWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w
}

func newCapturingController(t *testing.T) (*Controller, *pipeSource, *fakeTransport, func() []error) {
	t.Helper()
	src := &pipeSource{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	capturer, err := audio.NewCapturer(src, 100*time.Millisecond, logger)
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{state: transport.Open}

	var (
		mu   sync.Mutex
		errs []error
	)
	ctrl, err := New(capturer, tr, Options{
		Sink:   sink.NewMemoryStore(),
		Logger: logger,
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ctrl.Close() })

	reported := func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), errs...)
	}
	return ctrl, src, tr, reported
}

func TestCapturedInputEndReturnsToIdle(t *testing.T) {
	ctrl, src, tr, reported := newCapturingController(t)
	id, err := ctrl.Start("You")
	if err != nil {
		t.Fatal(err)
	}

	w := src.writer()
	if _, err := w.Write(make([]byte, 3200)); err != nil { // two 100ms fragments
		t.Fatal(err)
	}
	waitFor(t, "fragments sent", func() bool { return tr.sentCount() == 2 })
	w.Close()

	waitFor(t, "idle", func() bool { return ctrl.State() == Idle })
	if note := ctrl.LastNote(); note.SessionID != id {
		t.Errorf("last note = %+v, want session %s", note, id)
	}
	if errs := reported(); len(errs) != 0 {
		t.Errorf("end of input reported errors: %v", errs)
	}
}

func TestCapturedReadErrorFailsSession(t *testing.T) {
	ctrl, src, _, reported := newCapturingController(t)
	if _, err := ctrl.Start("You"); err != nil {
		t.Fatal(err)
	}

	src.writer().CloseWithError(errors.New("usb device removed"))

	waitFor(t, "failed", func() bool { return ctrl.State() == Failed })
	waitFor(t, "error reported", func() bool { return len(reported()) == 1 })
	if err := reported()[0]; !errors.Is(err, model.ErrDeviceUnavailable) {
		t.Errorf("reported %v, want ErrDeviceUnavailable", err)
	}
	if ctrl.SessionID() != "" {
		t.Errorf("session %q still live after device failure", ctrl.SessionID())
	}
}
