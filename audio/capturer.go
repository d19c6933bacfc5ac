package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
)

// DefaultInterval is the fragment length used by the recording client.
const DefaultInterval = 2 * time.Second

var ErrNotCapturing = errors.New("capture not active")

// Capturer slices a live Source into fixed-duration, WAV-encoded fragments.
// One Capturer owns at most one open device at a time.
type Capturer struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	run      *captureRun
	paused   bool
	seq      uint64
	captured int64 // PCM bytes cut into fragments this session
}

type captureRun struct {
	cancel context.CancelFunc
	rc     io.ReadCloser
	done   chan struct{}
}

// NewCapturer creates a capturer that emits one fragment per interval of audio.
func NewCapturer(source Source, interval time.Duration, logger *slog.Logger) (*Capturer, error) {
	if source == nil {
		return nil, errors.New("audio source is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if err := source.Format().Validate(); err != nil {
		return nil, errors.Wrap(err, "source format")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		source:   source,
		interval: interval,
		logger:   logger.With("component", "capturer"),
	}, nil
}

// fragmentBytes is the PCM size of one interval, rounded down to whole frames.
func (c *Capturer) fragmentBytes() int {
	f := c.source.Format()
	n := int(int64(f.BytesPerSecond()) * int64(c.interval) / int64(time.Second))
	return n - n%f.FrameSize()
}

// Start acquires the device and begins emitting fragments for sessionID.
// Sequence numbers restart at 1. onDone is called once if the device ends on
// its own: with nil for a clean end of input, otherwise with an error that
// wraps model.ErrDeviceUnavailable. It is not called after Stop.
func (c *Capturer) Start(ctx context.Context, sessionID, speaker string, emit func(model.AudioFragment), onDone func(error)) error {
	if emit == nil {
		return errors.New("emit callback is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return errors.Wrap(model.ErrDeviceUnavailable, "device already in use by this capturer")
	}

	runCtx, cancel := context.WithCancel(ctx)
	rc, err := c.source.Open(runCtx)
	if err != nil {
		cancel()
		return errors.Wrap(model.ErrDeviceUnavailable, err.Error())
	}

	r := &captureRun{cancel: cancel, rc: rc, done: make(chan struct{})}
	c.run = r
	c.paused = false
	c.seq = 0
	c.captured = 0

	c.logger.Info("Capture started",
		slog.String("session_id", sessionID),
		slog.String("speaker", speaker),
		slog.Duration("interval", c.interval),
	)

	go c.loop(runCtx, r, sessionID, speaker, emit, onDone)
	return nil
}

func (c *Capturer) loop(ctx context.Context, r *captureRun, sessionID, speaker string, emit func(model.AudioFragment), onDone func(error)) {
	size := c.fragmentBytes()
	format := c.source.Format()
	bps := int64(format.BytesPerSecond())

	buf := make([]byte, 32*1024)
	pending := make([]byte, 0, size)

	var readErr error
	for {
		n, err := r.rc.Read(buf)
		if n > 0 && !c.isPaused() {
			pending = append(pending, buf[:n]...)
			for len(pending) >= size {
				c.emitFragment(pending[:size], format, bps, sessionID, speaker, emit)
				pending = append(pending[:0], pending[size:]...)
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	c.mu.Lock()
	stopped := c.run != r
	if !stopped {
		c.run = nil
	}
	c.mu.Unlock()

	// ctx is this run's own context; read it before cancel ends it.
	cancelled := ctx.Err() != nil
	r.cancel()
	_ = r.rc.Close()
	close(r.done)

	if stopped || cancelled {
		return
	}
	if readErr == io.EOF {
		c.logger.Info("Capture input ended", slog.String("session_id", sessionID))
		if onDone != nil {
			onDone(nil)
		}
		return
	}
	c.logger.Error("Capture device failed",
		slog.String("session_id", sessionID),
		slog.String("error", readErr.Error()),
	)
	if onDone != nil {
		onDone(errors.Wrap(model.ErrDeviceUnavailable, readErr.Error()))
	}
}

func (c *Capturer) emitFragment(pcm []byte, format Format, bps int64, sessionID, speaker string, emit func(model.AudioFragment)) {
	payload, err := EncodeWAV(pcm, format)
	if err != nil {
		c.logger.Warn("Dropping fragment that failed to encode", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	offset := time.Duration(c.captured) * time.Second / time.Duration(bps)
	c.captured += int64(len(pcm))
	c.mu.Unlock()

	emit(model.AudioFragment{
		SessionID:     sessionID,
		Sequence:      seq,
		Speaker:       speaker,
		Payload:       payload,
		CaptureOffset: offset,
	})
}

func (c *Capturer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause stops emitting fragments but keeps the device open.
func (c *Capturer) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ErrNotCapturing
	}
	c.paused = true
	return nil
}

// Resume continues emitting fragments after Pause.
func (c *Capturer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return ErrNotCapturing
	}
	c.paused = false
	return nil
}

// Stop releases the device and waits for the read loop to exit. Audio that
// has not yet filled a whole fragment is discarded. Safe to call repeatedly.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	r := c.run
	c.run = nil
	seq := c.seq
	c.mu.Unlock()

	if r == nil {
		return nil
	}

	r.cancel()
	_ = r.rc.Close()
	<-r.done

	c.logger.Info("Capture stopped", slog.Uint64("fragments", seq))
	return nil
}

// Active reports whether the device is currently held.
func (c *Capturer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Sequence returns the last sequence number emitted in the current session.
func (c *Capturer) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
