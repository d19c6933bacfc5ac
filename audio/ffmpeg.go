package audio

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FFmpegSource captures a microphone through an ffmpeg subprocess that
// writes raw PCM to stdout. The device stays held until the stream is closed.
type FFmpegSource struct {
	Path         string // ffmpeg binary
	InputFormat  string // avfoundation, pulse, alsa, dshow
	Device       string // e.g. ":default" on macOS, "default" on pulse
	StartTimeout time.Duration
	format       Format
}

// NewFFmpegSource returns a source for device using the platform's default
// input format when inputFormat is empty.
func NewFFmpegSource(path, inputFormat, device string, f Format) *FFmpegSource {
	if path == "" {
		path = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = DefaultInputFormat()
	}
	if device == "" {
		device = defaultDevice(inputFormat)
	}
	return &FFmpegSource{
		Path:         path,
		InputFormat:  inputFormat,
		Device:       device,
		StartTimeout: 5 * time.Second,
		format:       f,
	}
}

// DefaultInputFormat picks the ffmpeg capture backend for this OS.
func DefaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func defaultDevice(inputFormat string) string {
	switch inputFormat {
	case "avfoundation":
		return ":default"
	case "dshow":
		return "audio=default"
	default:
		return "default"
	}
}

func (s *FFmpegSource) Format() Format { return s.format }

// CheckFFmpeg reports whether the ffmpeg binary can be found.
func (s *FFmpegSource) CheckFFmpeg() error {
	if _, err := exec.LookPath(s.Path); err != nil {
		return errors.Errorf("%s not found in PATH; install ffmpeg to record from a microphone", s.Path)
	}
	return nil
}

func (s *FFmpegSource) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", s.InputFormat,
		"-i", s.Device,
		"-ac", strconv.Itoa(s.format.Channels),
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open starts ffmpeg and waits until the first audio bytes arrive, so a
// denied or missing device fails here rather than mid-session.
func (s *FFmpegSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := s.CheckFFmpeg(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.Path, s.args()...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "start ffmpeg")
	}

	p := &processReader{
		cmd:    cmd,
		br:     bufio.NewReaderSize(stdout, 64*1024),
		stderr: stderr,
	}

	probe := make(chan error, 1)
	go func() {
		_, err := p.br.Peek(1)
		probe <- err
	}()

	timer := time.NewTimer(s.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-probe:
		if err != nil {
			p.Close()
			return nil, errors.Errorf("ffmpeg produced no audio from %s %q: %s",
				s.InputFormat, s.Device, p.stderrText(err))
		}
	case <-timer.C:
		p.Close()
		return nil, errors.Errorf("ffmpeg did not start capturing within %s", s.StartTimeout)
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	}
	return p, nil
}

// processReader owns the ffmpeg process; Close kills it and releases the device.
type processReader struct {
	cmd    *exec.Cmd
	br     *bufio.Reader
	stderr *tailBuffer

	once sync.Once
}

func (p *processReader) Read(b []byte) (int, error) {
	n, err := p.br.Read(b)
	if err == io.EOF {
		// ffmpeg exiting on its own means the device went away.
		if werr := p.wait(); werr != nil {
			return n, errors.Errorf("ffmpeg exited: %s", p.stderrText(werr))
		}
	}
	return n, err
}

func (p *processReader) wait() error {
	var err error
	p.once.Do(func() {
		err = p.cmd.Wait()
	})
	return err
}

func (p *processReader) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.wait()
	return nil
}

func (p *processReader) stderrText(fallback error) string {
	if s := strings.TrimSpace(p.stderr.String()); s != "" {
		return s
	}
	return fallback.Error()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(b)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
