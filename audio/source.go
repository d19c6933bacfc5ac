package audio

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const bitsPerSample = 16

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is what Whisper-style backends expect.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// FrameSize is the number of bytes per sample across all channels.
func (f Format) FrameSize() int { return f.Channels * bitsPerSample / 8 }

// BytesPerSecond of PCM audio in this format.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Validate checks the format is usable.
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		return errors.Errorf("sample rate must be between 8000 and 48000, got %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return errors.Errorf("channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// Source is an audio input device. Open acquires it exclusively and returns
// a stream of raw PCM; closing the stream releases the device.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Format() Format
}

// WAVFileSource plays a WAV file as if it were a live microphone.
type WAVFileSource struct {
	path     string
	data     wavData
	realtime bool
}

// NewWAVFileSource reads the header of path. With realtime set, reads are
// paced to the audio's own rate.
func NewWAVFileSource(path string, realtime bool) (*WAVFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open wav file")
	}
	defer f.Close()

	data, err := readWAVData(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &WAVFileSource{path: path, data: data, realtime: realtime}, nil
}

func (s *WAVFileSource) Format() Format { return s.data.Format }

// Duration of the audio in the file.
func (s *WAVFileSource) Duration() time.Duration {
	return time.Duration(s.data.Size) * time.Second / time.Duration(s.data.Format.BytesPerSecond())
}

func (s *WAVFileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "open wav file")
	}
	if _, err := f.Seek(s.data.Offset, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "seek to audio data")
	}

	r := &pacedReader{
		r:     io.LimitReader(f, s.data.Size),
		c:     f,
		start: time.Now(),
		bps:   int64(s.data.Format.BytesPerSecond()),
		pace:  s.realtime,
		done:  make(chan struct{}),
	}
	return r, nil
}

// pacedReader releases bytes no faster than bps when pace is set.
type pacedReader struct {
	r     io.Reader
	c     io.Closer
	start time.Time
	bps   int64
	pace  bool
	read  int64

	once sync.Once
	done chan struct{}
}

func (p *pacedReader) Read(b []byte) (int, error) {
	// Keep reads small so pacing stays smooth.
	if p.pace && int64(len(b)) > p.bps/10 {
		b = b[:p.bps/10]
	}
	n, err := p.r.Read(b)
	p.read += int64(n)

	if p.pace && n > 0 {
		due := p.start.Add(time.Duration(p.read) * time.Second / time.Duration(p.bps))
		if wait := time.Until(due); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-p.done:
				return n, io.ErrClosedPipe
			}
		}
	}
	return n, err
}

func (p *pacedReader) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.c.Close()
	})
	return err
}
