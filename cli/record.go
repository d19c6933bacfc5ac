package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/meeting-scribe/audio"
	"github.com/mrsingh-rishi/meeting-scribe/config"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/recorder"
	"github.com/mrsingh-rishi/meeting-scribe/sink"
	"github.com/mrsingh-rishi/meeting-scribe/transport"
)

type recordOptions struct {
	Speaker  string
	URL      string
	Input    string
	Realtime bool
	Duration time.Duration
	NoStore  bool
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record and transcribe a meeting",
		Long:  "Capture audio from the microphone (or a WAV file with --input), stream it to the transcription server and print results as they arrive.\nType p, r or q and Enter to pause, resume or stop. Ctrl+C also stops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Speaker == "" {
				opts.Speaker = deps.Config.Client.Speaker
			}
			if opts.URL == "" {
				opts.URL = deps.Config.Client.URL
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, deps, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Speaker, "speaker", "s", "", "Speaker label sent with every fragment")
	cmd.Flags().StringVar(&opts.URL, "url", "", "Transcription server websocket URL")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read audio from a 16-bit PCM WAV file instead of the microphone")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", true, "Pace --input at real-time speed")
	cmd.Flags().DurationVarP(&opts.Duration, "duration", "d", 0, "Stop automatically after this long (0 = until stopped)")
	cmd.Flags().BoolVar(&opts.NoStore, "no-store", false, "Keep the transcript in memory only")

	return cmd
}

func openStore(cfg config.StorageConfig, noStore bool) (sink.Store, error) {
	if noStore || cfg.Disabled {
		return sink.NewMemoryStore(), nil
	}
	return sink.OpenSQLite(cfg.Path)
}

func newSource(cfg config.CaptureConfig, input string, realtime bool) (audio.Source, error) {
	if input != "" {
		return audio.NewWAVFileSource(input, realtime)
	}
	src := audio.NewFFmpegSource(cfg.FFmpegPath, cfg.InputFormat, cfg.Device, audio.Format{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
	})
	if err := src.CheckFFmpeg(); err != nil {
		return nil, errors.Wrap(model.ErrDeviceUnavailable, err.Error())
	}
	return src, nil
}

func newTransport(cfg config.ClientConfig, url string, deps *Dependencies) (*transport.Transport, error) {
	return transport.New(transport.Options{
		URL: url,
		Backoff: transport.Backoff{
			Interval:   cfg.ReconnectInterval,
			Multiplier: cfg.ReconnectMultiplier,
			MaxDelay:   cfg.ReconnectMaxDelay,
		},
		MaxAttempts:  cfg.ReconnectAttempts,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       deps.Logger,
	})
}

func runRecord(ctx context.Context, deps *Dependencies, opts recordOptions) error {
	cfg := deps.Config
	out := NewFormatter(deps.Stdout)

	store, err := openStore(cfg.Storage, opts.NoStore)
	if err != nil {
		return err
	}
	defer store.Close()

	src, err := newSource(cfg.Capture, opts.Input, opts.Realtime)
	if err != nil {
		return err
	}
	capturer, err := audio.NewCapturer(src, cfg.Capture.Interval, deps.Logger)
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg.Client, opts.URL, deps)
	if err != nil {
		return err
	}

	ended := make(chan recorder.State, 1)
	failures := make(chan error, 1)
	ctrl, err := recorder.New(capturer, tr, recorder.Options{
		Sink:     store,
		Logger:   deps.Logger,
		OnResult: out.Result,
		OnState: func(from, to recorder.State) {
			out.State(from, to)
			if from == recorder.Stopping {
				select {
				case ended <- to:
				default:
				}
			}
		},
		OnError: reportFailure(out, failures),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Connect(ctx); err != nil {
		return errors.Wrapf(err, "connect to %s", opts.URL)
	}
	out.Connected(opts.URL)

	id, err := ctrl.Start(opts.Speaker)
	if err != nil {
		return err
	}
	out.RecordingStarted(id, opts.Speaker)

	var deadline <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		deadline = timer.C
	}
	commands := readCommands(deps.Stdin)

	for {
		select {
		case <-ctx.Done():
			return stopRecording(ctrl, out)
		case <-deadline:
			return stopRecording(ctrl, out)
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch line {
			case "p", "pause":
				if err := ctrl.Pause(); err != nil {
					out.Error(err.Error())
				}
			case "r", "resume":
				if err := ctrl.Resume(); err != nil {
					out.Error(err.Error())
				}
			case "q", "quit", "stop":
				return stopRecording(ctrl, out)
			case "":
			default:
				out.Info("Commands: p = pause, r = resume, q = stop")
			}
		case to := <-ended:
			if to == recorder.Idle {
				out.Info("Audio input ended")
			}
			out.RecordingStopped(ctrl.LastNote())
			if to != recorder.Failed {
				return nil
			}
			select {
			case err := <-failures:
				return err
			case <-time.After(time.Second):
				return errors.New("recording failed")
			}
		}
	}
}

// reportFailure keeps the first error that ends the session for the caller
// and prints anything else right away.
func reportFailure(out *Formatter, failures chan<- error) func(error) {
	return func(err error) {
		if !model.UserVisible(err) {
			out.Error(err.Error())
			return
		}
		select {
		case failures <- err:
		default:
		}
	}
}

func stopRecording(ctrl *recorder.Controller, out *Formatter) error {
	note, err := ctrl.Stop()
	out.RecordingStopped(note)
	return err
}

// readCommands delivers trimmed, lower-cased lines from r until it closes.
func readCommands(r io.Reader) <-chan string {
	ch := make(chan string)
	if r == nil {
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		}
	}()
	return ch
}
