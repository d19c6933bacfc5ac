package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/queue"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
)

// DefaultTimeout bounds one transcription call.
const DefaultTimeout = 30 * time.Second

type WorkerOptions struct {
	Timeout    time.Duration
	MaxPending int // 0 means unbounded
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// TranscriptionWorker transcribes the fragments of one connection strictly
// one at a time, in the order they were submitted. A failed fragment produces
// no result and is not retried.
type TranscriptionWorker struct {
	ctx                 context.Context
	cancel              context.CancelFunc
	transcriber         stt.Transcriber
	InputQueue          *queue.Queue[model.AudioFragment]
	ResultOutputChannel chan<- model.TranscriptionResult
	timeout             time.Duration
	maxPending          int
	logger              *slog.Logger
	metrics             *metrics.Metrics
	now                 func() time.Time
	done                chan struct{}
	startOnce, stopOnce sync.Once
}

func NewTranscriptionWorker(transcriber stt.Transcriber, resultOutputChannel chan<- model.TranscriptionResult, opts WorkerOptions) (*TranscriptionWorker, error) {
	// Params Validation
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if resultOutputChannel == nil {
		return nil, fmt.Errorf("result output channel is required")
	}
	if opts.MaxPending < 0 {
		return nil, fmt.Errorf("max pending must not be negative")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TranscriptionWorker{
		ctx:                 ctx,
		cancel:              cancel,
		transcriber:         transcriber,
		InputQueue:          queue.New[model.AudioFragment](),
		ResultOutputChannel: resultOutputChannel,
		timeout:             opts.Timeout,
		maxPending:          opts.MaxPending,
		logger:              opts.Logger.With("component", "transcription_worker"),
		metrics:             opts.Metrics,
		now:                 opts.Now,
		done:                make(chan struct{}),
	}, nil
}

// Start begins the worker's processing loop in its own goroutine.
func (tw *TranscriptionWorker) Start() {
	tw.startOnce.Do(func() {
		go tw.process()
	})
}

// Submit queues a fragment. It returns false when the worker is stopped or
// its backlog is full; the fragment is dropped in that case.
func (tw *TranscriptionWorker) Submit(f model.AudioFragment) bool {
	if tw.ctx.Err() != nil {
		return false
	}
	if tw.maxPending > 0 && tw.InputQueue.Len() >= tw.maxPending {
		tw.metrics.RecordFragmentDropped()
		tw.logger.Warn("Transcription backlog full, dropping fragment",
			slog.Uint64("seq", f.Sequence),
			slog.Int("pending", tw.InputQueue.Len()),
		)
		return false
	}
	tw.InputQueue.Enqueue(f)
	return true
}

// Pending returns the number of fragments waiting to be transcribed.
func (tw *TranscriptionWorker) Pending() int {
	return tw.InputQueue.Len()
}

func (tw *TranscriptionWorker) process() {
	defer close(tw.done)
	for {
		select {
		case <-tw.ctx.Done():
			tw.logger.Debug("TranscriptionWorker: Shutting down", slog.Int("discarded", tw.InputQueue.Len()))
			return
		case <-tw.InputQueue.Ready():
			for tw.ctx.Err() == nil {
				fragment, ok := tw.InputQueue.Dequeue()
				if !ok {
					break
				}
				tw.handle(fragment)
			}
		}
	}
}

func (tw *TranscriptionWorker) handle(f model.AudioFragment) {
	result, ok := tw.transcribe(f)
	if !ok {
		return
	}
	select {
	case tw.ResultOutputChannel <- result:
	case <-tw.ctx.Done():
	}
}

// transcribe runs one bounded call. Failures are absorbed here.
func (tw *TranscriptionWorker) transcribe(f model.AudioFragment) (model.TranscriptionResult, bool) {
	ctx, cancel := context.WithTimeout(tw.ctx, tw.timeout)
	defer cancel()

	start := time.Now()
	text, err := tw.transcriber.Transcribe(ctx, f.Payload)
	text = strings.TrimSpace(text)
	tw.metrics.RecordTranscription(time.Since(start), text, err)

	if err != nil {
		if tw.ctx.Err() != nil {
			return model.TranscriptionResult{}, false
		}
		err = errors.Wrap(model.ErrTranscriptionFailed, err.Error())
		tw.logger.Warn("Skipping fragment",
			slog.Uint64("seq", f.Sequence),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return model.TranscriptionResult{}, false
	}
	if text == "" {
		tw.logger.Debug("Fragment produced no text", slog.Uint64("seq", f.Sequence))
		return model.TranscriptionResult{}, false
	}

	speaker := strings.TrimSpace(f.Speaker)
	if speaker == "" {
		speaker = model.DefaultSpeaker
	}
	return model.TranscriptionResult{
		Speaker:   speaker,
		Text:      text,
		Timestamp: tw.now(),
		Sequence:  f.Sequence,
	}, true
}

// Stop cancels any in-flight call and waits for the loop to exit. Queued
// fragments are discarded.
func (tw *TranscriptionWorker) Stop() {
	tw.stopOnce.Do(func() {
		tw.cancel()
		started := true
		tw.startOnce.Do(func() { started = false })
		if started {
			<-tw.done
		}
	})
}
