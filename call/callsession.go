package call

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/output"
	"github.com/mrsingh-rishi/meeting-scribe/stt"
	"github.com/mrsingh-rishi/meeting-scribe/types"
	"github.com/mrsingh-rishi/meeting-scribe/workers"
)

// Socket is one accepted client connection. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

const closeFrameTimeout = time.Second

type Options struct {
	Timeout      time.Duration // per transcription call
	MaxPending   int
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Call is the server side of one client connection. It owns the socket, a
// transcription worker and the output writer; nothing is shared with other calls.
type Call struct {
	ID                  string
	ws                  Socket
	TranscriptionWorker *workers.TranscriptionWorker
	OutputWorker        *output.SocketOutput
	ResultChannel       chan model.TranscriptionResult
	StartedAt           time.Time
	logger              *slog.Logger
	metrics             *metrics.Metrics
	done                chan struct{} // closed once everything is released
	cleanupOnce         sync.Once

	closeMu sync.Mutex
	closed  bool // set by CleanupResources; the socket may be recycled after that
}

func NewCall(ws Socket, transcriber stt.Transcriber, opts Options) (*Call, error) {
	if ws == nil {
		return nil, errors.New("socket is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	logger := opts.Logger.With("call_id", id)
	resultChannel := make(chan model.TranscriptionResult, 16)

	transcriptionWorker, err := workers.NewTranscriptionWorker(transcriber, resultChannel, workers.WorkerOptions{
		Timeout:    opts.Timeout,
		MaxPending: opts.MaxPending,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create transcription worker")
	}
	outputWorker, err := output.NewSocketOutput(ws, resultChannel, opts.WriteTimeout, logger, opts.Metrics)
	if err != nil {
		transcriptionWorker.Stop()
		return nil, errors.Wrap(err, "create output worker")
	}

	return &Call{
		ID:                  id,
		ws:                  ws,
		TranscriptionWorker: transcriptionWorker,
		OutputWorker:        outputWorker,
		ResultChannel:       resultChannel,
		StartedAt:           time.Now(),
		logger:              logger.With("component", "call"),
		metrics:             opts.Metrics,
		done:                make(chan struct{}),
	}, nil
}

// Start runs the call until the client goes away. It blocks.
func (c *Call) Start() {
	c.TranscriptionWorker.Start()
	c.OutputWorker.Start()
	c.logger.Info("Call started")

	c.StartReceivingAudio()
	<-c.done
}

// StartReceivingAudio reads audio messages until the socket fails or closes.
// Frames that are not valid audio messages are ignored.
func (c *Call) StartReceivingAudio() {
	defer c.CleanupResources()

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed normally")
			} else {
				c.logger.Warn("WebSocket read error", slog.String("error", err.Error()))
			}
			return
		}

		m, err := types.Decode(msg)
		if err != nil {
			c.metrics.RecordMalformedMessage()
			c.logger.Debug("Ignoring frame", slog.String("error", err.Error()))
			continue
		}

		switch m.Type {
		case types.TypeAudio:
			fragment, err := m.Fragment(c.ID)
			if err != nil {
				c.metrics.RecordMalformedMessage()
				continue
			}
			c.metrics.RecordFragmentReceived()
			c.TranscriptionWorker.Submit(fragment)

		default:
			c.metrics.RecordMalformedMessage()
			c.logger.Debug(fmt.Sprintf("Unexpected %s message from client", m.Type))
		}
	}
}

// Close asks the client to go away and expires the pending read, so the read
// loop returns and releases everything else. Once the call has cleaned up,
// Close does nothing.
func (c *Call) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout)); err != nil {
		c.logger.Debug("Close frame not sent", slog.String("error", err.Error()))
	}
	return c.ws.SetReadDeadline(time.Now())
}

// Done is closed once the call has released all of its resources.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// CleanupResources gracefully releases all resources associated with the Call instance.
func (c *Call) CleanupResources() {
	c.cleanupOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.ws.Close()
		c.closeMu.Unlock()

		if c.TranscriptionWorker != nil {
			c.TranscriptionWorker.Stop()
		}
		if c.OutputWorker != nil {
			c.OutputWorker.Stop()
		}
		c.logger.Info("Call ended", slog.Duration("duration", time.Since(c.StartedAt)))
		close(c.done)
	})
}
