package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/mrsingh-rishi/meeting-scribe/metrics"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/types"
)

// Socket is the write half of a client connection.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

// SocketOutput is the only writer on its socket: results from the worker are
// serialized as transcription messages in the order they arrive.
type SocketOutput struct {
	ctx                 context.Context
	cancel              context.CancelFunc
	ResultInputChannel  <-chan model.TranscriptionResult
	ws                  Socket
	writeTimeout        time.Duration
	logger              *slog.Logger
	metrics             *metrics.Metrics
	done                chan struct{}
	startOnce, stopOnce sync.Once
}

func NewSocketOutput(
	ws Socket,
	resultInputChannel <-chan model.TranscriptionResult,
	writeTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*SocketOutput, error) {
	if ws == nil {
		return nil, fmt.Errorf("socket is required")
	}
	if resultInputChannel == nil {
		return nil, fmt.Errorf("result input channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketOutput{
		ctx:                ctx,
		cancel:             cancel,
		ResultInputChannel: resultInputChannel,
		ws:                 ws,
		writeTimeout:       writeTimeout,
		logger:             logger.With("component", "socket_output"),
		metrics:            m,
		done:               make(chan struct{}),
	}, nil
}

func (o *SocketOutput) Start() {
	o.startOnce.Do(func() {
		go func() {
			defer close(o.done)
			for {
				select {
				case <-o.ctx.Done():
					return
				case result, ok := <-o.ResultInputChannel:
					if !ok {
						return
					}
					o.sendTranscription(result)
				}
			}
		}()
	})
}

// sendTranscription writes one result. A failed write is logged; the read
// side of the connection notices the broken socket and ends the call.
func (o *SocketOutput) sendTranscription(r model.TranscriptionResult) {
	data, err := types.Encode(types.NewTranscriptionMessage(r))
	if err != nil {
		o.logger.Error("Failed to encode transcription", slog.String("error", err.Error()))
		return
	}
	if o.writeTimeout > 0 {
		_ = o.ws.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	err = o.ws.WriteMessage(websocket.TextMessage, data)
	o.metrics.RecordResultSent(err)
	if err != nil {
		o.logger.Warn("Transcription write failed",
			slog.Uint64("seq", r.Sequence),
			slog.String("error", err.Error()),
		)
	}
}

// Stop ends the writer loop and waits for an in-progress write to finish.
// The socket itself belongs to the caller.
func (o *SocketOutput) Stop() {
	o.stopOnce.Do(func() {
		o.cancel()
		started := true
		o.startOnce.Do(func() { started = false })
		if started {
			<-o.done
		}
	})
}
