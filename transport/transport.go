// Package transport keeps one logical duplex channel to the transcription
// server alive across physical reconnects.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/types"
)

// State of the logical channel.
type State int

const (
	Closed State = iota
	Connecting
	Open
	Error // terminal until the next Connect
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Conn is the physical socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialFunc opens one physical connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// StateChange is delivered to OnStateChange handlers. Err carries the cause
// of a drop or the terminal error; Retry is set when a reconnect is scheduled.
type StateChange struct {
	From  State
	To    State
	Err   error
	Retry model.ConnectionAttempt
}

// Stats counts physical connection events over the transport's lifetime.
type Stats struct {
	Connects int
	Drops    int
	Attempts int
}

type Options struct {
	URL          string
	Backoff      Backoff
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Dial         DialFunc // defaults to a gorilla/websocket dialer
	Logger       *slog.Logger
}

// DefaultOptions returns the reconnect policy used by the recording client.
func DefaultOptions(url string) Options {
	return Options{
		URL:          url,
		Backoff:      DefaultBackoff,
		MaxAttempts:  DefaultMaxAttempts,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Transport is a reconnecting websocket client. Inbound messages are delivered
// from a single goroutine in arrival order. Nothing is buffered: a Send while
// the channel is not Open fails with model.ErrNotConnected.
type Transport struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	lastErr   error
	changed   chan struct{} // closed and replaced on every transition
	conn      Conn
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
	stats     Stats
	onMessage func(types.Message)
	onState   func(StateChange)

	writeMu sync.Mutex
}

func New(opts Options) (*Transport, error) {
	if opts.URL == "" {
		return nil, errors.New("transport url is required")
	}
	if opts.MaxAttempts < 0 {
		return nil, errors.New("max attempts must not be negative")
	}
	if opts.Backoff.Interval <= 0 {
		return nil, errors.New("backoff interval must be positive")
	}
	if opts.Dial == nil {
		opts.Dial = GorillaDialer(opts.DialTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{
		opts:    opts,
		logger:  opts.Logger.With("component", "transport"),
		state:   Closed,
		changed: make(chan struct{}),
	}, nil
}

// GorillaDialer dials with gorilla/websocket, honoring proxy settings from the environment.
func GorillaDialer(handshakeTimeout time.Duration) DialFunc {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, _, err := d.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// OnMessage registers the inbound message handler. Malformed frames never reach it.
func (t *Transport) OnMessage(h func(types.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = h
}

// OnStateChange registers the transition handler. Handlers run on the
// transport's goroutine and must not block or call Close.
func (t *Transport) OnStateChange(h func(StateChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = h
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Connect starts the connection loop if it is not already running and waits
// until the channel is Open, the attempt ceiling is exceeded, or ctx ends.
// Cancelling ctx only stops the wait; the loop keeps reconnecting.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Wrap(model.ErrTransportClosed, "transport closed")
	}
	if !t.running {
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		if t.cancel != nil {
			t.cancel()
		}
		t.running = true
		t.cancel = cancel
		t.done = done
		h := t.transitionLocked(Connecting, nil, model.ConnectionAttempt{})
		t.mu.Unlock()
		h()
		go t.run(runCtx, done)
		t.mu.Lock()
	}

	for {
		switch t.state {
		case Open:
			t.mu.Unlock()
			return nil
		case Error:
			err := t.lastErr
			t.mu.Unlock()
			return err
		}
		if !t.running {
			t.mu.Unlock()
			return errors.Wrap(model.ErrTransportClosed, "transport closed")
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.mu.Lock()
	}
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		conn, err := t.dial(ctx)
		if err == nil {
			failures = 0
			t.attach(conn)
			err = t.readLoop(ctx, conn)
			t.detach(conn)
			if ctx.Err() == nil {
				t.mu.Lock()
				t.stats.Drops++
				t.mu.Unlock()
				t.logger.Warn("Connection dropped", slog.String("error", err.Error()))
			}
			err = errors.Wrap(model.ErrTransportClosed, err.Error())
		}
		if ctx.Err() != nil {
			t.finish(Closed, nil)
			return
		}

		failures++
		if failures > t.opts.MaxAttempts {
			t.logger.Error("Giving up reconnecting",
				slog.Int("attempts", failures-1),
				slog.String("error", err.Error()),
			)
			t.finish(Error, errors.Wrap(model.ErrReconnectExhausted, err.Error()))
			return
		}

		retry := model.ConnectionAttempt{Attempt: failures, Delay: t.opts.Backoff.Delay(failures)}
		t.mu.Lock()
		t.stats.Attempts++
		h := t.transitionLocked(Closed, err, retry)
		t.mu.Unlock()
		h()

		t.logger.Info("Reconnecting",
			slog.Int("attempt", retry.Attempt),
			slog.Int("max_attempts", t.opts.MaxAttempts),
			slog.Duration("delay", retry.Delay),
		)

		timer := time.NewTimer(retry.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			t.finish(Closed, nil)
			return
		}
		t.setState(Connecting, nil)
	}
}

func (t *Transport) dial(ctx context.Context) (Conn, error) {
	dialCtx := ctx
	if t.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()
	}
	conn, err := t.opts.Dial(dialCtx, t.opts.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", t.opts.URL)
	}
	return conn, nil
}

func (t *Transport) attach(conn Conn) {
	t.mu.Lock()
	t.conn = conn
	t.stats.Connects++
	h := t.transitionLocked(Open, nil, model.ConnectionAttempt{})
	t.mu.Unlock()
	h()
	t.logger.Info("Connected", slog.String("url", t.opts.URL))
}

func (t *Transport) detach(conn Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// readLoop delivers inbound messages until the socket fails or ctx ends.
func (t *Transport) readLoop(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := types.Decode(data)
		if err != nil {
			t.logger.Debug("Ignoring inbound frame", slog.String("error", err.Error()))
			continue
		}

		t.mu.Lock()
		h := t.onMessage
		t.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// Send writes one message. Without an open channel it fails immediately with
// model.ErrNotConnected; a write failure drops the socket, returns
// model.ErrTransportClosed and leaves recovery to the reconnect loop.
func (t *Transport) Send(m types.Message) error {
	t.mu.Lock()
	conn := t.conn
	open := t.state == Open
	t.mu.Unlock()
	if !open || conn == nil {
		return model.ErrNotConnected
	}

	data, err := types.Encode(m)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = conn.Close()
		return errors.Wrap(model.ErrTransportClosed, err.Error())
	}
	return nil
}

// Close stops reconnecting, closes the socket and waits for the connection
// loop to exit. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, done, conn := t.cancel, t.done, t.conn
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	t.setState(Closed, nil)
	return nil
}

func (t *Transport) setState(to State, err error) {
	t.mu.Lock()
	h := t.transitionLocked(to, err, model.ConnectionAttempt{})
	t.mu.Unlock()
	h()
}

// finish records the loop's final state.
func (t *Transport) finish(to State, err error) {
	t.mu.Lock()
	t.running = false
	t.conn = nil
	h := t.transitionLocked(to, err, model.ConnectionAttempt{})
	t.mu.Unlock()
	h()
}

// transitionLocked updates the state and returns the notification to run
// once the lock is released.
func (t *Transport) transitionLocked(to State, err error, retry model.ConnectionAttempt) func() {
	from := t.state
	if from == to && err == nil {
		// Still wake waiters: running may have changed.
		close(t.changed)
		t.changed = make(chan struct{})
		return func() {}
	}
	t.state = to
	t.lastErr = err
	close(t.changed)
	t.changed = make(chan struct{})

	h := t.onState
	if h == nil {
		return func() {}
	}
	change := StateChange{From: from, To: to, Err: err, Retry: retry}
	return func() { h(change) }
}
