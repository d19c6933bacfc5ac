// Package recorder drives one recording client: it starts, pauses, resumes
// and stops sessions, moving audio to the transport and results into the
// session's transcript.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/meeting-scribe/assembler"
	"github.com/mrsingh-rishi/meeting-scribe/model"
	"github.com/mrsingh-rishi/meeting-scribe/queue"
	"github.com/mrsingh-rishi/meeting-scribe/sink"
	"github.com/mrsingh-rishi/meeting-scribe/transport"
	"github.com/mrsingh-rishi/meeting-scribe/types"
)

type State int

const (
	Idle State = iota
	Starting
	Recording
	Paused
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("recorder closed")

// Capturer is the audio device side. *audio.Capturer satisfies it.
type Capturer interface {
	Start(ctx context.Context, sessionID, speaker string, emit func(model.AudioFragment), onDone func(error)) error
	Pause() error
	Resume() error
	Stop() error
}

// Transport is the duplex channel. *transport.Transport satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Send(m types.Message) error
	State() transport.State
	OnMessage(h func(types.Message))
	OnStateChange(h func(transport.StateChange))
	Close() error
}

// Options wires the controller's collaborators and callbacks. Callbacks run
// on the controller's goroutine; they must not block or call back into it.
type Options struct {
	Sink            sink.Sink // nil keeps transcripts in memory only
	Logger          *slog.Logger
	Now             func() time.Time
	FinalizeTimeout time.Duration
	OnState         func(from, to State)
	OnResult        func(model.TranscriptionResult)
	OnError         func(error)
}

type eventKind int

const (
	evCommand eventKind = iota
	evFragment
	evMessage
	evTransport
	evDeviceDone
)

type command int

const (
	cmdStart command = iota
	cmdPause
	cmdResume
	cmdStop
	cmdClose
)

type reply struct {
	sessionID string
	note      model.StoredNote
	err       error
}

type event struct {
	kind      eventKind
	cmd       command
	speaker   string
	reply     chan reply
	fragment  model.AudioFragment
	msg       types.Message
	change    transport.StateChange
	sessionID string
	err       error
}

type session struct {
	id        string
	speaker   string
	startedAt time.Time
	assembler *assembler.Assembler
	sent      int
	dropped   int
}

// Controller owns one recording client's session graph. All state changes
// happen on a single goroutine that consumes an event queue.
type Controller struct {
	capturer  Capturer
	transport Transport
	opts      Options
	logger    *slog.Logger
	events    *queue.Queue[event]

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	session *session // loop goroutine only

	mu             sync.Mutex // guards the snapshot below
	state          State
	sessionID      string
	elapsed        time.Duration
	resumedAt      time.Time
	current        *assembler.Assembler
	lastNote       model.StoredNote
	lastTranscript model.Transcript
}

// New wires the controller to its collaborators and starts its event loop.
func New(c Capturer, t Transport, opts Options) (*Controller, error) {
	if c == nil {
		return nil, errors.New("capturer is required")
	}
	if t == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctrl := &Controller{
		capturer:  c,
		transport: t,
		opts:      opts,
		logger:    opts.Logger.With("component", "recorder"),
		events:    queue.New[event](),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Idle,
	}

	t.OnMessage(func(m types.Message) {
		ctrl.events.Enqueue(event{kind: evMessage, msg: m})
	})
	t.OnStateChange(func(ch transport.StateChange) {
		ctrl.events.Enqueue(event{kind: evTransport, change: ch})
	})

	go ctrl.run()
	return ctrl, nil
}

// Connect opens the transport. Used at boot and to recover after Failed.
func (c *Controller) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Start begins a new session and returns its id. The transport must be Open.
func (c *Controller) Start(speaker string) (string, error) {
	r := c.post(event{kind: evCommand, cmd: cmdStart, speaker: speaker})
	return r.sessionID, r.err
}

func (c *Controller) Pause() error {
	return c.post(event{kind: evCommand, cmd: cmdPause}).err
}

func (c *Controller) Resume() error {
	return c.post(event{kind: evCommand, cmd: cmdResume}).err
}

// Stop ends the session and returns the stored note. Stopping when no
// session is live returns an empty note and no error.
func (c *Controller) Stop() (model.StoredNote, error) {
	r := c.post(event{kind: evCommand, cmd: cmdStop})
	return r.note, r.err
}

// Close stops any live session, closes the transport and ends the event loop.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.post(event{kind: evCommand, cmd: cmdClose}).err
		<-c.done
		c.cancel()
	})
	return err
}

func (c *Controller) post(ev event) reply {
	ev.reply = make(chan reply, 1)
	select {
	case <-c.done:
		return reply{err: ErrClosed}
	default:
	}
	c.events.Enqueue(ev)
	select {
	case r := <-ev.reply:
		return r
	case <-c.done:
		return reply{err: ErrClosed}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID of the live session, or "".
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Elapsed is the time spent recording in the current (or last) session.
// Paused time is not counted.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Recording {
		return c.elapsed + c.opts.Now().Sub(c.resumedAt)
	}
	return c.elapsed
}

// Transcript returns the live transcript, or the last finalized one.
func (c *Controller) Transcript() model.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.Snapshot()
	}
	return c.lastTranscript
}

// LastNote returns the note stored by the most recent finished session.
func (c *Controller) LastNote() model.StoredNote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastNote
}

func (c *Controller) run() {
	defer close(c.done)
	for range c.events.Ready() {
		for {
			ev, ok := c.events.Dequeue()
			if !ok {
				break
			}
			if closed := c.handle(ev); closed {
				return
			}
		}
	}
}

func (c *Controller) handle(ev event) (closed bool) {
	switch ev.kind {
	case evCommand:
		var r reply
		switch ev.cmd {
		case cmdStart:
			r.sessionID, r.err = c.handleStart(ev.speaker)
		case cmdPause:
			r.err = c.handlePause()
		case cmdResume:
			r.err = c.handleResume()
		case cmdStop:
			r.note, r.err = c.handleStop()
		case cmdClose:
			if c.session != nil {
				r.note, r.err = c.finish(Idle)
			}
			if err := c.transport.Close(); err != nil && r.err == nil {
				r.err = err
			}
			closed = true
		}
		ev.reply <- r
	case evFragment:
		c.handleFragment(ev.fragment)
	case evMessage:
		c.handleMessage(ev.msg)
	case evTransport:
		c.handleTransport(ev.change)
	case evDeviceDone:
		c.handleDeviceDone(ev.sessionID, ev.err)
	}
	return closed
}

func (c *Controller) handleStart(speaker string) (string, error) {
	if st := c.State(); st != Idle && st != Failed {
		return "", errors.Wrapf(model.ErrInvalidState, "cannot start while %s", st)
	}
	if c.transport.State() != transport.Open {
		return "", model.ErrNotConnected
	}
	if speaker == "" {
		speaker = model.DefaultSpeaker
	}

	prev := c.State()
	c.setState(Starting)

	id := uuid.NewString()
	sess := &session{
		id:        id,
		speaker:   speaker,
		startedAt: c.opts.Now(),
		assembler: assembler.New(id, c.opts.Sink, c.opts.Logger),
	}

	emit := func(f model.AudioFragment) {
		c.events.Enqueue(event{kind: evFragment, fragment: f})
	}
	onDone := func(err error) {
		c.events.Enqueue(event{kind: evDeviceDone, sessionID: id, err: err})
	}
	if err := c.capturer.Start(c.ctx, id, speaker, emit, onDone); err != nil {
		c.logger.Error("Could not start capture", slog.String("error", err.Error()))
		c.setState(prev)
		if !errors.Is(err, model.ErrDeviceUnavailable) {
			err = errors.Wrap(model.ErrDeviceUnavailable, err.Error())
		}
		return "", err
	}

	c.session = sess
	c.mu.Lock()
	c.sessionID = id
	c.current = sess.assembler
	c.elapsed = 0
	c.resumedAt = c.opts.Now()
	c.mu.Unlock()
	c.setState(Recording)

	c.logger.Info("Recording started", slog.String("session_id", id), slog.String("speaker", speaker))
	return id, nil
}

func (c *Controller) handlePause() error {
	if st := c.State(); st != Recording {
		return errors.Wrapf(model.ErrInvalidState, "cannot pause while %s", st)
	}
	if err := c.capturer.Pause(); err != nil {
		return err
	}
	c.freezeElapsed()
	c.setState(Paused)
	return nil
}

func (c *Controller) handleResume() error {
	if st := c.State(); st != Paused {
		return errors.Wrapf(model.ErrInvalidState, "cannot resume while %s", st)
	}
	if c.transport.State() != transport.Open {
		return model.ErrNotConnected
	}
	if err := c.capturer.Resume(); err != nil {
		return err
	}
	c.mu.Lock()
	c.resumedAt = c.opts.Now()
	c.mu.Unlock()
	c.setState(Recording)
	return nil
}

func (c *Controller) handleStop() (model.StoredNote, error) {
	if c.session == nil {
		return model.StoredNote{}, nil
	}
	return c.finish(Idle)
}

// finish releases the device, finalizes the transcript and moves to final.
func (c *Controller) finish(final State) (model.StoredNote, error) {
	sess := c.session
	c.freezeElapsed()
	c.setState(Stopping)

	if err := c.capturer.Stop(); err != nil {
		c.logger.Warn("Capture stop failed", slog.String("error", err.Error()))
	}

	transcript := sess.assembler.Snapshot()
	transcript.StartedAt = sess.startedAt
	transcript.Duration = c.Elapsed()

	note := model.StoredNote{
		SessionID:   sess.id,
		Entries:     len(transcript.Entries),
		Text:        transcript.Text(),
		StartedAt:   sess.startedAt,
		FinalizedAt: c.opts.Now(),
		Duration:    transcript.Duration,
	}
	var err error
	if c.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.FinalizeTimeout)
		stored, ferr := c.opts.Sink.FinalizeTranscript(ctx, sess.id, transcript)
		cancel()
		if ferr != nil {
			err = errors.Wrap(ferr, "finalize transcript")
			c.logger.Error("Failed to store transcript", slog.String("session_id", sess.id), slog.String("error", ferr.Error()))
		} else {
			note = stored
		}
	}

	c.session = nil
	c.mu.Lock()
	c.sessionID = ""
	c.current = nil
	c.lastTranscript = transcript
	c.lastNote = note
	c.mu.Unlock()
	c.setState(final)

	c.logger.Info("Recording finished",
		slog.String("session_id", sess.id),
		slog.String("state", final.String()),
		slog.Int("entries", note.Entries),
		slog.Int("fragments_sent", sess.sent),
		slog.Int("fragments_dropped", sess.dropped),
		slog.Duration("elapsed", transcript.Duration),
	)
	return note, err
}

// handleFragment forwards audio while recording with an open transport.
// Anything else is dropped; audio is never queued for later.
func (c *Controller) handleFragment(f model.AudioFragment) {
	sess := c.session
	if sess == nil || f.SessionID != sess.id {
		return
	}
	if c.State() != Recording {
		sess.dropped++
		return
	}
	if err := c.transport.Send(types.NewAudioMessage(f)); err != nil {
		sess.dropped++
		c.logger.Debug("Fragment not sent",
			slog.Uint64("seq", f.Sequence),
			slog.String("error", err.Error()),
		)
		return
	}
	sess.sent++
}

func (c *Controller) handleMessage(m types.Message) {
	if m.Type != types.TypeTranscription {
		return
	}
	sess := c.session
	if sess == nil {
		c.logger.Debug("Dropping transcription received with no live session", slog.Uint64("seq", m.Seq))
		return
	}
	r, err := m.Result()
	if err != nil {
		return
	}
	sess.assembler.OnResult(c.ctx, r)
	if c.opts.OnResult != nil {
		c.opts.OnResult(r)
	}
}

func (c *Controller) handleTransport(ch transport.StateChange) {
	c.logger.Debug("Transport state changed",
		slog.String("from", ch.From.String()),
		slog.String("to", ch.To.String()),
	)
	if ch.To != transport.Error {
		return
	}
	if c.session != nil {
		c.finish(Failed)
	}
	c.report(ch.Err)
}

func (c *Controller) handleDeviceDone(sessionID string, err error) {
	sess := c.session
	if sess == nil || sess.id != sessionID {
		return
	}
	if err == nil {
		c.logger.Info("Audio input ended", slog.String("session_id", sessionID))
		c.finish(Idle)
		return
	}
	c.finish(Failed)
	c.report(err)
}

func (c *Controller) report(err error) {
	if err == nil {
		return
	}
	c.logger.Error("Recording failed", slog.String("error", err.Error()))
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Controller) freezeElapsed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Recording {
		now := c.opts.Now()
		c.elapsed += now.Sub(c.resumedAt)
		c.resumedAt = now
	}
}

func (c *Controller) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to && c.opts.OnState != nil {
		c.opts.OnState(from, to)
	}
}
