// Package session implements the live voice interview: the state machine
// that owns one streaming connection to the voice agent, the capture pipeline
// feeding it microphone frames, and the inbound protocol handling that keeps
// the connection alive and schedules the agent's speech for playback.
//
// A [Session] moves through [StateIdle], [StateConnecting], [StateLive],
// [StateEnding] and [StateError]. Every resource of one attempt (transport,
// microphone, outbound queue, goroutines) is owned by that attempt and
// released exactly once, whichever way it ends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careerdeck/voiceinterview/internal/observe"
	"github.com/careerdeck/voiceinterview/pkg/audio"
	"github.com/careerdeck/voiceinterview/pkg/provider/s2s"
	"github.com/careerdeck/voiceinterview/pkg/provider/s2s/elevenlabs"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultQueueSize is the number of encoded-pending frames buffered
	// between the capture thread and the send loop.
	DefaultQueueSize = 8

	// DefaultFallbackRate is used for both directions until the agent
	// announces its audio formats.
	DefaultFallbackRate = 16000

	writeTimeout = 5 * time.Second
)

// CredentialSource mints the single-use URL the session dials. It is backed
// by the trusted intermediary; the session never holds the provider key.
type CredentialSource interface {
	SignedURL(ctx context.Context) (string, error)
}

// CredentialFunc adapts a plain function to [CredentialSource].
type CredentialFunc func(ctx context.Context) (string, error)

// SignedURL implements [CredentialSource].
func (f CredentialFunc) SignedURL(ctx context.Context) (string, error) { return f(ctx) }

// Config is supplied by the caller for one interview.
type Config struct {
	// CoachName is sent as the coach_name dynamic variable.
	CoachName string

	// Overrides is sent as conversation_config_override. Nil sends {}.
	Overrides map[string]any

	// DynamicVariables are extra prompt variables. coach_name always wins.
	DynamicVariables map[string]any
}

// AudioFormat holds the PCM rates negotiated with the agent.
type AudioFormat struct {
	// InputRate is the rate the agent expects microphone audio at.
	InputRate int
	// OutputRate is the rate of the agent's synthesized speech.
	OutputRate int
}

// Transcript is one line of conversation text reported by the agent.
type Transcript struct {
	// Role is "user" for the agent's transcription of the candidate and
	// "agent" for the agent's own reply.
	Role string
	Text string
}

// Options configures a [Session]. Credentials, Dialer, Capture and Scheduler
// are required.
type Options struct {
	Credentials CredentialSource
	Dialer      s2s.Dialer
	Capture     audio.CaptureDevice
	Scheduler   *audio.Scheduler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// QueueSize bounds the outbound frame queue. When it is full the oldest
	// frame is dropped. Defaults to DefaultQueueSize.
	QueueSize int

	// FallbackRate is the PCM rate assumed before negotiation. Defaults to
	// DefaultFallbackRate.
	FallbackRate int

	// FramePool supplies capture frame buffers; its size is the frame size.
	// Defaults to a pool of [audio.DefaultFrameSize].
	FramePool *audio.FramePool
}

// Session is a voice interview client. Begin, End, SetMuted and the
// accessors are safe for concurrent use. Callbacks registered with
// OnStateChange and OnTranscript may be invoked from any goroutine and must
// not block.
type Session struct {
	opts    Options
	metrics *observe.Metrics
	logger  *slog.Logger

	muted atomic.Bool

	mu           sync.Mutex
	state        State
	err          *Error
	cur          *liveSession
	onState      func(State)
	onTranscript func(Transcript)
}

// New validates opts and returns an idle Session.
func New(opts Options) (*Session, error) {
	var errs []error
	if opts.Credentials == nil {
		errs = append(errs, errors.New("session: Credentials is required"))
	}
	if opts.Dialer == nil {
		errs = append(errs, errors.New("session: Dialer is required"))
	}
	if opts.Capture == nil {
		errs = append(errs, errors.New("session: Capture is required"))
	}
	if opts.Scheduler == nil {
		errs = append(errs, errors.New("session: Scheduler is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.FallbackRate <= 0 {
		opts.FallbackRate = DefaultFallbackRate
	}
	if opts.FramePool == nil {
		opts.FramePool = audio.NewFramePool(audio.DefaultFrameSize)
	}
	return &Session{
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}, nil
}

// OnStateChange registers fn to be called after every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// OnTranscript registers fn to receive transcript lines.
func (s *Session) OnTranscript(fn func(Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = fn
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that put the session into [StateError], or nil.
// It is cleared by the next Begin.
func (s *Session) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Format returns the audio format of the current attempt. Before
// negotiation both rates equal the fallback rate; with no attempt running it
// returns the zero value.
func (s *Session) Format() AudioFormat {
	s.mu.Lock()
	l := s.cur
	s.mu.Unlock()
	if l == nil {
		return AudioFormat{}
	}
	return l.audioFormat()
}

// SetMuted suppresses or resumes transmission of microphone audio. Capture
// keeps running while muted so that unmuting takes effect immediately.
func (s *Session) SetMuted(muted bool) {
	if s.muted.Swap(muted) != muted {
		s.logger.Info("microphone mute changed", "muted", muted)
	}
}

// Muted reports whether transmission is suppressed.
func (s *Session) Muted() bool { return s.muted.Load() }

// Begin starts an interview and returns once it is live. A running attempt
// is torn down first. On failure the session is left in [StateError] and
// the returned error is the *[Error] also reported by Err; if the attempt is
// ended or replaced before it goes live, Begin returns [ErrEnded].
//
// ctx bounds the connect phase only.
func (s *Session) Begin(ctx context.Context, cfg Config) (err error) {
	ctx, span := observe.StartSpan(ctx, "session.Begin")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	prev := s.cur
	s.mu.Unlock()
	if prev != nil {
		s.logger.Info("replacing running interview", "session_id", prev.id)
		s.End()
	}

	l := s.newLiveSession(ctx)
	span.SetAttributes(observe.Attr("session_id", l.id))

	// A concurrent Begin may have installed its attempt since prev was read.
	s.mu.Lock()
	raced := s.cur
	s.cur = l
	s.err = nil
	notify := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	notify()

	if raced != nil {
		l.logger.Info("replacing concurrent interview", "replaced_session_id", raced.id)
		raced.ending.Store(true)
		s.teardown(raced, s2s.CloseNormal, "interview replaced")
	}
	s.opts.Scheduler.Reset()

	// Cancelling ctx aborts the connect phase only.
	stop := context.AfterFunc(ctx, l.cancel)
	defer stop()

	l.logger.Info("interview connecting", "coach_name", cfg.CoachName)

	start := time.Now()
	signedURL, err := s.opts.Credentials.SignedURL(l.ctx)
	s.metrics.CredentialDuration.Record(l.ctx, time.Since(start).Seconds())
	if err != nil {
		return s.fail(l, KindCredential, fmt.Errorf("fetch signed url: %w", err))
	}

	tr, err := s.opts.Dialer.Dial(l.ctx, signedURL)
	if err != nil {
		return s.fail(l, KindTransport, fmt.Errorf("dial agent: %w", err))
	}
	if !s.attach(l, tr) {
		_ = tr.Close(s2s.CloseNormal, "interview ended")
		return ErrEnded
	}

	initMsg, err := json.Marshal(elevenlabs.NewInitiationClientData(cfg.CoachName, cfg.Overrides, cfg.DynamicVariables))
	if err != nil {
		return s.fail(l, KindTransport, fmt.Errorf("encode session start: %w", err))
	}
	if err := l.write(initMsg); err != nil {
		return s.fail(l, KindTransport, fmt.Errorf("send session start: %w", err))
	}

	go s.receiveLoop(l)
	go s.sendLoop(l)

	if err := l.pipeline.Start(l.ctx, s.opts.Capture, func(f audio.Frame) { s.enqueue(l, f) }); err != nil {
		if errors.Is(err, ErrPipelineStopped) {
			return s.abandoned()
		}
		return s.fail(l, KindCapture, err)
	}

	s.mu.Lock()
	if s.cur != l || s.state != StateConnecting {
		s.mu.Unlock()
		return s.abandoned()
	}
	notify = s.setStateLocked(StateLive)
	s.mu.Unlock()
	notify()

	l.logger.Info("interview live", "capture_rate", l.pipeline.SampleRate())
	return nil
}

// End ends the interview. It is idempotent, safe from any state and any
// goroutine, and always leaves the session in [StateIdle]. Transport close
// and resource release are attempted even if some of them fail.
func (s *Session) End() {
	s.mu.Lock()
	l := s.cur
	s.cur = nil
	notify := func() {}
	if l != nil {
		notify = s.setStateLocked(StateEnding)
	}
	s.mu.Unlock()
	notify()

	if l != nil {
		l.ending.Store(true)
		s.teardown(l, s2s.CloseNormal, "interview ended")
		l.logger.Info("interview ended")
	}
	s.opts.Scheduler.Stop()
	s.opts.Scheduler.Reset()

	s.mu.Lock()
	notify = func() {}
	if s.cur == nil {
		notify = s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	notify()
}

// setStateLocked records a transition and returns a function that fires the
// state callback; call it after releasing s.mu.
func (s *Session) setStateLocked(next State) func() {
	prev := s.state
	if prev == next {
		return func() {}
	}
	s.state = next

	ctx := context.Background()
	s.metrics.RecordTransition(ctx, next.String())
	if next == StateLive {
		s.metrics.ActiveSessions.Add(ctx, 1)
	} else if prev == StateLive {
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
	s.logger.Debug("session state changed", "from", prev, "to", next)

	fn := s.onState
	return func() {
		if fn != nil {
			fn(next)
		}
	}
}

// fail moves l's attempt into StateError unless it has already been ended or
// replaced, tears it down and returns the classified error.
func (s *Session) fail(l *liveSession, kind ErrorKind, cause error) error {
	e := newError(kind, cause)

	s.mu.Lock()
	if s.cur != l {
		s.mu.Unlock()
		s.teardown(l, s2s.CloseNormal, "interview ended")
		return ErrEnded
	}
	s.cur = nil
	s.err = e
	s.mu.Unlock()

	s.metrics.RecordSessionError(context.Background(), kind.String())
	l.logger.Error("interview failed", "kind", kind, "err", cause)

	s.teardown(l, s2s.CloseGoingAway, kind.String())

	s.mu.Lock()
	notify := func() {}
	if s.cur == nil && (s.state == StateConnecting || s.state == StateLive) {
		notify = s.setStateLocked(StateError)
	}
	s.mu.Unlock()
	notify()
	return e
}

// abandoned is the result of a Begin whose attempt was torn down by someone
// else: the recorded failure if it failed, ErrEnded otherwise.
func (s *Session) abandoned() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && s.cur == nil {
		return s.err
	}
	return ErrEnded
}

// attach hands the dialed transport to l. It reports false if l is no longer
// the current attempt, in which case the caller owns tr.
func (s *Session) attach(l *liveSession, tr s2s.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != l {
		return false
	}
	l.transport = tr
	l.open.Store(true)
	return true
}

// teardown releases everything l owns. Only the first call per attempt has
// any effect.
func (s *Session) teardown(l *liveSession, code websocket.StatusCode, reason string) {
	l.teardownOnce.Do(func() {
		l.open.Store(false)

		var errs []error
		if l.transport != nil {
			if err := l.transport.Close(code, reason); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}
		l.cancel()
		if err := l.pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
		// The scheduler is shared; a replaced attempt must not pause its
		// successor's playback.
		s.mu.Lock()
		current := s.cur
		s.mu.Unlock()
		if current == nil || current == l {
			s.opts.Scheduler.Stop()
		}

		if err := errors.Join(errs...); err != nil {
			l.logger.Debug("interview teardown incomplete", "err", err)
		}
	})
}

func (s *Session) transcriptHandler() func(Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onTranscript
}

// newLiveSession allocates the per-attempt state. Its context keeps ctx's
// values but not its cancellation.
func (s *Session) newLiveSession(ctx context.Context) *liveSession {
	id := uuid.NewString()
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := observe.WithTrace(ctx, s.logger.With("session_id", id))
	return &liveSession{
		id:       id,
		ctx:      lctx,
		cancel:   cancel,
		logger:   logger,
		queue:    make(chan audio.Frame, s.opts.QueueSize),
		pipeline: NewPipeline(s.opts.FramePool, logger),
		format:   AudioFormat{InputRate: s.opts.FallbackRate, OutputRate: s.opts.FallbackRate},
	}
}

// liveSession is one Begin attempt. Its fields outlive the attempt only as
// long as its goroutines do.
type liveSession struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	// transport is set once under Session.mu before the attempt can be torn
	// down, and only read afterwards.
	transport s2s.Transport
	open      atomic.Bool
	ending    atomic.Bool
	writeMu   sync.Mutex

	queue    chan audio.Frame
	pipeline *Pipeline
	encoder  audio.Encoder // send loop only

	fmtMu   sync.Mutex
	format  AudioFormat
	latched bool

	teardownOnce sync.Once
}

// write sends one message. Writes are serialised so that a pong is never
// interleaved with or overtaken by a later message.
func (l *liveSession) write(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if !l.open.Load() {
		return errTransportClosed
	}
	ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
	defer cancel()
	return l.transport.Write(ctx, data)
}

var errTransportClosed = errors.New("session: transport not open")

func (l *liveSession) audioFormat() AudioFormat {
	l.fmtMu.Lock()
	defer l.fmtMu.Unlock()
	return l.format
}
