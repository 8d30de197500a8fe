// Package session implements the live session: the connection state
// machine, inbound routing to playback, tool dispatch and text callbacks,
// and the non-blocking outbound media path.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/robolive/audio"
	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/internal/streaming"
	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/logger"
	"github.com/AltairaLabs/robolive/protocol"
	"github.com/AltairaLabs/robolive/tools"
)

// ErrNotConnected is returned by SendToolResponse when the session cannot
// send. Nothing is queued.
var ErrNotConnected = errors.New("session is not connected")

// Session is one connection to the live service. A Session is never reused:
// once it leaves StateConnected a new one must be created.
type Session struct {
	id         string
	cfg        Config
	emitter    *events.Emitter
	dispatcher *tools.Dispatcher
	tracer     trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	lastErr error
	conn    *streaming.Conn
	group   *errgroup.Group
	closing bool

	devMu           sync.Mutex
	recorderStarted bool
	playerStarted   bool

	notifyMu   sync.Mutex
	silenced   atomic.Bool
	inCallback atomic.Bool

	teardownOnce sync.Once
	teardownErr  error
	decodeErrors atomic.Int64

	playbackCh chan protocol.Event
	toolCh     chan []protocol.FunctionCall
	textCh     chan Response
}

func newSession(cfg Config) *Session {
	id := uuid.New().String()
	ctx := logger.WithSessionID(context.Background(), id)
	ctx = logger.WithModel(ctx, protocol.ModelPath(cfg.Model))
	ctx, cancel := context.WithCancel(ctx)

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("robolive/session")
	}

	s := &Session{
		id:         id,
		cfg:        cfg,
		emitter:    events.NewEmitter(cfg.Bus, id),
		tracer:     tracer,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateDisconnected,
		playbackCh: make(chan protocol.Event, cfg.EventBuffer),
		toolCh:     make(chan []protocol.FunctionCall, cfg.EventBuffer),
		textCh:     make(chan Response, cfg.EventBuffer),
	}
	s.dispatcher = tools.NewDispatcher(tools.DispatcherConfig{
		Registry:  cfg.Tools,
		Responder: s,
		Timeout:   cfg.ToolTimeout,
		Emitter:   s.emitter,
		Tracer:    tracer,
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateError, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Done is closed when the session has ended, for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// DecodeErrors returns the number of inbound frames that were malformed in
// whole or in part.
func (s *Session) DecodeErrors() int64 {
	return s.decodeErrors.Load()
}

// PendingToolCalls returns the number of tool calls awaiting a response.
func (s *Session) PendingToolCalls() int {
	return s.dispatcher.Pending()
}

// open runs the connect handshake: connecting, dial, setup frame, connected.
func (s *Session) open(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "session.connect", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("session.model", protocol.ModelPath(s.cfg.Model)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.transition(StateConnecting, nil)

	// Disconnect cancels s.ctx; that must also abort the dial.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(s.ctx, stop)()

	target, err := dialURL(s.cfg.Endpoint, s.cfg.APIKey)
	if err != nil {
		return s.abort(liveerr.Wrap(liveerr.KindConfig, "invalid endpoint", err))
	}

	conn := streaming.NewConn(&streaming.ConnConfig{
		URL:            target,
		DialTimeout:    s.cfg.DialTimeout,
		MediaQueueSize: s.cfg.MediaQueueSize,
		Logger:         connLogger{ctx: s.ctx},
	})
	if err := conn.Connect(ctx); err != nil {
		return s.abort(liveerr.Transport("failed to open connection", err))
	}

	setup, err := protocol.EncodeSetup(protocol.SetupConfig{
		Model:             s.cfg.Model,
		SystemInstruction: s.cfg.SystemInstruction,
		Tools:             s.cfg.Tools.Declarations(),
		Voice:             s.cfg.Voice,
		Transcribe:        s.cfg.Transcribe,
	})
	if err != nil {
		_ = conn.Close()
		return s.abort(liveerr.Transport("failed to encode setup frame", err))
	}
	if err := conn.Send(setup, streaming.PriorityControl); err != nil {
		_ = conn.Close()
		return s.abort(liveerr.Transport("failed to send setup frame", err))
	}
	s.emitter.ChunkSent(events.ChunkKindSetup, len(setup))

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return liveerr.Transport("session closed during connect", nil)
	}
	s.conn = conn
	s.mu.Unlock()

	conn.StartHeartbeat(s.ctx, s.cfg.HeartbeatInterval)

	if !s.transition(StateConnected, nil) {
		return liveerr.Transport("session closed during connect", nil)
	}

	s.startDevices()
	s.startWorkers()
	return nil
}

// abort moves a connecting session to StateError and releases it. A
// session already being disconnected stays disconnected.
func (s *Session) abort(err error) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		s.teardown()
		return liveerr.Transport("session closed during connect", err)
	}
	s.transition(StateError, err)
	s.teardown()
	return err
}

// transition applies a state change and notifies observers. It returns
// false when the change is not legal from the current state.
func (s *Session) transition(to State, err error) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return false
	}
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()

	logger.SessionState(s.ctx, from.String(), to.String(), err)
	s.emitter.StatusChanged(from.String(), to.String(), err)
	s.notifyStatus(StatusEvent{State: to, Err: err})
	return true
}

func (s *Session) startWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}

	g, ctx := errgroup.WithContext(s.ctx)
	conn := s.conn
	g.Go(func() error { return s.receiveLoop(ctx, conn) })
	g.Go(func() error { return s.playbackWorker(ctx) })
	g.Go(func() error { return s.dispatchWorker(ctx) })
	g.Go(func() error { return s.textWorker(ctx) })
	s.group = g
}

func (s *Session) startDevices() {
	s.devMu.Lock()
	defer s.devMu.Unlock()

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return
	}

	if p := s.cfg.Player; p != nil {
		if err := p.Start(); err != nil {
			s.deviceError("output", err)
		} else {
			s.playerStarted = true
		}
	}
	if r := s.cfg.Recorder; r != nil {
		if err := r.Start(s); err != nil {
			s.deviceError("input", err)
		} else {
			s.recorderStarted = true
		}
	}
}

// deviceError reports a device failure without changing the session state.
func (s *Session) deviceError(device string, err error) {
	if liveerr.KindOf(err) != liveerr.KindDevice {
		err = liveerr.Device(device+" device failed", err)
	}
	logger.ErrorContext(s.ctx, "audio device failed", "device", device, "error", err)
	s.emitter.DeviceError(device, err)
	s.notifyStatus(StatusEvent{State: s.State(), Err: err})
}

func (s *Session) receiveLoop(ctx context.Context, conn *streaming.Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return s.receiveFailed(ctx, err)
		}
		s.route(ctx, data)
	}
}

// receiveFailed ends the session after the receive path stopped. Local
// shutdown is silent; a close frame from the peer ends in StateDisconnected
// and anything else in StateError.
func (s *Session) receiveFailed(ctx context.Context, err error) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing || ctx.Err() != nil {
		return nil
	}

	if streaming.IsPeerClose(err) {
		var closeErr error
		if !streaming.IsNormalClose(err) {
			closeErr = liveerr.Transport("connection closed by server", err)
		}
		logger.InfoContext(ctx, "server closed the connection", "reason", err)
		s.transition(StateDisconnected, closeErr)
		s.teardown()
		return nil
	}

	terr := liveerr.Transport("connection lost", err)
	s.transition(StateError, terr)
	s.teardown()
	return terr
}

// route decodes one frame and forwards its events to the workers in order.
func (s *Session) route(ctx context.Context, data []byte) {
	evs, err := protocol.Decode(data)
	if err != nil {
		n := s.decodeErrors.Add(1)
		s.emitter.FrameDecodeFailed(len(data), err)
		if len(evs) == 0 {
			logger.WarnContext(ctx, "dropping malformed frame", "error", err, "bytes", len(data), "dropped", n)
			return
		}
		logger.WarnContext(ctx, "skipped undecodable parts of frame", "error", err, "bytes", len(data), "kept", len(evs))
	}
	s.emitter.FrameReceived(len(data), len(evs))

	for _, ev := range evs {
		switch ev.Kind {
		case protocol.EventAudio, protocol.EventInterrupted, protocol.EventTurnComplete:
			forward(ctx, s.playbackCh, ev)
		case protocol.EventToolUse:
			forward(ctx, s.toolCh, ev.Calls)
		case protocol.EventText:
			forward(ctx, s.textCh, Response{Text: ev.Text})
		case protocol.EventTranscript:
			forward(ctx, s.textCh, Response{Text: ev.Text, Transcript: true, Source: ev.Source})
		case protocol.EventSetupComplete:
			logger.DebugContext(ctx, "setup acknowledged")
		case protocol.EventGoAway:
			logger.WarnContext(ctx, "server will close the session", "time_left", ev.Text)
		}
	}
}

func forward[T any](ctx context.Context, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

func (s *Session) playbackWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.playbackCh:
			player := s.cfg.Player
			if player == nil {
				continue
			}
			switch ev.Kind {
			case protocol.EventAudio:
				rate := protocol.SampleRateFromMIME(ev.MIMEType, audio.SampleRate24kHz)
				if err := player.Enqueue(ev.Audio, rate); err != nil {
					logger.WarnContext(ctx, "audio buffer not scheduled", "error", err, "bytes", len(ev.Audio))
				}
			case protocol.EventInterrupted:
				player.Interrupt()
			case protocol.EventTurnComplete:
				player.EndOfTurn()
			}
		}
	}
}

func (s *Session) dispatchWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case calls := <-s.toolCh:
			s.notifyResponse(Response{ToolUse: calls})
			s.dispatcher.DispatchCalls(ctx, calls)
		}
	}
}

func (s *Session) textWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case resp := <-s.textCh:
			s.notifyResponse(resp)
		}
	}
}

func (s *Session) notifyStatus(ev StatusEvent) {
	if fn := s.cfg.Callbacks.OnStatusChange; fn != nil {
		s.invoke(func() { fn(ev) })
	}
}

func (s *Session) notifyResponse(resp Response) {
	if fn := s.cfg.Callbacks.OnResponse; fn != nil {
		s.invoke(func() { fn(resp) })
	}
}

// invoke runs one callback at a time. inCallback lets Disconnect tell that
// it may be running inside one.
func (s *Session) invoke(fn func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.silenced.Load() {
		return
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
}

// openConn returns the transport when sends are allowed.
func (s *Session) openConn() *streaming.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.closing || s.conn == nil {
		return nil
	}
	return s.conn
}

// SendAudioChunk sends a 16 kHz PCM16 chunk. It is a no-op unless the
// session is connected; a full send queue drops the chunk.
func (s *Session) SendAudioChunk(pcm []byte) {
	s.sendMedia(events.ChunkKindAudio, protocol.MIMETypeAudioPCM16k, pcm)
}

// SendVideoChunk sends a JPEG frame with the same policy as SendAudioChunk.
func (s *Session) SendVideoChunk(jpeg []byte) {
	s.sendMedia(events.ChunkKindVideo, protocol.MIMETypeJPEG, jpeg)
}

func (s *Session) sendMedia(kind, mimeType string, data []byte) {
	conn := s.openConn()
	if conn == nil {
		s.emitter.ChunkDropped(kind, events.DropReasonNotConnected)
		return
	}
	frame, err := protocol.EncodeMediaChunk(mimeType, data)
	if err != nil {
		s.emitter.ChunkDropped(kind, events.DropReasonEncode)
		return
	}
	if err := conn.Send(frame, streaming.PriorityMedia); err != nil {
		reason := events.DropReasonNotConnected
		if errors.Is(err, streaming.ErrQueueFull) {
			reason = events.DropReasonQueueFull
		}
		s.emitter.ChunkDropped(kind, reason)
		return
	}
	s.emitter.ChunkSent(kind, len(frame))
}

// SendToolResponse sends the response for tool call id. A result that
// cannot be encoded is replaced by an error result so the call is still
// answered.
func (s *Session) SendToolResponse(_ context.Context, id, name string, result any) error {
	conn := s.openConn()
	if conn == nil {
		s.emitter.ChunkDropped(events.ChunkKindToolResponse, events.DropReasonNotConnected)
		return ErrNotConnected
	}

	frame, err := protocol.EncodeToolResponse(id, name, result)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingID) {
			return err
		}
		frame, err = protocol.EncodeToolResponse(id, name, tools.ErrorResult{Error: err.Error()})
		if err != nil {
			return err
		}
	}
	if err := conn.Send(frame, streaming.PriorityControl); err != nil {
		s.emitter.ChunkDropped(events.ChunkKindToolResponse, events.DropReasonQueueFull)
		return liveerr.Transport("failed to queue tool response", err)
	}
	s.emitter.ChunkSent(events.ChunkKindToolResponse, len(frame))
	return nil
}

// Disconnect ends the session from any state, including while it is still
// connecting. It stops the devices, closes the transport, abandons pending
// tool calls and waits for every session goroutine. No callback starts after
// Disconnect returns. It is idempotent.
//
// Disconnect may be called from a callback. It then silences further
// callbacks and returns without waiting for the session goroutines, which
// exit on their own.
func (s *Session) Disconnect() error {
	if s.inCallback.Load() {
		s.silenced.Store(true)
		s.transition(StateDisconnected, nil)
		s.teardown()
		return s.teardownErr
	}

	s.transition(StateDisconnected, nil)
	s.teardown()

	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g != nil {
		_ = g.Wait()
	}

	s.silenced.Store(true)
	// Wait out a callback still running on another goroutine.
	s.notifyMu.Lock()
	s.notifyMu.Unlock() //nolint:staticcheck // empty critical section
	return s.teardownErr
}

// teardown releases everything the session owns. It does not wait for the
// workers, so it is safe to call from them.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		conn := s.conn
		s.mu.Unlock()

		s.cancel()

		var errs []error
		s.devMu.Lock()
		if s.recorderStarted {
			errs = append(errs, s.cfg.Recorder.Stop())
			s.recorderStarted = false
		}
		s.devMu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				logger.DebugContext(s.ctx, "transport close", "error", err)
			}
		}

		s.dispatcher.Close()

		s.devMu.Lock()
		if s.playerStarted {
			s.cfg.Player.Interrupt()
			errs = append(errs, s.cfg.Player.Stop())
			s.playerStarted = false
		}
		s.devMu.Unlock()

		s.teardownErr = errors.Join(errs...)
		if s.teardownErr != nil {
			logger.WarnContext(s.ctx, "device stop failed", "error", s.teardownErr)
		}
	})
}

// connLogger routes transport logs through the package logger with the
// credential redacted.
type connLogger struct {
	ctx context.Context
}

func (l connLogger) Debug(msg string, kv ...interface{}) {
	logger.DebugContext(l.ctx, msg, redactArgs(kv)...)
}

func (l connLogger) Info(msg string, kv ...interface{}) {
	logger.InfoContext(l.ctx, msg, redactArgs(kv)...)
}

func (l connLogger) Warn(msg string, kv ...interface{}) {
	logger.WarnContext(l.ctx, msg, redactArgs(kv)...)
}

func (l connLogger) Error(msg string, kv ...interface{}) {
	logger.ErrorContext(l.ctx, msg, redactArgs(kv)...)
}

func redactArgs(kv []interface{}) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		switch t := v.(type) {
		case string:
			out[i] = logger.RedactSensitiveData(t)
		case error:
			out[i] = logger.RedactSensitiveData(t.Error())
		default:
			out[i] = v
		}
	}
	return out
}
