package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/robolive/audio"
	"github.com/AltairaLabs/robolive/protocol"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// fakeLive is a minimal live service. Every frame a client sends is pushed
// to frames; tests drive the server side through the accepted liveConn.
type fakeLive struct {
	srv      *httptest.Server
	frames   chan []byte
	conns    chan *liveConn
	connects atomic.Int32

	mu   sync.Mutex
	keys []string
}

type liveConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newFakeLive(t *testing.T) *fakeLive {
	t.Helper()
	f := &fakeLive{
		frames: make(chan []byte, 1024),
		conns:  make(chan *liveConn, 4),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.connects.Add(1)
		f.mu.Lock()
		f.keys = append(f.keys, r.URL.Query().Get("key"))
		f.mu.Unlock()

		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.conns <- &liveConn{ws: ws}
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			select {
			case f.frames <- data:
			default:
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLive) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeLive) lastKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.keys) == 0 {
		return ""
	}
	return f.keys[len(f.keys)-1]
}

func (f *fakeLive) accept(t *testing.T) *liveConn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// nextFrame returns the next client frame.
func (f *fakeLive) nextFrame(t *testing.T) protocol.ClientMessage {
	t.Helper()
	select {
	case data := <-f.frames:
		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client sent invalid JSON: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return protocol.ClientMessage{}
	}
}

// nextToolResponse skips frames until a tool response arrives.
func (f *fakeLive) nextToolResponse(t *testing.T) *protocol.ToolResponse {
	t.Helper()
	for {
		msg := f.nextFrame(t)
		if msg.ToolResponse != nil {
			return msg.ToolResponse
		}
	}
}

// countToolResponses drains frames for d and counts tool responses.
func (f *fakeLive) countToolResponses(d time.Duration) int {
	n := 0
	deadline := time.After(d)
	for {
		select {
		case data := <-f.frames:
			var msg protocol.ClientMessage
			if json.Unmarshal(data, &msg) == nil && msg.ToolResponse != nil {
				n += len(msg.ToolResponse.FunctionResponses)
			}
		case <-deadline:
			return n
		}
	}
}

func (c *liveConn) send(t *testing.T, frame string) {
	t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("server write failed: %v", err)
	}
}

func (c *liveConn) trySend(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *liveConn) closeWith(code int) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "bye"))
}

// abort drops the TCP connection without a close frame.
func (c *liveConn) abort() {
	_ = c.ws.Close()
}

type statusLog struct {
	mu     sync.Mutex
	events []StatusEvent
	ch     chan StatusEvent
}

func newStatusLog() *statusLog {
	return &statusLog{ch: make(chan StatusEvent, 64)}
}

func (l *statusLog) record(ev StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.ch <- ev:
	default:
	}
}

func (l *statusLog) all() []StatusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]StatusEvent(nil), l.events...)
}

func (l *statusLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.State
	}
	return out
}

func (l *statusLog) waitFor(t *testing.T, state State) StatusEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.State == state {
				return ev
			}
		case <-deadline:
			t.Fatalf("state %s not reached; saw %v", state, l.states())
			return StatusEvent{}
		}
	}
}

type fakePlayer struct {
	mu       sync.Mutex
	calls    []string
	started  int
	stopped  int
	startErr error
}

func (p *fakePlayer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started++
	return nil
}

func (p *fakePlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	return nil
}

func (p *fakePlayer) Enqueue(pcm []byte, rate int) error {
	p.record(fmt.Sprintf("audio:%d:%d", len(pcm), rate))
	return nil
}

func (p *fakePlayer) Interrupt() { p.record("interrupt") }
func (p *fakePlayer) EndOfTurn() { p.record("end") }

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) snapshot() (calls []string, started, stopped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...), p.started, p.stopped
}

type fakeRecorder struct {
	mu       sync.Mutex
	sink     audio.ChunkSink
	stopped  int
	startErr error
}

func (r *fakeRecorder) Start(sink audio.ChunkSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.sink = sink
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = nil
	r.stopped++
	return nil
}

func (r *fakeRecorder) current() audio.ChunkSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}
