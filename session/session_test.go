package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/robolive/liveerr"
	"github.com/AltairaLabs/robolive/protocol"
	"github.com/AltairaLabs/robolive/tools"
)

var planTrajectory = tools.Declaration{
	Name:        "plan_trajectory",
	Description: "Plan a robot trajectory path from an object to a destination.",
	Parameters: json.RawMessage(`{"type":"OBJECT","properties":{` +
		`"object":{"type":"STRING"},"destination":{"type":"STRING"}},` +
		`"required":["object","destination"]}`),
}

func testConfig(f *fakeLive, log *statusLog) Config {
	return Config{
		APIKey:            "test-key",
		Endpoint:          f.url(),
		SystemInstruction: "You are a helpful robot.",
		Callbacks:         Callbacks{OnStatusChange: log.record},
	}
}

func connect(t *testing.T, cfg Config) (*Client, *Session) {
	t.Helper()
	client := NewClient(cfg)
	s, err := client.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect() })
	return client, s
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(StateDisconnected, StateConnecting))
	assert.True(t, canTransition(StateConnecting, StateConnected))
	assert.True(t, canTransition(StateConnected, StateError))
	assert.True(t, canTransition(StateConnected, StateDisconnected))
	assert.False(t, canTransition(StateDisconnected, StateConnected))
	assert.False(t, canTransition(StateError, StateDisconnected))
	assert.False(t, canTransition(StateError, StateConnecting))
}

func TestDialURL(t *testing.T) {
	u, err := dialURL("wss://example.com/ws?alt=1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.com/ws?alt=1&key=abc", u)

	_, err = dialURL("://bad", "abc")
	assert.Error(t, err)
}

func TestClient_EmptyCredentialFailsBeforeDialing(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	cfg := testConfig(f, log)
	cfg.APIKey = ""

	client := NewClient(cfg)
	s, err := client.Connect(context.Background())

	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, liveerr.ErrConfig))
	assert.Equal(t, liveerr.KindConfig, liveerr.KindOf(err))
	assert.Nil(t, client.Session())
	assert.Empty(t, log.states())
	assert.Equal(t, int32(0), f.connects.Load())
}

func TestClient_ConnectSendsSetupFirst(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	cfg := testConfig(f, log)
	cfg.Tools = tools.NewRegistry()
	require.NoError(t, cfg.Tools.RegisterFunc(planTrajectory, func(context.Context, tools.Invocation) (any, error) {
		return nil, nil
	}))

	client, s := connect(t, cfg)

	assert.Equal(t, []State{StateConnecting, StateConnected}, log.states())
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, StateConnected, client.State())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "test-key", f.lastKey())

	msg := f.nextFrame(t)
	require.NotNil(t, msg.Setup)
	assert.Equal(t, "models/"+protocol.DefaultModel, msg.Setup.Model)
	assert.Equal(t, []string{"AUDIO"}, msg.Setup.GenerationConfig.ResponseModalities)
	require.NotNil(t, msg.Setup.SystemInstruction)
	assert.Equal(t, "You are a helpful robot.", msg.Setup.SystemInstruction.Parts[0].Text)
	require.Len(t, msg.Setup.Tools, 1)
	require.Len(t, msg.Setup.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "plan_trajectory", msg.Setup.Tools[0].FunctionDeclarations[0].Name)
}

func TestClient_DialFailureIsTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + srv.URL[len("http"):]
	srv.Close()

	log := newStatusLog()
	client := NewClient(Config{
		APIKey:      "k",
		Endpoint:    endpoint,
		DialTimeout: time.Second,
		Callbacks:   Callbacks{OnStatusChange: log.record},
	})

	_, err := client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, liveerr.ErrTransport))
	assert.Equal(t, []State{StateConnecting, StateError}, log.states())
	assert.Equal(t, StateError, client.State())
	assert.NotContains(t, err.Error(), "key=k")
}

func TestClient_DisconnectWhileConnecting(t *testing.T) {
	// Accepts TCP but never answers the handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	log := newStatusLog()
	client := NewClient(Config{
		APIKey:      "k",
		Endpoint:    "ws://" + ln.Addr().String(),
		DialTimeout: 10 * time.Second,
		Callbacks:   Callbacks{OnStatusChange: log.record},
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Connect(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		s := client.Session()
		return s != nil && s.State() == StateConnecting && !s.inCallback.Load()
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, client.Disconnect())
	assert.Less(t, time.Since(start), time.Second)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, liveerr.ErrTransport))
	case <-time.After(2 * time.Second):
		t.Fatal("Connect still dialing after Disconnect")
	}
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, log.states())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestSession_DisconnectFromStatusCallback(t *testing.T) {
	f := newFakeLive(t)
	var client *Client
	returned := make(chan error, 1)
	cfg := testConfig(f, newStatusLog())
	cfg.Callbacks.OnStatusChange = func(ev StatusEvent) {
		if ev.State == StateError {
			returned <- client.Disconnect()
		}
	}
	client = NewClient(cfg)
	s, err := client.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect() })

	f.accept(t).abort()

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect called from a callback did not return")
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not done")
	}
	assert.Equal(t, StateError, s.State())
	require.NoError(t, client.Disconnect())
}

func TestSession_SendWhileNotConnectedIsNoop(t *testing.T) {
	s := newSession((&Config{APIKey: "k"}).withDefaults())
	assert.NotPanics(t, func() {
		s.SendAudioChunk([]byte{1, 2})
		s.SendVideoChunk([]byte{0xff, 0xd8})
	})
	err := s.SendToolResponse(context.Background(), "x1", "plan_trajectory", "ok")
	assert.ErrorIs(t, err, ErrNotConnected)

	f := newFakeLive(t)
	client, connected := connect(t, testConfig(f, newStatusLog()))
	f.nextFrame(t) // setup
	require.NoError(t, client.Disconnect())

	connected.SendAudioChunk([]byte{1, 2})
	connected.SendVideoChunk([]byte{0xff, 0xd8})
	client.SendAudioChunk([]byte{1, 2})

	select {
	case data := <-f.frames:
		t.Fatalf("unexpected frame after disconnect: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_SendsMediaChunks(t *testing.T) {
	f := newFakeLive(t)
	client, _ := connect(t, testConfig(f, newStatusLog()))
	f.nextFrame(t) // setup

	client.SendAudioChunk([]byte{1, 0, 2, 0})
	msg := f.nextFrame(t)
	require.NotNil(t, msg.RealtimeInput)
	require.Len(t, msg.RealtimeInput.MediaChunks, 1)
	assert.Equal(t, "audio/pcm;rate=16000", msg.RealtimeInput.MediaChunks[0].MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0}), msg.RealtimeInput.MediaChunks[0].Data)

	client.SendVideoChunk([]byte{0xff, 0xd8, 0xff})
	msg = f.nextFrame(t)
	require.NotNil(t, msg.RealtimeInput)
	assert.Equal(t, "image/jpeg", msg.RealtimeInput.MediaChunks[0].MIMEType)
}

func TestClient_ReconnectCreatesFreshSession(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	client, first := connect(t, testConfig(f, log))
	conn := f.accept(t)

	conn.abort()
	log.waitFor(t, StateError)
	assert.Equal(t, StateError, first.State())

	second, err := client.Connect(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateError, first.State())
	assert.Equal(t, StateConnected, second.State())
	assert.Equal(t,
		[]State{StateConnecting, StateConnected, StateError, StateConnecting, StateConnected},
		log.states())
	assert.Equal(t, int32(2), f.connects.Load())
}

func TestClient_DisconnectThenConnect(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	client, first := connect(t, testConfig(f, log))

	require.NoError(t, client.Disconnect())
	require.NoError(t, client.Disconnect())
	assert.Equal(t, StateDisconnected, first.State())

	select {
	case <-first.Done():
	default:
		t.Fatal("session not done after disconnect")
	}

	second, err := client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateConnected, second.State())
	assert.Equal(t,
		[]State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected},
		log.states())
}

func TestSession_PeerCloseDisconnects(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	_, s := connect(t, testConfig(f, log))

	f.accept(t).closeWith(websocket.CloseNormalClosure)

	ev := log.waitFor(t, StateDisconnected)
	assert.NoError(t, ev.Err)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not done after peer close")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ReadErrorIsTerminal(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	_, s := connect(t, testConfig(f, log))

	f.accept(t).abort()

	ev := log.waitFor(t, StateError)
	assert.True(t, errors.Is(ev.Err, liveerr.ErrTransport))
	assert.True(t, errors.Is(s.Err(), liveerr.ErrTransport))

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateError, s.State())
}

func TestSession_MalformedFrameDoesNotEndSession(t *testing.T) {
	f := newFakeLive(t)
	texts := make(chan string, 4)
	cfg := testConfig(f, newStatusLog())
	cfg.Callbacks.OnResponse = func(r Response) { texts <- r.Text }
	_, s := connect(t, cfg)
	conn := f.accept(t)

	conn.send(t, `{"serverContent": {`)
	conn.send(t, `{"serverContent":{"modelTurn":{"parts":[{"text":"still here"}]}}}`)

	select {
	case text := <-texts:
		assert.Equal(t, "still here", text)
	case <-time.After(2 * time.Second):
		t.Fatal("no text after malformed frame")
	}
	assert.Equal(t, int64(1), s.DecodeErrors())
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_RoutesAudioAndControlToPlayer(t *testing.T) {
	f := newFakeLive(t)
	player := &fakePlayer{}
	var mu sync.Mutex
	var responses []Response
	cfg := testConfig(f, newStatusLog())
	cfg.Player = player
	cfg.Callbacks.OnResponse = func(r Response) {
		mu.Lock()
		responses = append(responses, r)
		mu.Unlock()
	}
	_, s := connect(t, cfg)
	conn := f.accept(t)

	pcm := base64.StdEncoding.EncodeToString([]byte{0, 1, 0, 2})
	conn.send(t, fmt.Sprintf(`{"serverContent":{"modelTurn":{"parts":[`+
		`{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":%q}},{"text":"hi"}]}}}`, pcm))
	conn.send(t, `{"serverContent":{"interrupted":true}}`)
	conn.send(t, `{"serverContent":{"outputTranscription":{"text":"hello there"},"turnComplete":true}}`)

	require.Eventually(t, func() bool {
		calls, _, _ := player.snapshot()
		return len(calls) == 3
	}, 2*time.Second, 10*time.Millisecond)

	calls, started, _ := player.snapshot()
	assert.Equal(t, []string{"audio:4:24000", "interrupt", "end"}, calls)
	assert.Equal(t, 1, started)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(responses) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, Response{Text: "hi"}, responses[0])
	assert.Equal(t, Response{Text: "hello there", Transcript: true, Source: "output"}, responses[1])
	mu.Unlock()

	require.NoError(t, s.Disconnect())
	_, _, stopped := player.snapshot()
	assert.Equal(t, 1, stopped)
}

func TestSession_RecorderFeedsSession(t *testing.T) {
	f := newFakeLive(t)
	recorder := &fakeRecorder{}
	cfg := testConfig(f, newStatusLog())
	cfg.Recorder = recorder
	_, s := connect(t, cfg)
	f.nextFrame(t) // setup

	sink := recorder.current()
	require.NotNil(t, sink)
	sink.SendAudioChunk([]byte{9, 0})

	msg := f.nextFrame(t)
	require.NotNil(t, msg.RealtimeInput)
	assert.Equal(t, protocol.MIMETypeAudioPCM16k, msg.RealtimeInput.MediaChunks[0].MIMEType)

	require.NoError(t, s.Disconnect())
	assert.Nil(t, recorder.current())
	assert.Equal(t, 1, recorder.stopped)
}

func TestSession_DeviceErrorKeepsSessionConnected(t *testing.T) {
	f := newFakeLive(t)
	log := newStatusLog()
	cfg := testConfig(f, log)
	cfg.Recorder = &fakeRecorder{startErr: errors.New("no microphone")}
	_, s := connect(t, cfg)

	var deviceEv *StatusEvent
	for _, ev := range log.all() {
		if ev.Err != nil {
			deviceEv = &ev
		}
	}
	require.NotNil(t, deviceEv)
	assert.Equal(t, StateConnected, deviceEv.State)
	assert.True(t, errors.Is(deviceEv.Err, liveerr.ErrDevice))
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_NoCallbacksAfterDisconnect(t *testing.T) {
	f := newFakeLive(t)
	var count atomic.Int64
	cfg := testConfig(f, newStatusLog())
	cfg.Callbacks.OnResponse = func(Response) { count.Add(1) }
	_, s := connect(t, cfg)
	conn := f.accept(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if conn.trySend(`{"serverContent":{"modelTurn":{"parts":[{"text":"spam"}]}}}`) != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return count.Load() > 5 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect())
	after := count.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, count.Load())
}

func TestSession_ToolCallRoundTrip(t *testing.T) {
	f := newFakeLive(t)
	var toolUses atomic.Int32
	cfg := testConfig(f, newStatusLog())
	cfg.Tools = tools.NewRegistry()
	require.NoError(t, cfg.Tools.RegisterFunc(planTrajectory, func(_ context.Context, inv tools.Invocation) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return []map[string]any{{"point": []int{500, 500}, "label": "0"}}, nil
	}))
	cfg.Callbacks.OnResponse = func(r Response) {
		if len(r.ToolUse) > 0 {
			toolUses.Add(1)
		}
	}
	_, s := connect(t, cfg)
	conn := f.accept(t)

	conn.send(t, `{"toolUse":{"functionCalls":[{"id":"x1","name":"plan_trajectory",`+
		`"args":{"object":"red cup","destination":"tray"}}]}}`)

	resp := f.nextToolResponse(t)
	require.Len(t, resp.FunctionResponses, 1)
	assert.Equal(t, "x1", resp.FunctionResponses[0].ID)
	assert.Equal(t, "plan_trajectory", resp.FunctionResponses[0].Name)
	assert.NotNil(t, resp.FunctionResponses[0].Response.Result)

	assert.Equal(t, 0, f.countToolResponses(500*time.Millisecond))
	assert.Equal(t, int32(1), toolUses.Load())
	assert.Equal(t, 0, s.PendingToolCalls())
}

func TestSession_BadAudioPartStillAnswersToolCall(t *testing.T) {
	f := newFakeLive(t)
	cfg := testConfig(f, newStatusLog())
	cfg.Tools = tools.NewRegistry()
	require.NoError(t, cfg.Tools.RegisterFunc(planTrajectory, func(context.Context, tools.Invocation) (any, error) {
		return "planned", nil
	}))
	_, s := connect(t, cfg)
	conn := f.accept(t)

	conn.send(t, `{"toolCall":{"functionCalls":[{"id":"x1","name":"plan_trajectory",`+
		`"args":{"object":"cup","destination":"tray"}}]},`+
		`"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"!!notbase64"}}]}}}`)

	resp := f.nextToolResponse(t)
	require.Len(t, resp.FunctionResponses, 1)
	assert.Equal(t, "x1", resp.FunctionResponses[0].ID)
	assert.Equal(t, int64(1), s.DecodeErrors())
	assert.Equal(t, StateConnected, s.State())
}

func TestSession_FailingToolStillAnswered(t *testing.T) {
	f := newFakeLive(t)
	cfg := testConfig(f, newStatusLog())
	cfg.Tools = tools.NewRegistry()
	require.NoError(t, cfg.Tools.RegisterFunc(planTrajectory, func(context.Context, tools.Invocation) (any, error) {
		return nil, errors.New("destination not visible")
	}))
	connect(t, cfg)
	conn := f.accept(t)

	conn.send(t, `{"toolCall":{"functionCalls":[{"id":"x1","name":"plan_trajectory",`+
		`"args":{"object":"red cup","destination":"tray"}}]}}`)

	resp := f.nextToolResponse(t)
	require.Len(t, resp.FunctionResponses, 1)
	assert.Equal(t, "x1", resp.FunctionResponses[0].ID)
	result, ok := resp.FunctionResponses[0].Response.Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result["error"], "destination not visible")

	assert.Equal(t, 0, f.countToolResponses(200*time.Millisecond))
}

func TestSession_DisconnectAbandonsPendingToolCalls(t *testing.T) {
	f := newFakeLive(t)
	started := make(chan struct{})
	cfg := testConfig(f, newStatusLog())
	cfg.Tools = tools.NewRegistry()
	require.NoError(t, cfg.Tools.RegisterFunc(planTrajectory, func(ctx context.Context, _ tools.Invocation) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	_, s := connect(t, cfg)
	conn := f.accept(t)

	conn.send(t, `{"toolUse":{"functionCalls":[{"id":"x1","name":"plan_trajectory",`+
		`"args":{"object":"cup","destination":"tray"}}]}}`)
	<-started
	assert.Equal(t, 1, s.PendingToolCalls())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, 0, s.PendingToolCalls())
}
