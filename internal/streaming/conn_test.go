package streaming

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsUpgrader is the test WebSocket upgrader.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// echoServer returns a test server that echoes WebSocket messages back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

// serverThatCloses creates a test server that sends a close frame right after upgrade.
func serverThatCloses(t *testing.T, code int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		closeMsg := websocket.FormatCloseMessage(code, "bye")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
		conn.Close()
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_ConnectAndSendReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	assert.True(t, c.IsConnected())
	require.NoError(t, c.Send([]byte(`{"hello":"world"}`), PriorityMedia))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))
}

func TestConn_ControlAndMediaBothDelivered(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send([]byte("control"), PriorityControl))
	require.NoError(t, c.Send([]byte("media"), PriorityMedia))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		data, err := c.Receive(ctx)
		require.NoError(t, err)
		got[string(data)] = true
	}
	assert.True(t, got["control"])
	assert.True(t, got["media"])
}

func TestConn_SendBeforeConnect(t *testing.T) {
	c := NewConn(&ConnConfig{URL: "ws://unused"})
	assert.ErrorIs(t, c.Send([]byte("x"), PriorityMedia), ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestConn_MediaQueueDropsNewestWhenFull(t *testing.T) {
	c := NewConn(&ConnConfig{URL: "ws://unused", MediaQueueSize: 2})
	// Fake an established connection with no writer draining the queue.
	c.conn = &websocket.Conn{}

	require.NoError(t, c.Send([]byte("a"), PriorityMedia))
	require.NoError(t, c.Send([]byte("b"), PriorityMedia))
	assert.ErrorIs(t, c.Send([]byte("c"), PriorityMedia), ErrQueueFull)

	assert.Equal(t, "a", string(<-c.media))
	assert.Equal(t, "b", string(<-c.media))
}

func TestConn_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestConn_CancelAbortsHandshake(t *testing.T) {
	// Accepts TCP but never answers the upgrade request.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewConn(&ConnConfig{URL: "ws://" + ln.Addr().String(), DialTimeout: 10 * time.Second})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}
	assert.False(t, c.IsConnected())
}

func TestConn_CancelAfterConnectKeepsConnection(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := Dial(ctx, &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()
	cancel()

	require.NoError(t, c.Send([]byte("still open"), PriorityControl))
	data, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still open", string(data))
}

func TestConn_PeerCloseIsReported(t *testing.T) {
	srv := serverThatCloses(t, websocket.CloseNormalClosure)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Receive(ctx)
	require.Error(t, err)
	assert.True(t, IsPeerClose(err))
	assert.True(t, IsNormalClose(err))
}

func TestConn_AbnormalPeerClose(t *testing.T) {
	srv := serverThatCloses(t, websocket.CloseInvalidFramePayloadData)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Receive(ctx)
	require.Error(t, err)
	assert.True(t, IsPeerClose(err))
	assert.False(t, IsNormalClose(err))
}

func TestConn_ReceiveContextCanceled(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Send([]byte("x"), PriorityControl), ErrClosed)

	_, err = c.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_Heartbeat(t *testing.T) {
	pings := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPingHandler(func(string) error {
			select {
			case pings <- struct{}{}:
			default:
			}
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), &ConnConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartHeartbeat(ctx, 20*time.Millisecond)

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
