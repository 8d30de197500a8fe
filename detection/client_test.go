package detection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/robolive/events"
	"github.com/AltairaLabs/robolive/liveerr"
)

// fakeModel serves generateContent with a fixed text reply.
func fakeModel(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.Contains(r.URL.Path, "generateContent") {
			http.NotFound(w, r)
			return
		}
		body := map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"role":  "model",
						"parts": []any{map[string]any{"text": reply}},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, baseURL string, bus *events.EventBus) *Client {
	t.Helper()
	c := NewClient(Config{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		RequestInterval: time.Millisecond,
		Emitter:         events.NewEmitter(bus, "test"),
	})
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(c.Shutdown)
	return c
}

func TestClient_InitRequiresKey(t *testing.T) {
	c := NewClient(Config{})
	err := c.Init(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, liveerr.ErrConfig))
}

func TestClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultModel, c.cfg.Model)
	assert.Equal(t, DefaultRequestInterval, c.cfg.RequestInterval)
	assert.Equal(t, DefaultBurst, c.cfg.Burst)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
}

func TestClient_NotInitialized(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	_, err := c.DetectObjects(context.Background(), []byte{0xff, 0xd8})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.True(t, errors.Is(err, liveerr.ErrDetection))
}

func TestClient_EmptyImage(t *testing.T) {
	srv, calls := fakeModel(t, "[]")
	c := newTestClient(t, srv.URL, nil)

	_, err := c.DetectObjects(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, liveerr.ErrDetection))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_DetectObjects(t *testing.T) {
	srv, calls := fakeModel(t, "```json\n[{\"point\": [250, 500], \"label\": \"red cup\"}]\n```")
	bus := events.NewEventBus()
	done := make(chan *events.Event, 1)
	bus.Subscribe(events.EventDetectionCompleted, func(e *events.Event) { done <- e })
	c := newTestClient(t, srv.URL, bus)

	points, err := c.DetectObjects(context.Background(), []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "red cup", points[0].Label)
	assert.Equal(t, 250, points[0].Y())
	assert.Equal(t, 500, points[0].X())
	assert.Equal(t, int32(1), calls.Load())

	select {
	case e := <-done:
		data, ok := e.Data.(events.DetectionCompletedData)
		require.True(t, ok)
		assert.Equal(t, KindObjects, data.Kind)
		assert.Equal(t, 1, data.Points)
	case <-time.After(time.Second):
		t.Fatal("no detection.completed event")
	}
}

func TestClient_InvalidReply(t *testing.T) {
	srv, _ := fakeModel(t, `[{"point": [250, 5000], "label": "far"}]`)
	c := newTestClient(t, srv.URL, nil)

	points, err := c.DetectTrajectory(context.Background(), []byte{0xff}, "cup", "tray")
	require.Error(t, err)
	assert.Nil(t, points)
	assert.True(t, errors.Is(err, liveerr.ErrDetection))
}

func TestClient_AfterShutdown(t *testing.T) {
	srv, calls := fakeModel(t, "[]")
	c := newTestClient(t, srv.URL, nil)
	c.Shutdown()

	_, err := c.Detect(context.Background(), []byte{0xff}, "anything")
	assert.True(t, errors.Is(err, ErrNotInitialized))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_DetectQuery(t *testing.T) {
	srv, calls := fakeModel(t, `[{"point": [100, 900], "label": "mug"}, {"point": [120, 880], "label": "mug"}]`)
	bus := events.NewEventBus()
	done := make(chan *events.Event, 1)
	bus.Subscribe(events.EventDetectionCompleted, func(e *events.Event) { done <- e })
	c := newTestClient(t, srv.URL, bus)

	points, err := c.DetectQuery(context.Background(), []byte{0xff, 0xd8}, "  mug ")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 900, points[0].X())
	assert.Equal(t, int32(1), calls.Load())

	select {
	case e := <-done:
		data, ok := e.Data.(events.DetectionCompletedData)
		require.True(t, ok)
		assert.Equal(t, KindQuery, data.Kind)
	case <-time.After(time.Second):
		t.Fatal("no detection.completed event")
	}
}

func TestClient_DetectQueryRejectsBlank(t *testing.T) {
	srv, calls := fakeModel(t, "[]")
	c := newTestClient(t, srv.URL, nil)

	_, err := c.DetectQuery(context.Background(), []byte{0xff}, "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyQuery))
	assert.True(t, errors.Is(err, liveerr.ErrDetection))
	assert.Equal(t, int32(0), calls.Load())
}
