package prometheus

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AltairaLabs/robolive/events"
)

func TestRecordTransition(t *testing.T) {
	sessionTransitions.Reset()
	sessionsConnected.Set(0)

	RecordTransition("disconnected", "connecting")
	RecordTransition("connecting", "connected")
	if got := testutil.ToFloat64(sessionsConnected); got != 1 {
		t.Errorf("Expected 1 connected session, got %f", got)
	}

	RecordTransition("connected", "error")
	if got := testutil.ToFloat64(sessionsConnected); got != 0 {
		t.Errorf("Expected 0 connected sessions, got %f", got)
	}
	if got := testutil.ToFloat64(sessionTransitions.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 transition to error, got %f", got)
	}

	// connecting -> disconnected never counted as connected
	RecordTransition("disconnected", "connecting")
	RecordTransition("connecting", "disconnected")
	if got := testutil.ToFloat64(sessionsConnected); got != 0 {
		t.Errorf("Expected 0 connected sessions after failed connect, got %f", got)
	}
}

func TestRecordChunks(t *testing.T) {
	chunksSentTotal.Reset()
	chunkBytesTotal.Reset()
	chunksDroppedTotal.Reset()

	RecordChunkSent("audio", 100)
	RecordChunkSent("audio", 50)
	RecordChunkDropped("video", "queue_full")

	if got := testutil.ToFloat64(chunksSentTotal.WithLabelValues("audio")); got != 2 {
		t.Errorf("Expected 2 audio chunks, got %f", got)
	}
	if got := testutil.ToFloat64(chunkBytesTotal.WithLabelValues("audio")); got != 150 {
		t.Errorf("Expected 150 audio bytes, got %f", got)
	}
	if got := testutil.ToFloat64(chunksDroppedTotal.WithLabelValues("video", "queue_full")); got != 1 {
		t.Errorf("Expected 1 dropped video chunk, got %f", got)
	}
}

func TestMetricsListener(t *testing.T) {
	toolCallsTotal.Reset()
	toolCallDuration.Reset()
	detectionsTotal.Reset()
	deviceErrorsTotal.Reset()

	l := NewMetricsListener()
	handle := l.Listener()
	underrunsBefore := testutil.ToFloat64(audioUnderrunsTotal)
	decodeBefore := testutil.ToFloat64(frameDecodeErrorsTotal)

	for _, data := range []events.EventData{
		events.ToolCallCompletedData{CallID: "x1", ToolName: "plan_trajectory", Duration: 300 * time.Millisecond},
		events.ToolCallFailedData{CallID: "x2", ToolName: "plan_trajectory", Error: errors.New("boom")},
		events.ToolCallAbandonedData{CallID: "x3", ToolName: "plan_trajectory"},
		events.AudioUnderrunData{Gap: 40 * time.Millisecond},
		events.FrameDecodeFailedData{Bytes: 3},
		events.DeviceErrorData{Device: "microphone"},
		events.DetectionCompletedData{Kind: "objects", Points: 3, Duration: time.Second},
		events.DetectionFailedData{Kind: "objects", Duration: time.Second},
	} {
		handle(&events.Event{Data: data})
	}

	for status, want := range map[string]float64{"success": 1, "error": 1, "abandoned": 1} {
		if got := testutil.ToFloat64(toolCallsTotal.WithLabelValues("plan_trajectory", status)); got != want {
			t.Errorf("Expected %v %s tool calls, got %f", want, status, got)
		}
	}
	if got := testutil.ToFloat64(audioUnderrunsTotal) - underrunsBefore; got != 1 {
		t.Errorf("Expected 1 underrun, got %f", got)
	}
	if got := testutil.ToFloat64(frameDecodeErrorsTotal) - decodeBefore; got != 1 {
		t.Errorf("Expected 1 decode error, got %f", got)
	}
	if got := testutil.ToFloat64(deviceErrorsTotal.WithLabelValues("microphone")); got != 1 {
		t.Errorf("Expected 1 microphone error, got %f", got)
	}
	if got := testutil.ToFloat64(detectionsTotal.WithLabelValues("objects", "error")); got != 1 {
		t.Errorf("Expected 1 failed detection, got %f", got)
	}
}

func TestMetricsListener_OnBus(t *testing.T) {
	chunksSentTotal.Reset()

	bus := events.NewEventBus()
	bus.SubscribeAll(NewMetricsListener().Listener())
	events.NewEmitter(bus, "s1").ChunkSent(events.ChunkKindSetup, 42)

	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(chunksSentTotal.WithLabelValues(events.ChunkKindSetup)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("chunk metric not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExporter_Handler(t *testing.T) {
	RecordFrameReceived()

	srv := httptest.NewServer(NewExporter(":0").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "robolive_frames_received_total") {
		t.Error("Expected robolive_frames_received_total in output")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("Expected Go runtime metrics in output")
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("Expected 200 ok, got %d %q", resp.StatusCode, body)
	}
}

func TestExporter_Serve(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	e := NewExporterWithRegistry(addr, prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("exporter never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
