package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"

	"github.com/gorilla/websocket"
)

func TestBroadcast_NeverBlocks(t *testing.T) {
	hub := NewHubService(2, logger.NewWithWriter(io.Discard, false))

	// Hub not running: the buffer fills and further messages are dropped.
	if !hub.Broadcast([]byte("1")) || !hub.Broadcast([]byte("2")) {
		t.Fatal("First two broadcasts should be buffered")
	}
	if hub.Broadcast([]byte("3")) {
		t.Error("Third broadcast should be dropped")
	}
	if hub.Dropped() != 1 {
		t.Errorf("Expected 1 dropped, got %d", hub.Dropped())
	}
}

func TestHub_DeliversToViewer(t *testing.T) {
	hub := NewHubService(8, logger.NewWithWriter(io.Discard, false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetClientCount() != 1 {
		t.Fatalf("Expected 1 client, got %d", hub.GetClientCount())
	}

	hub.Broadcast([]byte(`{"type":"detections"}`))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(msg) != `{"type":"detections"}` {
		t.Errorf("Unexpected message %s", msg)
	}
}

func TestUnregister_AfterStopDoesNotBlock(t *testing.T) {
	hub := NewHubService(1, logger.NewWithWriter(io.Discard, false))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		hub.Unregister(nil)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked on a stopped hub")
	}
}

func TestHub_SlowViewerDoesNotStallOthers(t *testing.T) {
	hub := NewHubService(8, logger.NewWithWriter(io.Discard, false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	// Never reads: its socket fills up and writes to it stall.
	slow, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer slow.Close()

	fast, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer fast.Close()
	var received atomic.Int64
	go func() {
		for {
			if _, _, err := fast.ReadMessage(); err != nil {
				return
			}
			received.Add(1)
		}
	}()

	deadline := time.Now().Add(time.Second)
	for hub.GetClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetClientCount() != 2 {
		t.Fatalf("Expected 2 clients, got %d", hub.GetClientCount())
	}

	frame := make([]byte, 1<<20)
	var slowest time.Duration
	deadline = time.Now().Add(5 * time.Second)
	for hub.GetClientCount() == 2 && time.Now().Before(deadline) {
		hub.Broadcast(frame)
		start := time.Now()
		hub.GetClientCount()
		if d := time.Since(start); d > slowest {
			slowest = d
		}
		time.Sleep(5 * time.Millisecond)
	}

	if slowest > 50*time.Millisecond {
		t.Errorf("GetClientCount waited %s behind a stalled viewer", slowest)
	}
	if received.Load() == 0 {
		t.Error("Fast viewer received nothing while another viewer stalled")
	}
	if hub.GetClientCount() != 1 {
		t.Errorf("Stalled viewer should be dropped after a failed write, %d clients left", hub.GetClientCount())
	}
}
