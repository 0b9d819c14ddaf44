package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"posesync/pkg/core"
)

// poseServer 每个连接发送固定消息后关闭
func poseServer(t *testing.T, messages []string) (string, *atomic.Int32) {
	t.Helper()
	var connections atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connections.Add(1)
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(20 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &connections
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoseStreamEnqueuesValidFrames(t *testing.T) {
	url, _ := poseServer(t, []string{
		`{"id": 1, "landmarks": [{"id": 0, "x": 0.5, "y": 0.5}]}`,
		`{"id": 1, "landmarks": [{"id": 0, "x": "oops", "y": 0.5}]}`,
		`not json`,
		`{"id": 2, "landmarks": []}`,
	})

	queue := core.NewFrameQueue(0)
	stream := NewPoseStream(url, queue, 0)
	stream.Start(context.Background())
	defer stream.Close()

	waitUntil(t, "two frames", func() bool { return stream.Received() == 2 })
	waitUntil(t, "malformed count", func() bool { return stream.Malformed() == 2 })

	first, ok := queue.TryDequeue()
	if !ok || first.ID != 1 || len(first.Landmarks) != 1 {
		t.Fatalf("unexpected first frame %+v", first)
	}
	second, ok := queue.TryDequeue()
	if !ok || second.ID != 2 || len(second.Landmarks) != 0 {
		t.Fatalf("unexpected second frame %+v", second)
	}
}

func TestPoseStreamReconnects(t *testing.T) {
	url, connections := poseServer(t, []string{`{"id": 1, "landmarks": []}`})

	queue := core.NewFrameQueue(0)
	stream := NewPoseStream(url, queue, 20*time.Millisecond)
	stream.Start(context.Background())

	waitUntil(t, "reconnect", func() bool { return connections.Load() >= 3 })
	stream.Close()

	if queue.Len() < 3 {
		t.Fatalf("expected a frame per connection, got %d", queue.Len())
	}
}

func TestPoseStreamFailedConnectLeavesQueueEmpty(t *testing.T) {
	queue := core.NewFrameQueue(0)
	stream := NewPoseStream("ws://127.0.0.1:1", queue, 0)
	stream.Start(context.Background())

	// 不重连时后台协程在连接失败后退出
	done := make(chan struct{})
	go func() {
		stream.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("close did not return")
	}

	if queue.Len() != 0 || stream.Connected() {
		t.Fatalf("expected empty queue and no connection")
	}
	stream.Close()
}
