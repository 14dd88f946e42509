package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

func receive(t *testing.T, out <-chan model.PositionSample) model.PositionSample {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for sample")
	}
	return model.PositionSample{}
}

func TestTCPStreamForwardsLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	out := make(chan model.PositionSample, 4)
	stream := NewTCPStream(config.NewStaticManager(nil), out, nil)
	go stream.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintln(conn, `{"device_id":"truck-7","latitude":-16.3974773,"longitude":-71.501184}`)
	ev := receive(t, out)
	if ev.Source != "tcp_stream" || ev.DeviceID != "truck-7" {
		t.Fatalf("unexpected sample %+v", ev)
	}
}

func TestTCPStreamClosesIdleConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.DefaultConfig()
	cfg.Ingest.TCPStream.IdleTimeout = 50 * time.Millisecond
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go NewTCPStream(config.NewStaticManager(cfg), make(chan model.PositionSample, 1), nil).Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected server to close idle connection")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatalf("connection was not closed by server")
	}
}

func TestFileTailFollowsAppendsAndTruncation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "track.log")
	if err := os.WriteFile(path, []byte(`{"device_id":"old","latitude":1,"longitude":1}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := make(chan model.PositionSample, 4)
	tailer := &fileTailer{
		path:       path,
		startAtEnd: true,
		parser:     NewParser(),
		fw:         forwarder{source: "file_tail", cfg: config.NewStaticManager(nil), out: out},
	}
	go tailer.run(ctx)
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// The line arrives in two writes and must be forwarded once complete.
	_, _ = f.WriteString(`{"device_id":"bike-2","latitude":-16.39,`)
	time.Sleep(300 * time.Millisecond)
	_, _ = f.WriteString(`"longitude":-71.50}` + "\n")
	_ = f.Close()
	if ev := receive(t, out); ev.DeviceID != "bike-2" || ev.Source != "file_tail" {
		t.Fatalf("unexpected sample %+v", ev)
	}

	if err := os.WriteFile(path, []byte(`{"device_id":"new","latitude":2,"longitude":2}`+"\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if ev := receive(t, out); ev.DeviceID != "new" {
		t.Fatalf("expected sample from rewritten file, got %+v", ev)
	}
}
