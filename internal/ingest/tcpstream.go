package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

const maxStreamLine = 1 << 20

// TCPStream accepts line-delimited position feeds. Each connection gets its own
// parser and is dropped after IdleTimeout without a complete line.
type TCPStream struct {
	cfg    *config.Manager
	out    chan<- model.PositionSample
	logger *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewTCPStream(cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) *TCPStream {
	return &TCPStream{cfg: cfg, out: out, logger: logger, conns: make(map[net.Conn]struct{})}
}

// StartTCPStream listens on the configured address. It returns nil when the
// source is disabled or the listener cannot be opened.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "addr", current.Addr, "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String(), "idle_timeout", current.IdleTimeout)
	}
	go NewTCPStream(cfg, out, logger).Serve(ctx, ln)
	return ln
}

// Serve accepts connections until ctx ends or ln is closed. Open connections
// are closed on return.
func (s *TCPStream) Serve(ctx context.Context, ln net.Listener) {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.closeAll()
	for {
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("tcp stream accept error", "err", err)
			}
			if !BackoffSleep(ctx, 50*time.Millisecond) {
				return
			}
			continue
		}
		s.track(conn, true)
		go s.handle(ctx, conn)
	}
}

func (s *TCPStream) handle(ctx context.Context, conn net.Conn) {
	defer s.track(conn, false)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), maxStreamLine)
	fw := forwarder{source: "tcp_stream", cfg: s.cfg, out: s.out, logger: s.logger}
	lines := 0
	for {
		idle := s.cfg.Get().Ingest.TCPStream.IdleTimeout
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		if !scanner.Scan() {
			break
		}
		if fw.forward(ctx, parser, scanner.Text(), "") {
			lines++
		}
	}
	err := scanner.Err()
	if s.logger == nil || ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Info("tcp stream idle, closing", "remote", remote, "samples", lines)
	case err != nil:
		s.logger.Warn("tcp stream read error", "remote", remote, "err", err)
	default:
		s.logger.Debug("tcp stream closed", "remote", remote, "samples", lines)
	}
}

func (s *TCPStream) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Active reports the number of open connections.
func (s *TCPStream) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *TCPStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}
