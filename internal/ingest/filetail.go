package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
)

const (
	tailReopenDelay = 500 * time.Millisecond
	tailPollDelay   = 200 * time.Millisecond
)

// StartFileTail follows GPS track files, e.g. a logger appending one fix per line.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		t := &fileTailer{
			path:       path,
			startAtEnd: current.StartAtEnd,
			parser:     NewParser(),
			fw:         forwarder{source: "file_tail", cfg: cfg, out: out, logger: logger},
			logger:     logger,
		}
		go t.run(ctx)
	}
}

// fileTailer keeps its read offset so a truncated or rotated track file is
// detected and reopened from the start.
type fileTailer struct {
	path       string
	startAtEnd bool
	parser     *Parser
	fw         forwarder
	logger     *slog.Logger

	offset  int64
	partial string
}

func (t *fileTailer) run(ctx context.Context) {
	first := true
	for ctx.Err() == nil {
		f, err := os.Open(t.path)
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("tail open failed", "path", t.path, "err", err)
			}
			if !BackoffSleep(ctx, tailReopenDelay) {
				return
			}
			continue
		}
		t.offset, t.partial = 0, ""
		if first && t.startAtEnd {
			if pos, err := f.Seek(0, io.SeekEnd); err == nil {
				t.offset = pos
			}
		}
		first = false
		err = t.follow(ctx, f)
		_ = f.Close()
		if err != nil && t.logger != nil {
			t.logger.Warn("tail read error", "path", t.path, "err", err)
		}
	}
}

var errFileRotated = errors.New("file truncated or rotated")

// follow reads lines until ctx ends, the file shrinks below the read offset or
// a read fails. A line without its trailing newline is held until completed.
func (t *fileTailer) follow(ctx context.Context, f *os.File) error {
	reader := bufio.NewReader(f)
	for {
		chunk, err := reader.ReadString('\n')
		t.partial += chunk
		if err == nil {
			line := t.partial
			t.partial = ""
			t.offset += int64(len(line))
			t.fw.forward(ctx, t.parser, line, "")
			continue
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
		if !BackoffSleep(ctx, tailPollDelay) {
			return nil
		}
		if info, err := os.Stat(t.path); err == nil && info.Size() < t.offset+int64(len(t.partial)) {
			if t.logger != nil {
				t.logger.Info("tail file rotated", "path", t.path)
			}
			return errFileRotated
		}
	}
}
