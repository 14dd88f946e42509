package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"georisk/internal/config"
	"georisk/internal/model"
	"georisk/internal/normalize"
)

const maxPositionsBody = 2 << 20

var errEmptyBody = errors.New("empty body")

// RESTServer takes position reports posted by devices that cannot hold a stream open.
type RESTServer struct {
	cfg    *config.Manager
	out    chan<- model.PositionSample
	logger *slog.Logger
}

func NewRESTServer(cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) *RESTServer {
	return &RESTServer{cfg: cfg, out: out, logger: logger}
}

func (s *RESTServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /positions", s.handlePositions)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// StartREST serves Handler on the configured address until ctx ends.
func StartREST(ctx context.Context, cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           NewRESTServer(cfg, out, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	})
	go func() {
		if logger != nil {
			logger.Info("rest ingest enabled", "addr", current.Addr)
		}
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.Error("rest ingest server error", "err", err)
		}
	}()
	return httpServer
}

type rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type positionsResult struct {
	Accepted int         `json:"accepted"`
	Failed   int         `json:"failed"`
	Rejected []rejection `json:"rejected,omitempty"`
}

// handlePositions accepts one position object or an array of them. The reply
// lists why each rejected item was refused.
func (s *RESTServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	items, err := decodePositions(http.MaxBytesReader(w, r.Body, maxPositionsBody))
	if err != nil {
		writeResult(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg := s.cfg.Get()
	var res positionsResult
	for i, obj := range items {
		if err := s.accept(r.Context(), obj, cfg); err != nil {
			res.Failed++
			res.Rejected = append(res.Rejected, rejection{Index: i, Error: err.Error()})
			continue
		}
		res.Accepted++
	}
	if s.logger != nil && res.Failed > 0 {
		s.logger.Warn("rest positions rejected", "accepted", res.Accepted, "failed", res.Failed)
	}
	code := http.StatusAccepted
	if res.Accepted == 0 {
		code = http.StatusUnprocessableEntity
	}
	writeResult(w, code, res)
}

// decodePositions reads either a JSON object or a JSON array of objects.
func decodePositions(r io.Reader) ([]map[string]interface{}, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	if body[0] == '[' {
		var list []map[string]interface{}
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode positions: %w", err)
		}
		return list, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return []map[string]interface{}{obj}, nil
}

func (s *RESTServer) accept(ctx context.Context, obj map[string]interface{}, cfg *config.Config) error {
	fields := ParseJSONMap(obj)
	fields.Raw = "rest"
	ev, err := normalize.Normalize(*fields, cfg)
	if err != nil {
		return err
	}
	ev.Source = "rest"
	if !SendNonBlocking(ctx, s.out, ev, s.logger) {
		return errQueueFull
	}
	return nil
}

func writeResult(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
