package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"georisk/internal/alerts"
	"georisk/internal/config"
	"georisk/internal/engine"
	"georisk/internal/model"
	"georisk/internal/status"
	"georisk/internal/storage"
	"georisk/internal/zones"
)

type EngineControl interface {
	Reset()
	ResetDevice(deviceID string) bool
	UpdateConfig(cfg *config.Config)
	Devices() []engine.DeviceState
}

type ZoneView interface {
	Zones(ctx context.Context) zones.Snapshot
}

type Predictor interface {
	Predict(ctx context.Context, at model.Coordinate, when time.Time) (zones.Prediction, error)
}

type Deps struct {
	Alerts    *alerts.Store
	Status    *status.Store
	Store     storage.Store
	Engine    EngineControl
	Zones     ZoneView
	Predictor Predictor
	Hub       *StatusHub
}

type Server struct {
	cfg     *config.Manager
	deps    Deps
	logger  *slog.Logger
	version string
	started time.Time
}

type statusResponse struct {
	Status      string        `json:"status"`
	Time        string        `json:"time"`
	Uptime      string        `json:"uptime"`
	Version     string        `json:"version"`
	ConfigPath  string        `json:"config_path"`
	Ingest      ingestStatus  `json:"ingest"`
	API         apiStatus     `json:"api"`
	Monitor     monitorStatus `json:"monitor"`
	Devices     int           `json:"devices"`
	Subscribers int           `json:"subscribers"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type monitorStatus struct {
	MatchMode            string `json:"match_mode"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	ZonesURL             string `json:"zones_url,omitempty"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewStore(0)
	}
	if deps.Status == nil {
		deps.Status = status.NewStore(0)
	}
	return &Server{cfg: cfg, deps: deps, logger: logger, version: version, started: time.Now().UTC()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/devices/", s.handleDevices)
	mux.HandleFunc("/zones", s.handleZones)
	mux.HandleFunc("/alerts", s.handleAlerts)
	mux.HandleFunc("/risk", s.handleRisk)
	mux.HandleFunc("/config/preferences", s.handlePreferences)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/restart", s.handleRestart)
	if s.deps.Hub != nil {
		mux.Handle("/ws/status", s.deps.Hub)
	}
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, deps, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Monitor: monitorStatus{
			MatchMode:            cfg.Monitor.MatchMode,
			NotificationsEnabled: cfg.Monitor.NotificationsEnabled,
			ZonesURL:             cfg.Zones.URL,
		},
	}
	if s.deps.Engine != nil {
		resp.Devices = len(s.deps.Engine.Devices())
	}
	if s.deps.Hub != nil {
		resp.Subscribers = s.deps.Hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDevices serves /devices, /devices/{id} and POST /devices/{id}/reset.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/devices"), "/")
	if path == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"devices":  s.deviceStates(),
			"statuses": s.deps.Status.GetAll(),
		})
		return
	}
	deviceID, action, _ := strings.Cut(path, "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		st, ok := s.deps.Status.Get(deviceID)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		resp := map[string]any{"status": st}
		for _, ds := range s.deviceStates() {
			if ds.DeviceID == deviceID {
				resp["state"] = ds.State
				resp["last_sample"] = ds.LastSample
			}
		}
		writeJSON(w, http.StatusOK, resp)
	case action == "reset" && r.Method == http.MethodPost:
		if s.deps.Engine == nil || !s.deps.Engine.ResetDevice(deviceID) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		s.logger.Info("device state reset", "device_id", deviceID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case action == "" || action == "reset":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) deviceStates() []engine.DeviceState {
	if s.deps.Engine == nil {
		return []engine.DeviceState{}
	}
	return s.deps.Engine.Devices()
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Zones == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	snap := s.deps.Zones.Zones(r.Context())
	resp := map[string]any{
		"zones":  snap.Zones,
		"count":  len(snap.Zones),
		"origin": snap.Origin,
		"stale":  snap.Stale,
	}
	if !snap.FetchedAt.IsZero() {
		resp["fetched_at"] = snap.FetchedAt.Format(time.RFC3339Nano)
	}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	deviceID := q.Get("device_id")
	var list []model.AlertRecord
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.deps.Alerts.Since(ts)
	case q.Get("source") == "storage":
		if s.deps.Store == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var err error
		list, err = s.deps.Store.ListAlerts(r.Context(), deviceID, limit)
		if err != nil {
			s.logger.Error("list stored alerts failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	default:
		list = s.deps.Alerts.List(deviceID, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":   list,
		"count":    len(list),
		"by_level": s.deps.Alerts.CountByLevel(),
	})
}

// handleRisk asks the prediction service about a single point.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Predictor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	at := model.Coordinate{Latitude: lat, Longitude: lon}
	if errLat != nil || errLon != nil || at.Validate() != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "lat and lon must be valid coordinates"})
		return
	}
	pred, err := s.deps.Predictor.Predict(r.Context(), at, time.Now())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, zones.ErrUnavailable) {
			code = http.StatusBadGateway
		}
		s.logger.Warn("risk prediction failed", "error", err)
		writeJSON(w, code, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position":   at,
		"prediction": pred,
	})
}

type preferencesView struct {
	NotificationsEnabled bool    `json:"notifications_enabled"`
	MatchMode            string  `json:"match_mode"`
	ProximityRadiusM     float64 `json:"proximity_radius_m"`
	DefaultRadiusM       float64 `json:"default_radius_m"`
	AlertCooldownSec     float64 `json:"alert_cooldown_sec"`
	PollIntervalSec      float64 `json:"poll_interval_sec"`
}

// preferencesUpdate only changes the fields present in the request.
type preferencesUpdate struct {
	NotificationsEnabled *bool    `json:"notifications_enabled"`
	MatchMode            *string  `json:"match_mode"`
	ProximityRadiusM     *float64 `json:"proximity_radius_m"`
	DefaultRadiusM       *float64 `json:"default_radius_m"`
	AlertCooldownSec     *float64 `json:"alert_cooldown_sec"`
	PollIntervalSec      *float64 `json:"poll_interval_sec"`
}

func viewPreferences(m config.MonitorConfig) preferencesView {
	return preferencesView{
		NotificationsEnabled: m.NotificationsEnabled,
		MatchMode:            m.MatchMode,
		ProximityRadiusM:     m.ProximityRadiusM,
		DefaultRadiusM:       m.DefaultRadiusM,
		AlertCooldownSec:     m.AlertCooldown.Seconds(),
		PollIntervalSec:      m.PollInterval.Seconds(),
	}
}

func (u preferencesUpdate) apply(m *config.MonitorConfig) {
	if u.NotificationsEnabled != nil {
		m.NotificationsEnabled = *u.NotificationsEnabled
	}
	if u.MatchMode != nil {
		m.MatchMode = strings.ToLower(strings.TrimSpace(*u.MatchMode))
	}
	if u.ProximityRadiusM != nil {
		m.ProximityRadiusM = *u.ProximityRadiusM
	}
	if u.DefaultRadiusM != nil {
		m.DefaultRadiusM = *u.DefaultRadiusM
	}
	if u.AlertCooldownSec != nil {
		m.AlertCooldown = time.Duration(*u.AlertCooldownSec * float64(time.Second))
	}
	if u.PollIntervalSec != nil {
		m.PollInterval = time.Duration(*u.PollIntervalSec * float64(time.Second))
	}
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"preferences": viewPreferences(s.cfg.Get().Monitor),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var upd preferencesUpdate
		if err := json.Unmarshal(body, &upd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		next := *s.cfg.Get()
		upd.apply(&next.Monitor)
		if err := config.Validate(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if err := s.cfg.Update(&next); err != nil {
			s.logger.Error("persist preferences failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.deps.Engine != nil {
			s.deps.Engine.UpdateConfig(&next)
		}
		s.logger.Info("preferences updated",
			"notifications_enabled", next.Monitor.NotificationsEnabled,
			"match_mode", next.Monitor.MatchMode,
			"alert_cooldown", next.Monitor.AlertCooldown,
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"preferences": viewPreferences(next.Monitor),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if err := s.clearAlerts(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.deps.Status.Clear()
	case "alerts", "history":
		if err := s.clearAlerts(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	case "status":
		s.deps.Status.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearAlerts(ctx context.Context) error {
	s.deps.Alerts.Clear()
	if s.deps.Store == nil {
		return nil
	}
	if err := s.deps.Store.ClearAlerts(ctx); err != nil {
		s.logger.Error("clear stored alerts failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Engine != nil {
		s.deps.Engine.Reset()
	}
	s.deps.Status.Clear()
	s.deps.Alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
