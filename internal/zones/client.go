package zones

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"georisk/internal/geofence"
	"georisk/internal/model"
	"georisk/internal/normalize"
)

var ErrUnavailable = errors.New("risk service unavailable")

// Filter narrows the zone list. The service is asked to apply it and the client
// applies it again, since older service versions ignore some parameters.
type Filter struct {
	MinRiskLevel     model.RiskLevel
	MinAccidentCount int
	MaxZones         int
	SortBy           string
}

type Prediction struct {
	RiskLevel   model.RiskLevel `json:"risk_level"`
	Probability float64         `json:"probability"`
	Message     string          `json:"message,omitempty"`
}

// Client talks to the remote risk prediction service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	userAge int
}

func NewClient(baseURL string, timeout time.Duration, userAge int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		userAge: userAge,
	}
}

func (c *Client) FetchZones(ctx context.Context, f Filter) ([]model.RiskZone, error) {
	q := url.Values{}
	if f.MinRiskLevel != "" {
		q.Set("min_risk_level", string(f.MinRiskLevel))
	}
	if f.MinAccidentCount > 0 {
		q.Set("min_accident_count", strconv.Itoa(f.MinAccidentCount))
	}
	if f.MaxZones > 0 {
		q.Set("max_zones", strconv.Itoa(f.MaxZones))
	}
	if f.SortBy != "" {
		q.Set("sort_by", f.SortBy)
	}
	endpoint := c.baseURL + "/zones"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	raw, err := decodeZoneList(body)
	if err != nil {
		return nil, fmt.Errorf("decode zones: %w", err)
	}
	out := make([]model.RiskZone, 0, len(raw))
	skipped := 0
	for _, obj := range raw {
		z, err := normalize.Zone(obj)
		if err == nil {
			err = geofence.ValidateZone(z)
		}
		if err != nil {
			skipped++
			continue
		}
		out = append(out, z)
	}
	if skipped > 0 && c.logger != nil {
		c.logger.Warn("skipped malformed zones", "count", skipped)
	}
	return ApplyFilter(out, f), nil
}

// Predict asks the model for the risk at a single point.
func (c *Client) Predict(ctx context.Context, at model.Coordinate, when time.Time) (Prediction, error) {
	if err := at.Validate(); err != nil {
		return Prediction{}, err
	}
	payload, err := json.Marshal(map[string]any{
		"xx":   at.Latitude,
		"yy":   at.Longitude,
		"edad": c.userAge,
		"hora": when.Hour(),
		"mes":  int(when.Month()),
	})
	if err != nil {
		return Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return Prediction{}, err
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return predictionFrom(obj), nil
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, req.Method, req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return body, nil
}

func decodeZoneList(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []map[string]any
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var wrapped struct {
		Zones []map[string]any `json:"zones"`
	}
	err := json.Unmarshal(trimmed, &wrapped)
	return wrapped.Zones, err
}

func predictionFrom(obj map[string]any) Prediction {
	var p Prediction
	for _, k := range []string{"riskLevel", "risk_level", "riesgo"} {
		if s, ok := obj[k].(string); ok {
			if lvl := normalize.ParseRiskLevel(s); lvl != "" {
				p.RiskLevel = lvl
				break
			}
		}
	}
	for _, k := range []string{"probability", "probabilidad", "risk_score"} {
		if f, ok := obj[k].(float64); ok {
			p.Probability = f
			break
		}
	}
	if p.RiskLevel == "" {
		p.RiskLevel = model.LevelForScore(p.Probability)
	}
	for _, k := range []string{"message", "mensaje"} {
		if s, ok := obj[k].(string); ok {
			p.Message = s
			break
		}
	}
	return p
}
