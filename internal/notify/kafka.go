package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"georisk/internal/config"
	"georisk/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a topic keyed by device ID, so alerts of one
// device stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
}

type alertPayload struct {
	DeviceID       string          `json:"device_id"`
	ZoneID         string          `json:"zone_id"`
	RiskLevel      model.RiskLevel `json:"risk_level"`
	RiskScore      float64         `json:"risk_score"`
	DistanceMeters float64         `json:"distance_m"`
	Latitude       float64         `json:"lat"`
	Longitude      float64         `json:"lon"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Message
}

// NewKafkaNotifier builds an async writer: Notify only enqueues, so a slow or
// unreachable broker never holds up position processing. Delivery failures are
// logged from the completion callback.
func NewKafkaNotifier(cfg config.KafkaWriterConfig, logger *slog.Logger) *KafkaNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		Async:        true,
		Completion:   completionLogger(logger),
	}}
}

func completionLogger(logger *slog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Error("alert publish failed", "device_id", string(m.Key), "err", err)
		}
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	value, err := json.Marshal(alertPayload{
		DeviceID:       ev.DeviceID,
		ZoneID:         ev.Zone.ID,
		RiskLevel:      ev.Zone.Level(),
		RiskScore:      ev.Zone.RiskScore,
		DistanceMeters: ev.DistanceMeters,
		Latitude:       ev.Position.Latitude,
		Longitude:      ev.Position.Longitude,
		OccurredAt:     ev.OccurredAt.UTC(),
		Message:        Format(ev),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.DeviceID),
		Value: value,
		Time:  ev.OccurredAt,
	}); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
