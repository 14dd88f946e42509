package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"georisk/internal/config"
	"georisk/internal/model"
)

const (
	kafkaBackoffMin = 250 * time.Millisecond
	kafkaBackoffMax = 10 * time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes position messages from one topic. Message keys carry
// the device ID for payloads that omit it.
type KafkaSource struct {
	reader messageReader
	parser *Parser
	fw     forwarder
	logger *slog.Logger
}

func NewKafkaSource(cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) *KafkaSource {
	current := cfg.Get().Ingest.Kafka
	offset := kafka.FirstOffset
	if current.StartOffset == "last" {
		offset = kafka.LastOffset
	}
	rc := kafka.ReaderConfig{
		Brokers:        current.Brokers,
		Topic:          current.Topic,
		GroupID:        current.GroupID,
		StartOffset:    offset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		CommitInterval: time.Second,
	}
	if logger != nil {
		rc.ErrorLogger = kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("kafka reader", "detail", fmt.Sprintf(msg, args...))
		})
	}
	return newKafkaSource(kafka.NewReader(rc), cfg, out, logger)
}

func newKafkaSource(reader messageReader, cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		parser: NewParser(),
		fw:     forwarder{source: "kafka", cfg: cfg, out: out, logger: logger},
		logger: logger,
	}
}

// StartKafka runs a KafkaSource in the background when enabled.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.PositionSample, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	go NewKafkaSource(cfg, out, logger).Run(ctx)
}

// Run reads until ctx ends, backing off exponentially while the broker is
// unreachable.
func (k *KafkaSource) Run(ctx context.Context) {
	defer k.reader.Close()
	backoff := kafkaBackoffMin
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if k.logger != nil {
				k.logger.Warn("kafka read error", "err", err, "retry_in", backoff)
			}
			if !BackoffSleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, kafkaBackoffMax)
			continue
		}
		backoff = kafkaBackoffMin
		k.fw.forward(ctx, k.parser, string(msg.Value), string(msg.Key))
	}
}
