package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Publisher is the push channel into the notifications topic. Publishing is
// best-effort: correctness never depends on delivery, so failures are logged
// and swallowed rather than surfaced to ingestion callers.
type Publisher interface {
	Publish(ctx context.Context, kind Kind, key string, payload any)
}

type Config struct {
	Brokers string
	Topic   string
}

type KafkaPublisher struct {
	writer Writer
}

func New(cfg Config) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{cfg.Brokers},
			Topic:   cfg.Topic,
		}),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, kind Kind, key string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Error marshalling notification payload", "kind", kind, "error", err)
		return
	}
	out, err := json.Marshal(Envelope{Kind: kind, Payload: raw})
	if err != nil {
		slog.ErrorContext(ctx, "Error marshalling notification envelope", "kind", kind, "error", err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: out})
	if err != nil {
		slog.ErrorContext(ctx, "Error publishing notification", "kind", kind, "key", key, "error", err)
	}
}

func (p *KafkaPublisher) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing publisher resources...")
	p.writer.Close()
}

// Noop discards notifications. Used in tests and when no broker is
// configured.
type Noop struct{}

func (Noop) Publish(context.Context, Kind, string, any) {}
