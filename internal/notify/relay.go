package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"seismonet/internal/worker"

	"github.com/segmentio/kafka-go"
)

var ErrReadMessage = errors.New("error reading message")

// Broadcaster is the hub side of the relay; satisfied by ws.Hub.
type Broadcaster interface {
	Broadcast(message []byte)
}

type RelayConfig struct {
	Brokers         string
	ConsumerGroupID string
	Topic           string
	Hub             Broadcaster
}

// Relay tails the notifications topic and forwards every envelope to the
// websocket hub, so dashboards get near-real-time pushes without the
// ingestion path knowing about websockets.
type Relay struct {
	worker *worker.Worker
	reader Reader
	hub    Broadcaster
}

func NewRelay(cfg RelayConfig) *Relay {
	relay := &Relay{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			GroupID:     cfg.ConsumerGroupID,
			Topic:       cfg.Topic,
			StartOffset: kafka.LastOffset,
		}),
		hub: cfg.Hub,
	}
	relay.worker = worker.New(worker.Config{
		Name:      "notify-relay",
		Processor: relay,
	})
	return relay
}

func (r *Relay) Run(ctx context.Context) {
	r.worker.Run(ctx)
}

func (r *Relay) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing relay resources...")
	r.reader.Close()
}

func (r *Relay) ProcessMessage(ctx context.Context) error {
	const fn = "Relay:ProcessMessage"
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrReadMessage, err)
	}
	r.hub.Broadcast(m.Value)
	return nil
}
