package notify

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

type Kind string

const (
	KindEvent     Kind = "event"
	KindConsensus Kind = "consensus"
	KindHeartbeat Kind = "heartbeat"
	KindReinit    Kind = "reinit"
)

// Envelope is the wire format on the notifications topic and on the
// dashboard websocket.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type HeartbeatPayload struct {
	DeviceID string `json:"device_id"`
	Alias    string `json:"alias"`
	Reinit   bool   `json:"reinit"`
	SeenAt   string `json:"seen_at"`
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
