package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	messages []kafka.Message
	err      error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, r.err
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

type fakeHub struct {
	broadcasts [][]byte
}

func (h *fakeHub) Broadcast(message []byte) {
	h.broadcasts = append(h.broadcasts, message)
}

func Test_PublishWrapsEnvelope(t *testing.T) {
	writer := &fakeWriter{}
	p := &KafkaPublisher{writer: writer}

	p.Publish(context.Background(), KindHeartbeat, "AA:01", HeartbeatPayload{
		DeviceID: "AA:01",
		Alias:    "attic",
	})

	require.Len(t, writer.messages, 1)
	assert.Equal(t, []byte("AA:01"), writer.messages[0].Key)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &envelope))
	assert.Equal(t, KindHeartbeat, envelope.Kind)

	var payload HeartbeatPayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	assert.Equal(t, "attic", payload.Alias)
}

func Test_PublishSwallowsWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: writer}

	// Push is best-effort; a broker outage must not panic or propagate.
	p.Publish(context.Background(), KindEvent, "AA:01", struct{}{})
	assert.Empty(t, writer.messages)
}

func Test_RelayForwardsToHub(t *testing.T) {
	hub := &fakeHub{}
	relay := &Relay{
		reader: &fakeReader{messages: []kafka.Message{
			{Value: []byte(`{"kind":"event","payload":{}}`)},
		}},
		hub: hub,
	}

	require.NoError(t, relay.ProcessMessage(context.Background()))
	require.Len(t, hub.broadcasts, 1)
	assert.JSONEq(t, `{"kind":"event","payload":{}}`, string(hub.broadcasts[0]))
}

func Test_RelayReadFailure(t *testing.T) {
	hub := &fakeHub{}
	relay := &Relay{
		reader: &fakeReader{err: errors.New("read failed")},
		hub:    hub,
	}

	err := relay.ProcessMessage(context.Background())
	assert.ErrorIs(t, err, ErrReadMessage)
	assert.Empty(t, hub.broadcasts)
}
