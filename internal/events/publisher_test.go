package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	skafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureWriter struct {
	msgs   []skafka.Message
	writes int
	err    error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...skafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.writes++
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisherWithWriter(w, zap.NewNop())

	err := p.Publish(context.Background(), "awb-1", StatusChanged{Event: "awb.status", Entity: "awb", ID: "awb-1", From: "Queued", To: "Generating"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "awb-1", string(w.msgs[0].Key))

	var got StatusChanged
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "Generating", got.To)
}

func TestKafkaPublisherReturnsWriterError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&captureWriter{err: errors.New("broker down")}, zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), "k", map[string]string{}))
}

func TestKafkaPublisherBatchIsOneWrite(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisherWithWriter(w, zap.NewNop())

	msgs := make([]Message, 0, 500)
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("awb-%d", i)
		msgs = append(msgs, Message{Key: id, Value: StatusChanged{Entity: "awb", ID: id, To: "Queued"}})
	}
	require.NoError(t, p.PublishBatch(context.Background(), msgs))
	assert.Equal(t, 1, w.writes)
	require.Len(t, w.msgs, 500)
	assert.Equal(t, "awb-499", string(w.msgs[499].Key))

	require.NoError(t, p.PublishBatch(context.Background(), nil))
	assert.Equal(t, 1, w.writes)
}
