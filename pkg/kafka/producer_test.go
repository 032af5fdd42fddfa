package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

type fakeWriter struct {
	writes [][]kafka.Message
	err    error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, msgs)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w)
	require.NoError(t, p.Publish(context.Background(), Event{
		Key:   "doc-1",
		Value: map[string]any{"categories": []string{"Author/Bob"}},
	}))

	require.Len(t, w.writes, 1)
	msg := w.writes[0][0]
	assert.Equal(t, "doc-1", string(msg.Key))
	assert.JSONEq(t, `{"categories":["Author/Bob"]}`, string(msg.Value))
	assert.Equal(t, []kafka.Header{{Key: "content-type", Value: []byte("application/json")}}, msg.Headers)
	assert.False(t, msg.Time.IsZero())
}

func TestPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w)
	require.NoError(t, p.PublishBatch(context.Background(), nil))
	assert.Empty(t, w.writes)

	err := p.PublishBatch(context.Background(), []Event{
		{Key: "a", Value: 1},
		{Key: "b", Value: make(chan int)},
	})
	assert.True(t, resilience.IsPermanent(err))
	assert.Empty(t, w.writes, "nothing written when an event cannot be encoded")

	require.NoError(t, p.PublishBatch(context.Background(), []Event{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))
	require.Len(t, w.writes, 1)
	assert.Len(t, w.writes[0], 2)
}

func TestPublishWriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := newProducer(&fakeWriter{err: boom})
	err := p.Publish(context.Background(), Event{Key: "k", Value: 1})
	assert.ErrorIs(t, err, boom)
	assert.False(t, resilience.IsPermanent(err))
}
