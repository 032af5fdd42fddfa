package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

type fakeProducer struct {
	failures int
	calls    int
	events   []kafka.Event
	err      error
}

func (f *fakeProducer) Publish(_ context.Context, ev kafka.Event) error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, ev)
	return nil
}

func fastRetry(p *Publisher) {
	p.retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 1, MaxDelay: 1}
}

func TestOnFlushPublishesCommit(t *testing.T) {
	prod := &fakeProducer{failures: 1}
	p := New(prod)
	fastRetry(p)
	p.OnFlush(context.Background(), indexer.FlushResult{
		Segment:            "seg_1.spdx",
		Documents:          4,
		TaxonomyEpoch:      26,
		TaxonomyGeneration: 9,
		TaxonomySize:       12,
	})

	require.Len(t, prod.events, 1)
	assert.Equal(t, 2, prod.calls)
	assert.Equal(t, "1a", prod.events[0].Key)
	ev, ok := prod.events[0].Value.(ingestion.TaxonomyCommitEvent)
	require.True(t, ok)
	assert.Equal(t, int64(9), ev.Generation)
	assert.Equal(t, int32(12), ev.Size)
	assert.Equal(t, "seg_1.spdx", ev.Segment)
	assert.Equal(t, 4, ev.Documents)
	assert.False(t, ev.CommittedAt.IsZero())
}

func TestOnFlushGivesUpQuietly(t *testing.T) {
	prod := &fakeProducer{failures: 10}
	p := New(prod)
	fastRetry(p)
	p.OnFlush(context.Background(), indexer.FlushResult{Segment: "seg_1.spdx"})
	assert.Equal(t, 3, prod.calls)
	assert.Empty(t, prod.events)
}

func TestOnFlushStopsOnPermanentError(t *testing.T) {
	prod := &fakeProducer{failures: 10, err: resilience.Permanent(errors.New("bad payload"))}
	p := New(prod)
	fastRetry(p)
	p.OnFlush(context.Background(), indexer.FlushResult{Segment: "seg_2.spdx"})
	assert.Equal(t, 1, prod.calls)
}
