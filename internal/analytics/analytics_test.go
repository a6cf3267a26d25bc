package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/pkg/kafka"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fails   int
}

func (p *recordingPublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("broker unavailable")
	}
	p.batches = append(p.batches, append([]kafka.Event(nil), events...))
	return nil
}

func (p *recordingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func event(query string, results int) proto.SearchEvent {
	return proto.SearchEvent{RequestID: query, Query: query, ResultCount: results, LatencyMs: 2}
}

func TestCollectorFlushesFullBatch(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	for _, q := range []string{"a", "b", "c"} {
		c.Track(event(q, 1))
	}
	require.Eventually(t, func() bool { return pub.published() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	c.Close()

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "a", pub.batches[0][0].Key)
	assert.Equal(t, event("a", 1), pub.batches[0][0].Value)
}

func TestCollectorFlushesOnShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(event("x", 0))
	assert.Equal(t, 1, c.Buffered())
	cancel()
	c.Close()

	assert.Equal(t, 1, pub.published())
	assert.Zero(t, c.Buffered())
}

func TestCollectorRetriesPublish(t *testing.T) {
	pub := &recordingPublisher{fails: 2}
	c := NewCollector(pub, 1, time.Hour)
	c.retry.InitialDelay = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(event("x", 0))
	require.Eventually(t, func() bool { return pub.published() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	c.Close()
}

func TestCollectorDropsOldestWhenFull(t *testing.T) {
	c := NewCollector(&recordingPublisher{}, 2, time.Hour)
	for _, q := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		c.Track(event(q, 1))
	}
	assert.Equal(t, 6, c.Buffered())
	assert.Equal(t, "2", c.buffer[0].Key)
}

func TestAggregatorStats(t *testing.T) {
	a := NewAggregator()
	a.startTime = time.Now().Add(-2 * time.Minute)

	a.Track(event("Blood", 3))
	a.Track(event("blood", 2))
	a.Track(event("  BLOOD ", 1))
	a.Track(event("xyz", 0))
	a.Track(event("", 12))
	a.Track(proto.SearchEvent{Query: "lab", Failed: true})

	s := a.Stats()
	assert.Equal(t, int64(6), s.TotalSearches)
	assert.Equal(t, int64(1), s.FailedSearches)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []QueryCount{{"blood", 3}, {"xyz", 1}}, s.TopQueries)
	assert.Equal(t, []QueryCount{{"xyz", 1}}, s.ZeroResultQueries)
	assert.Equal(t, int64(2), s.P50LatencyMs)
	assert.InDelta(t, 3.0, s.QueriesPerMinute, 0.1)
}

func TestAggregatorBoundsLatencySamples(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < maxLatencySamples+10; i++ {
		a.Track(proto.SearchEvent{Query: "q", ResultCount: 1, LatencyMs: int64(i)})
	}
	assert.Len(t, a.latencies, maxLatencySamples)
	assert.Equal(t, int64(maxLatencySamples+10), a.Stats().TotalSearches)
}

func TestNewSearchEvent(t *testing.T) {
	res := assembler.Assemble([]dataset.Record{
		{ID: "a", Name: "A", Category: "X"},
		{ID: "b", Name: "B", Category: "Y"},
	})
	e := NewSearchEvent("req-1", "a", &res, 1500*time.Microsecond)
	assert.Equal(t, 2, e.ResultCount)
	assert.Equal(t, 2, e.Categories)
	assert.Equal(t, int64(1), e.LatencyMs)
	assert.False(t, e.Failed)

	failed := NewSearchEvent("req-2", "a", nil, time.Millisecond)
	assert.True(t, failed.Failed)
}

func TestTrackersFanOut(t *testing.T) {
	a1, a2 := NewAggregator(), NewAggregator()
	Trackers{a1, a2}.Track(event("x", 1))
	assert.Equal(t, int64(1), a1.Stats().TotalSearches)
	assert.Equal(t, int64(1), a2.Stats().TotalSearches)
}

func TestStatsHandler(t *testing.T) {
	a := NewAggregator()
	a.Track(event("blood", 1))
	rec := httptest.NewRecorder()
	NewHandler(a).Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(1), got.TotalSearches)
	assert.Equal(t, "blood", got.TopQueries[0].Query)
}
