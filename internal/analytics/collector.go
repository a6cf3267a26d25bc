package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jtlresearchit/leaf/pkg/kafka"
	"github.com/jtlresearchit/leaf/pkg/proto"
	"github.com/jtlresearchit/leaf/pkg/resilience"
)

// Publisher is the part of kafka.Producer the collector uses.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector buffers search events and publishes them to Kafka in batches,
// when a batch fills up or every flush interval, whichever comes first.
type Collector struct {
	publisher     Publisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	retry         resilience.RetryConfig
	kick          chan struct{}
	done          chan struct{}
	logger        *slog.Logger
}

// NewCollector builds a Collector. At most three batches are buffered while
// Kafka is unreachable; older events are dropped first.
func NewCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		maxBuffered:   batchSize * 3,
		flushInterval: flushInterval,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "analytics-collector"),
	}
}

// Start launches the flush loop. It runs until ctx is cancelled, then
// flushes what is left.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.kick:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track buffers an event. It never blocks the search path.
func (c *Collector) Track(event proto.SearchEvent) {
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: event.RequestID, Value: event})
	c.trimLocked()
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop started by Start to finish.
func (c *Collector) Close() {
	<-c.done
}

// Buffered returns the number of events not yet published.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	err := resilience.Retry(ctx, "analytics-publish", c.retry, func() error {
		return c.publisher.PublishBatch(ctx, batch)
	})
	if err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		c.trimLocked()
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}

func (c *Collector) trimLocked() {
	if over := len(c.buffer) - c.maxBuffered; over > 0 {
		c.buffer = append(c.buffer[:0:0], c.buffer[over:]...)
		c.logger.Warn("analytics buffer full, events dropped", "dropped", over)
	}
}
