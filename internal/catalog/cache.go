package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/pkg/metrics"
	pkgredis "github.com/jtlresearchit/leaf/pkg/redis"
)

// SnapshotKey is the Redis key holding the compressed catalog.
const SnapshotKey = "catalog:snapshot"

// KV is the subset of the Redis client the snapshot cache needs.
type KV interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// SnapshotCache serves the catalog from a zstd-compressed JSON snapshot in
// Redis, falling back to the wrapped Source on a miss. Concurrent misses
// share one load.
type SnapshotCache struct {
	kv      KV
	source  Source
	ttl     time.Duration
	group   singleflight.Group
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSnapshotCache(kv KV, source Source, ttl time.Duration, m *metrics.Metrics) (*SnapshotCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &SnapshotCache{
		kv:      kv,
		source:  source,
		ttl:     ttl,
		enc:     enc,
		dec:     dec,
		metrics: m,
		logger:  slog.Default().With("component", "catalog-cache"),
	}, nil
}

// Load returns the cached snapshot, or loads the catalog from the source and
// caches it. Redis failures degrade to a source load.
func (c *SnapshotCache) Load(ctx context.Context) ([]dataset.Record, error) {
	if records, ok := c.get(ctx); ok {
		return records, nil
	}
	v, err, shared := c.group.Do(SnapshotKey, func() (any, error) {
		if records, ok := c.get(ctx); ok {
			return records, nil
		}
		records, err := c.source.Load(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, records)
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	records := v.([]dataset.Record)
	if shared {
		records = dataset.Clone(records)
	}
	return records, nil
}

// Invalidate drops the snapshot so the next Load reads the source.
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.kv.Del(ctx, SnapshotKey); err != nil {
		return fmt.Errorf("invalidating catalog snapshot: %w", err)
	}
	c.logger.Info("catalog snapshot invalidated")
	return nil
}

func (c *SnapshotCache) Close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *SnapshotCache) get(ctx context.Context) ([]dataset.Record, bool) {
	data, err := c.kv.GetBytes(ctx, SnapshotKey)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("catalog snapshot get failed", "error", err)
		}
		c.miss()
		return nil, false
	}
	records, err := c.decode(data)
	if err != nil {
		c.logger.Error("catalog snapshot corrupt", "error", err, "size", len(data))
		c.miss()
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CatalogCacheHitsTotal.Inc()
	}
	c.logger.Debug("catalog snapshot hit", "datasets", len(records), "compressed_size", len(data))
	return records, true
}

func (c *SnapshotCache) set(ctx context.Context, records []dataset.Record) {
	data, err := c.encode(records)
	if err != nil {
		c.logger.Error("catalog snapshot encode failed", "error", err)
		return
	}
	if err := c.kv.Set(ctx, SnapshotKey, data, c.ttl); err != nil {
		c.logger.Error("catalog snapshot set failed", "error", err)
		return
	}
	c.logger.Info("catalog snapshot stored", "datasets", len(records), "compressed_size", len(data), "ttl", c.ttl)
}

func (c *SnapshotCache) encode(records []dataset.Record) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshaling catalog: %w", err)
	}
	return c.enc.EncodeAll(raw, nil), nil
}

func (c *SnapshotCache) decode(data []byte) ([]dataset.Record, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing catalog: %w", err)
	}
	var records []dataset.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("unmarshaling catalog: %w", err)
	}
	return records, nil
}

func (c *SnapshotCache) miss() {
	if c.metrics != nil {
		c.metrics.CatalogCacheMissesTotal.Inc()
	}
}
