package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/gateway"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/pkg/kafka"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

// Rebuilder accepts a new catalog for the search index.
type Rebuilder interface {
	RebuildIndex(records []dataset.Record) *gateway.Pending
}

// Invalidator drops any cached copy of the catalog.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reloader loads the catalog and hands it to the search worker. It backs the
// reload endpoint, start-up loading and catalog.changed notifications.
type Reloader struct {
	source      Source
	invalidator Invalidator
	index       Rebuilder
	logger      *slog.Logger
}

// NewReloader builds a Reloader. invalidator may be nil when no cache sits in
// front of source.
func NewReloader(source Source, invalidator Invalidator, index Rebuilder) *Reloader {
	return &Reloader{
		source:      source,
		invalidator: invalidator,
		index:       index,
		logger:      slog.Default().With("component", "catalog-reloader"),
	}
}

// Reload loads the catalog and waits for the rebuilt baseline. With fresh set
// the cached snapshot is dropped first.
func (r *Reloader) Reload(ctx context.Context, fresh bool) (assembler.Result, error) {
	start := time.Now()
	if fresh && r.invalidator != nil {
		if err := r.invalidator.Invalidate(ctx); err != nil {
			r.logger.Warn("snapshot invalidation failed, continuing", "error", err)
		}
	}
	records, err := r.source.Load(ctx)
	if err != nil {
		return assembler.Result{}, fmt.Errorf("reloading catalog: %w", err)
	}
	baseline, err := r.index.RebuildIndex(records).Wait(ctx)
	if err != nil {
		return assembler.Result{}, fmt.Errorf("rebuilding index: %w", err)
	}
	r.logger.Info("catalog reloaded",
		"datasets", len(records),
		"visible", baseline.DatasetCount,
		"fresh", fresh,
		"duration", time.Since(start),
	)
	return baseline, nil
}

// HandleChange is the catalog.changed message handler.
func (r *Reloader) HandleChange() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[proto.CatalogChangedEvent](value)
		if err != nil {
			return err
		}
		r.logger.Info("catalog change received",
			"reason", event.Reason,
			"datasets", len(event.DatasetIDs),
			"changed_at", event.ChangedAt,
		)
		_, err = r.Reload(ctx, true)
		return err
	}
}
