// Package analytics records dataset searches: a Collector batches search
// events onto Kafka and an Aggregator keeps in-process usage statistics.
package analytics

import (
	"time"

	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

// Tracker receives one event per completed search. Track must not block.
type Tracker interface {
	Track(event proto.SearchEvent)
}

// Trackers fans an event out to several trackers.
type Trackers []Tracker

func (ts Trackers) Track(event proto.SearchEvent) {
	for _, t := range ts {
		t.Track(event)
	}
}

// NewSearchEvent describes a finished search. A nil result marks a failed
// search.
func NewSearchEvent(requestID, query string, result *assembler.Result, latency time.Duration) proto.SearchEvent {
	event := proto.SearchEvent{
		RequestID: requestID,
		Query:     query,
		LatencyMs: latency.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if result == nil {
		event.Failed = true
		return event
	}
	event.ResultCount = result.DatasetCount
	event.Categories = len(result.Categories)
	return event
}
