package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
)

// Kind names a request type of the search worker protocol.
type Kind string

const (
	KindRebuildIndex              Kind = "rebuild_index"
	KindSearch                    Kind = "search"
	KindSetDatasetVisibility      Kind = "set_dataset_visibility"
	KindAllowAllDatasets          Kind = "allow_all_datasets"
	KindSetDemographicsVisibility Kind = "set_demographics_visibility"
)

// Request is one message to the search worker. Only the fields of its Kind
// are set.
type Request struct {
	ID        string
	Kind      Kind
	Records   []dataset.Record
	Query     string
	DatasetID string
	Allow     bool
}

// Response carries the worker's answer, tagged with the request id. Result
// is empty for acknowledgement-only kinds.
type Response struct {
	ID     string
	Kind   Kind
	Result assembler.Result
}

// Pending is the caller's handle on an in-flight request. It resolves
// exactly once, with a response or with an error.
type Pending struct {
	id     string
	kind   Kind
	sentAt time.Time
	done   chan struct{}

	result assembler.Result
	err    error
}

func newPending(id string, kind Kind) *Pending {
	return &Pending{
		id:     id,
		kind:   kind,
		sentAt: time.Now(),
		done:   make(chan struct{}),
	}
}

func (p *Pending) ID() string { return p.id }

func (p *Pending) Kind() Kind { return p.kind }

// Done is closed once the request has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request resolves or ctx ends. Giving up on the wait
// does not cancel the request.
func (p *Pending) Wait(ctx context.Context) (assembler.Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return assembler.Result{}, fmt.Errorf("waiting for %s %s: %w", p.kind, p.id, ctx.Err())
	}
}

// resolve must be called at most once per handle; the gateway guarantees
// this by removing the handle from its pending map first.
func (p *Pending) resolve(result assembler.Result, err error) {
	p.result = result
	p.err = err
	close(p.done)
}
