// Package gateway is the asynchronous boundary in front of the search index.
// One worker goroutine owns the index and processes requests one at a time;
// callers send requests tagged with a fresh id and receive a Pending handle
// that a dispatcher goroutine resolves when the matching response arrives.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/metrics"
)

// Index is the state owned by the worker. Implementations need no locking:
// the worker never calls them concurrently.
type Index interface {
	Rebuild(records []dataset.Record) assembler.Result
	Search(query string) assembler.Result
	SetDatasetVisibility(id string, allow bool)
	AllowAll() assembler.Result
	SetDemographicsVisibility(allow bool) assembler.Result
}

type Gateway struct {
	idx       Index
	mailbox   *mailbox
	responses chan Response
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]*Pending
	fault   error
	closed  bool

	newID   func() string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Gateway)

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New starts the worker and dispatcher goroutines around idx. The caller
// must not touch idx afterwards.
func New(idx Index, opts ...Option) *Gateway {
	g := &Gateway{
		idx:       idx,
		mailbox:   newMailbox(),
		responses: make(chan Response),
		stop:      make(chan struct{}),
		pending:   make(map[string]*Pending),
		newID:     uuid.NewString,
		logger:    slog.Default().With("component", "search-gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.wg.Add(2)
	go g.runWorker()
	go g.runDispatcher()
	return g
}

// RebuildIndex replaces the catalog. records are copied before sending.
func (g *Gateway) RebuildIndex(records []dataset.Record) *Pending {
	return g.send(Request{Kind: KindRebuildIndex, Records: dataset.Clone(records)})
}

func (g *Gateway) Search(query string) *Pending {
	return g.send(Request{Kind: KindSearch, Query: query})
}

func (g *Gateway) SetDatasetVisibility(id string, allow bool) *Pending {
	return g.send(Request{Kind: KindSetDatasetVisibility, DatasetID: id, Allow: allow})
}

func (g *Gateway) AllowAllDatasets() *Pending {
	return g.send(Request{Kind: KindAllowAllDatasets})
}

func (g *Gateway) SetDemographicsVisibility(allow bool) *Pending {
	return g.send(Request{Kind: KindSetDemographicsVisibility, Allow: allow})
}

// Pending reports the number of requests awaiting a response.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Err returns the worker fault, if any. A faulted gateway fails every
// request immediately.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fault
}

// Close stops both goroutines and resolves every outstanding request with
// ErrGatewayClosed.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		close(g.stop)
		g.wg.Wait()

		g.mu.Lock()
		orphans := g.drainLocked()
		g.mu.Unlock()
		for _, p := range orphans {
			g.finish(p, assembler.Result{}, apperrors.ErrGatewayClosed, "closed")
		}
		g.logger.Info("search gateway closed", "orphaned", len(orphans))
	})
	return nil
}

func (g *Gateway) send(req Request) *Pending {
	g.mu.Lock()
	req.ID = g.newID()
	for _, taken := g.pending[req.ID]; taken; _, taken = g.pending[req.ID] {
		req.ID = g.newID()
	}
	p := newPending(req.ID, req.Kind)

	var refuse error
	switch {
	case g.fault != nil:
		refuse = g.fault
	case g.closed:
		refuse = apperrors.ErrGatewayClosed
	default:
		g.pending[req.ID] = p
		if g.metrics != nil {
			g.metrics.GatewayPending.Inc()
		}
	}
	g.mu.Unlock()

	if refuse != nil {
		g.finish(p, assembler.Result{}, refuse, outcome(refuse))
		return p
	}
	g.mailbox.push(req)
	g.logger.Debug("request sent", "request_id", req.ID, "kind", req.Kind)
	return p
}

// deliver resolves the handle matching resp. Responses for ids no longer
// pending are dropped.
func (g *Gateway) deliver(resp Response) {
	g.mu.Lock()
	p, ok := g.pending[resp.ID]
	if ok {
		delete(g.pending, resp.ID)
		if g.metrics != nil {
			g.metrics.GatewayPending.Dec()
		}
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Warn("response for unknown request dropped", "request_id", resp.ID, "kind", resp.Kind)
		return
	}
	g.finish(p, resp.Result, nil, "ok")
}

// fail marks the gateway faulted and fails every pending handle, not only
// the one that was being processed.
func (g *Gateway) fail(cause error) {
	g.mu.Lock()
	g.fault = cause
	orphans := g.drainLocked()
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.WorkerFaultsTotal.Inc()
	}
	g.logger.Error("search worker fault", "error", cause, "failed_requests", len(orphans))
	for _, p := range orphans {
		g.finish(p, assembler.Result{}, cause, "fault")
	}
}

// drainLocked empties the pending map. g.mu must be held.
func (g *Gateway) drainLocked() []*Pending {
	out := make([]*Pending, 0, len(g.pending))
	for id, p := range g.pending {
		out = append(out, p)
		delete(g.pending, id)
	}
	if g.metrics != nil {
		g.metrics.GatewayPending.Sub(float64(len(out)))
	}
	return out
}

func (g *Gateway) finish(p *Pending, result assembler.Result, err error, outcome string) {
	p.resolve(result, err)
	if g.metrics != nil {
		g.metrics.GatewayRequestsTotal.WithLabelValues(string(p.kind), outcome).Inc()
		g.metrics.GatewayLatency.WithLabelValues(string(p.kind)).Observe(time.Since(p.sentAt).Seconds())
	}
}

func outcome(err error) string {
	if errors.Is(err, apperrors.ErrGatewayClosed) {
		return "closed"
	}
	return "fault"
}

func (g *Gateway) runDispatcher() {
	defer g.wg.Done()
	for {
		select {
		case resp := <-g.responses:
			g.deliver(resp)
		case <-g.stop:
			return
		}
	}
}

func (g *Gateway) runWorker() {
	defer g.wg.Done()
	for {
		req, ok := g.mailbox.pop(g.stop)
		if !ok {
			return
		}
		select {
		case <-g.stop:
			return
		default:
		}
		resp, err := g.process(req)
		if err != nil {
			g.fail(err)
			return
		}
		select {
		case g.responses <- resp:
		case <-g.stop:
			return
		}
	}
}

// process runs one request against the index. A panic is converted into a
// worker fault; the index must be assumed corrupt afterwards.
func (g *Gateway) process(req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s %s: %v", apperrors.ErrWorkerFault, req.Kind, req.ID, r)
		}
	}()

	resp = Response{ID: req.ID, Kind: req.Kind}
	switch req.Kind {
	case KindRebuildIndex:
		resp.Result = g.idx.Rebuild(req.Records)
	case KindSearch:
		resp.Result = g.idx.Search(req.Query)
	case KindSetDatasetVisibility:
		g.idx.SetDatasetVisibility(req.DatasetID, req.Allow)
	case KindAllowAllDatasets:
		resp.Result = g.idx.AllowAll()
	case KindSetDemographicsVisibility:
		resp.Result = g.idx.SetDemographicsVisibility(req.Allow)
	default:
		panic(fmt.Sprintf("unknown request kind %q", req.Kind))
	}
	resp.Result = resp.Result.Clone()
	return resp, nil
}
