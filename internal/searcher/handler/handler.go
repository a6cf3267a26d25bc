// Package handler exposes the dataset search worker and the saved-query
// manager over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jtlresearchit/leaf/internal/analytics"
	"github.com/jtlresearchit/leaf/internal/dataset"
	"github.com/jtlresearchit/leaf/internal/gateway"
	"github.com/jtlresearchit/leaf/internal/query"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/logger"
	"github.com/jtlresearchit/leaf/pkg/middleware"
	"github.com/jtlresearchit/leaf/pkg/proto"
)

// UserHeader names the caller recorded as a saved query's owner.
const UserHeader = "X-Leaf-User"

const maxBodyBytes = 8 << 20

// SearchGateway is the request side of the search worker.
type SearchGateway interface {
	RebuildIndex(records []dataset.Record) *gateway.Pending
	Search(query string) *gateway.Pending
	SetDatasetVisibility(id string, allow bool) *gateway.Pending
	AllowAllDatasets() *gateway.Pending
	SetDemographicsVisibility(allow bool) *gateway.Pending
}

type CatalogReloader interface {
	Reload(ctx context.Context, fresh bool) (assembler.Result, error)
}

type QueryManager interface {
	List(ctx context.Context) ([]query.Query, error)
	Get(ctx context.Context, id string) (query.Query, error)
	Delete(ctx context.Context, id string, force bool) (query.DeleteResult, error)
	Save(ctx context.Context, id string, req query.SaveRequest) (query.SaveResult, error)
}

type Handler struct {
	gateway        SearchGateway
	reloader       CatalogReloader
	queries        QueryManager
	tracker        analytics.Tracker
	requestTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*Handler)

// WithReloader enables POST /api/v1/datasets/reload.
func WithReloader(r CatalogReloader) Option {
	return func(h *Handler) { h.reloader = r }
}

// WithQueries enables the saved-query endpoints.
func WithQueries(q QueryManager) Option {
	return func(h *Handler) { h.queries = q }
}

// WithTracker reports every search to t.
func WithTracker(t analytics.Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

// WithRequestTimeout bounds how long a request waits on the search worker.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) { h.requestTimeout = d }
}

func New(gw SearchGateway, opts ...Option) *Handler {
	h := &Handler{
		gateway:        gw,
		requestTimeout: 10 * time.Second,
		logger:         slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux.
//
//	PUT    /api/v1/datasets                   → rebuild the index from the body
//	POST   /api/v1/datasets/reload            → reload the catalog from the store
//	GET    /api/v1/datasets/search?q=         → search
//	PUT    /api/v1/datasets/{id}/visibility   → allow or exclude one dataset
//	POST   /api/v1/datasets/visibility/reset  → allow every dataset
//	PUT    /api/v1/datasets/demographics      → allow or hide demographics
//	GET    /api/v1/queries                    → list saved queries
//	POST   /api/v1/queries                    → save a new query
//	GET    /api/v1/queries/{id}               → get a saved query
//	PUT    /api/v1/queries/{id}               → save a query under id
//	DELETE /api/v1/queries/{id}?force=        → delete a saved query
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/datasets", h.RebuildIndex)
	mux.HandleFunc("POST /api/v1/datasets/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/datasets/search", h.Search)
	mux.HandleFunc("PUT /api/v1/datasets/{id}/visibility", h.SetDatasetVisibility)
	mux.HandleFunc("POST /api/v1/datasets/visibility/reset", h.AllowAllDatasets)
	mux.HandleFunc("PUT /api/v1/datasets/demographics", h.SetDemographicsVisibility)

	mux.HandleFunc("GET /api/v1/queries", h.ListQueries)
	mux.HandleFunc("POST /api/v1/queries", h.SaveQuery)
	mux.HandleFunc("GET /api/v1/queries/{id}", h.GetQuery)
	mux.HandleFunc("PUT /api/v1/queries/{id}", h.SaveQuery)
	mux.HandleFunc("DELETE /api/v1/queries/{id}", h.DeleteQuery)
}

func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	var records []dataset.Record
	if err := decodeBody(w, r, &records); err != nil {
		h.writeError(w, r, err)
		return
	}
	for i, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			h.writeError(w, r, fmt.Errorf("%w: record %d has no id", apperrors.ErrInvalidInput, i))
			return
		}
	}
	result, err := h.wait(r, h.gateway.RebuildIndex(records))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("index rebuilt", "datasets", len(records), "visible", result.DatasetCount)
	h.writeJSON(w, http.StatusOK, result)
}

// Reload reads the catalog from the store. fresh=false serves the cached
// snapshot when there is one.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "catalog store is not configured"))
		return
	}
	fresh, err := boolParam(r, "fresh", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	result, err := h.reloader.Reload(ctx, fresh)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	p := h.gateway.Search(q)
	result, err := h.wait(r, p)
	latency := time.Since(start)
	if err != nil {
		h.track(analytics.NewSearchEvent(p.ID(), q, nil, latency))
		h.writeError(w, r, err)
		return
	}
	h.track(analytics.NewSearchEvent(p.ID(), q, &result, latency))
	logger.FromContext(r.Context()).Debug("search completed",
		"query", q,
		"datasets", result.DatasetCount,
		"categories", len(result.Categories),
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SetDatasetVisibility(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	allow, err := decodeAllow(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := h.gateway.SetDatasetVisibility(id, allow)
	if _, err := h.wait(r, p); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, proto.VisibilityAck{RequestID: p.ID(), DatasetID: id, Allow: allow})
}

func (h *Handler) AllowAllDatasets(w http.ResponseWriter, r *http.Request) {
	result, err := h.wait(r, h.gateway.AllowAllDatasets())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SetDemographicsVisibility(w http.ResponseWriter, r *http.Request) {
	allow, err := decodeAllow(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.wait(r, h.gateway.SetDemographicsVisibility(allow))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListQueries(w http.ResponseWriter, r *http.Request) {
	if !h.queriesEnabled(w, r) {
		return
	}
	queries, err := h.queries.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, queries)
}

func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	if !h.queriesEnabled(w, r) {
		return
	}
	q, err := h.queries.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

// DeleteQuery answers 200 either way; Deleted is false when dependents kept
// the query and force was not set.
func (h *Handler) DeleteQuery(w http.ResponseWriter, r *http.Request) {
	if !h.queriesEnabled(w, r) {
		return
	}
	force, err := boolParam(r, "force", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.queries.Delete(r.Context(), r.PathValue("id"), force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SaveQuery(w http.ResponseWriter, r *http.Request) {
	if !h.queriesEnabled(w, r) {
		return
	}
	var req query.SaveRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Owner = r.Header.Get(UserHeader)
	if req.Owner == "" {
		req.Owner = "anonymous"
	}

	res, err := h.queries.Save(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	switch res.State {
	case query.SavePreflight:
		h.writeJSON(w, http.StatusUnprocessableEntity, proto.PreflightResponse{
			Error:  "query failed preflight checks",
			Errors: res.Preflight.Errors,
		})
	case query.SaveNotFound:
		h.writeError(w, r, fmt.Errorf("%w: query %s", apperrors.ErrNotFound, req.UniversalID))
	default:
		h.writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) queriesEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.queries == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "query store is not configured"))
		return false
	}
	return true
}

func (h *Handler) wait(r *http.Request, p *gateway.Pending) (assembler.Result, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()
	return p.Wait(ctx)
}

func (h *Handler) track(event proto.SearchEvent) {
	if h.tracker != nil {
		h.tracker.Track(event)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

func decodeAllow(w http.ResponseWriter, r *http.Request) (bool, error) {
	var body proto.VisibilityRequest
	if err := decodeBody(w, r, &body); err != nil {
		return false, err
	}
	if body.Allow == nil {
		return false, fmt.Errorf("%w: field 'allow' is required", apperrors.ErrInvalidInput)
	}
	return *body.Allow, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", apperrors.ErrInvalidInput, name)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err onto a status. Server-side failures get a fixed
// message; the cause goes to the log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, apperrors.ErrWorkerFault), errors.Is(err, apperrors.ErrGatewayClosed):
		message = "search unavailable"
	case errors.As(err, &appErr):
		message = appErr.Message
	case status == http.StatusGatewayTimeout:
		message = "request timeout"
	case status >= 500:
		message = "internal error"
	}

	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, proto.ErrorResponse{Error: message, RequestID: middleware.GetRequestID(r)})
}
