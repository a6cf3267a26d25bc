// Package proto defines the wire types shared between the search service,
// its CLI and the Kafka topics it reads and writes. They are plain structs
// with JSON tags; the HTTP API and Kafka both carry them as JSON.
package proto

import "time"

// ---------- HTTP ----------

// VisibilityRequest is the body of the dataset and demographics visibility
// endpoints.
type VisibilityRequest struct {
	Allow *bool `json:"allow"`
}

// VisibilityAck acknowledges a per-dataset visibility change.
type VisibilityAck struct {
	RequestID string `json:"requestId"`
	DatasetID string `json:"datasetId"`
	Allow     bool   `json:"allow"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// PreflightResponse lists why a saved query was rejected.
type PreflightResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

// ---------- Kafka ----------

// CatalogChangedEvent is published on catalog.changed whenever the dataset
// catalog is edited.
type CatalogChangedEvent struct {
	Reason     string    `json:"reason"`
	DatasetIDs []string  `json:"datasetIds,omitempty"`
	ChangedAt  time.Time `json:"changedAt"`
}

// SearchEvent is published on search.events for every dataset search.
type SearchEvent struct {
	RequestID   string    `json:"requestId"`
	Query       string    `json:"query"`
	ResultCount int       `json:"resultCount"`
	Categories  int       `json:"categories"`
	LatencyMs   int64     `json:"latencyMs"`
	Failed      bool      `json:"failed,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
