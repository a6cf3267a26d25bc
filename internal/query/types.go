// Package query manages saved cohort queries: listing, loading, deleting and
// saving them with preflight validation and optimistic concurrency.
package query

import (
	"encoding/json"
	"time"
)

// UniversalPrefix prefixes the universal id assigned on a query's first save.
const UniversalPrefix = "urn:leaf:query:"

// Query is a saved query. Definition is the opaque JSON document the UI
// builds; list results leave it empty.
type Query struct {
	ID          string          `json:"id"`
	UniversalID string          `json:"universalId"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	Ver         int             `json:"ver"`
	Owner       string          `json:"owner"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// SaveRequest is the body of a save. A non-empty UniversalID updates the
// query already saved under it; Ver, when set, must match the stored version.
type SaveRequest struct {
	UniversalID string          `json:"universalId,omitempty"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Definition  json.RawMessage `json:"definition"`
	Ver         *int            `json:"ver,omitempty"`
	Owner       string          `json:"-"`
}

// SaveState reports how a save ended.
type SaveState int

const (
	SaveOK SaveState = iota
	SavePreflight
	SaveNotFound
)

func (s SaveState) String() string {
	switch s {
	case SaveOK:
		return "ok"
	case SavePreflight:
		return "preflight"
	case SaveNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s SaveState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Preflight is the outcome of validating a query before it is saved.
type Preflight struct {
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

// SaveResult is returned by Manager.Save. Query is set only for SaveOK.
type SaveResult struct {
	State     SaveState `json:"state"`
	Preflight Preflight `json:"preflight"`
	Query     *Query    `json:"query,omitempty"`
}

// Dependent is a saved query that references another one.
type Dependent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeleteResult is returned by Manager.Delete. When dependents exist and the
// delete was not forced, Deleted is false and nothing changed.
type DeleteResult struct {
	ID         string      `json:"id"`
	Deleted    bool        `json:"deleted"`
	Dependents []Dependent `json:"dependents"`
}
