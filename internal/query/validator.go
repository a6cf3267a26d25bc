package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Validator checks a query before it is saved.
type Validator interface {
	Preflight(ctx context.Context, req SaveRequest) (Preflight, error)
}

// DatasetLookup reports whether a dataset id exists in the catalog.
type DatasetLookup func(id string) bool

// DefinitionValidator checks the shape of a query definition: a JSON object
// with at least one panel, each panel naming its datasets by id.
type DefinitionValidator struct {
	// Datasets, when set, rejects panels that reference unknown datasets.
	Datasets DatasetLookup
	MaxName  int
}

type definition struct {
	Panels []struct {
		Datasets []string `json:"datasets"`
	} `json:"panels"`
}

func (v DefinitionValidator) Preflight(_ context.Context, req SaveRequest) (Preflight, error) {
	var errs []string
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		errs = append(errs, "name is required")
	case v.MaxName > 0 && len(name) > v.MaxName:
		errs = append(errs, fmt.Sprintf("name exceeds %d characters", v.MaxName))
	}

	var def definition
	if len(req.Definition) == 0 {
		errs = append(errs, "definition is required")
	} else if err := json.Unmarshal(req.Definition, &def); err != nil {
		errs = append(errs, "definition is not a JSON object")
	} else if len(def.Panels) == 0 {
		errs = append(errs, "definition has no panels")
	}

	if v.Datasets != nil {
		for i, p := range def.Panels {
			for _, id := range p.Datasets {
				if !v.Datasets(id) {
					errs = append(errs, fmt.Sprintf("panel %d references unknown dataset %q", i, id))
				}
			}
		}
	}
	return Preflight{Passed: len(errs) == 0, Errors: errs}, nil
}
