// Package dataset defines the dataset-metadata record that the search index
// is built from, along with the Demographics sentinel record.
package dataset

// Shape enumerates the kind of data a dataset returns.
type Shape int

const (
	ShapeDynamic                  Shape = -1
	ShapeObservation              Shape = 0
	ShapeEncounter                Shape = 1
	ShapeCondition                Shape = 2
	ShapeDemographic              Shape = 3
	ShapeProcedure                Shape = 4
	ShapeImmunization             Shape = 5
	ShapeAllergy                  Shape = 6
	ShapeMedicationRequest        Shape = 7
	ShapeMedicationAdministration Shape = 8
)

// DemographicsID is the id of the sentinel Demographics record.
const DemographicsID = "demographics"

// Record is one dataset-metadata entry in the catalog. Records are treated as
// immutable once handed to the index.
type Record struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Shape       Shape    `json:"shape"`
	Tags        []string `json:"tags"`
	Description string   `json:"description,omitempty"`
}

// IsDemographics reports whether r is Demographics-shaped.
func (r Record) IsDemographics() bool {
	return r.Shape == ShapeDemographic
}

// Demographics returns the sentinel record that stands in for the
// conditionally visible Basic Demographics dataset.
func Demographics() Record {
	return Record{
		ID:       DemographicsID,
		Name:     "Basic Demographics",
		Category: "",
		Shape:    ShapeDemographic,
		Tags:     []string{},
	}
}

// Clone returns a deep copy of records so the copy shares no memory with
// the caller's slice.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r
		if r.Tags != nil {
			out[i].Tags = append([]string(nil), r.Tags...)
		}
	}
	return out
}
