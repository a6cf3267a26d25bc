package index

// TokenOccurrence is one token of one indexed record. Siblings holds the
// record's other tokens so later query terms can be matched without
// re-tokenizing the record.
type TokenOccurrence struct {
	Token     string
	DatasetID string
	// Ordinal is the interned visibility ordinal of DatasetID.
	Ordinal uint32
	// Record is the position of the owning record in the index arena.
	Record   int
	Siblings []string
}

// Ordinals interns dataset ids into the uint32 space used by the
// exclusion bitmap.
type Ordinals interface {
	Ordinal(id string) uint32
}
