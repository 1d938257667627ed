package model

// Taxon is the canonical identity an occurrence was linked to in ITIS.
type Taxon struct {
	Class        string `json:"class,omitempty"`
	TSN          int    `json:"taxon_serial_id"`
	Rank         string `json:"taxon_rank"`
	AcceptedName string `json:"accepted_name"`
	CommonName   string `json:"com_name,omitempty"`
}

// Linked is an occurrence extended with its taxonomic identity. Taxon is nil
// when the authority had no match.
type Linked struct {
	Occurrence
	Taxon *Taxon `json:"taxon,omitempty"`
}

// Unlinked wraps occurrences without taxonomy, as produced when linking is off.
func Unlinked(recs []Occurrence) []Linked {
	out := make([]Linked, len(recs))
	for i, r := range recs {
		out[i] = Linked{Occurrence: r}
	}
	return out
}
