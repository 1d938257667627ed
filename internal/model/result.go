package model

import "time"

// PropertyStatus is the terminal state of one property's pipeline.
type PropertyStatus string

const (
	// PropertyOK means a reconciled record table was produced.
	PropertyOK PropertyStatus = "ok"
	// PropertyNoRecords means every source came back empty or all records were scrubbed.
	PropertyNoRecords PropertyStatus = "no_records"
	// PropertyFailed means the property could not be processed (e.g. boundary not found).
	PropertyFailed PropertyStatus = "failed"
)

// PropertyResult is the per-property entry of a run's output collection.
type PropertyResult struct {
	Property      string         `json:"property"`
	Status        PropertyStatus `json:"status"`
	Records       []Linked       `json:"records,omitempty"`
	Media         []MediaLink    `json:"media,omitempty"`
	Linked        bool           `json:"linked"`
	RawCount      int            `json:"raw_count"`
	FailedSources []string       `json:"failed_sources,omitempty"`
	Notes         []string       `json:"notes,omitempty"`
	Error         string         `json:"error,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
}

// Exportable reports whether the result should produce an output file.
func (r *PropertyResult) Exportable() bool {
	return r != nil && r.Status == PropertyOK && len(r.Records) > 0
}
