// Package source retrieves occurrence records from the biodiversity
// repositories. Each repository gets an adapter that translates a property's
// query region into the repository's native query shape and normalizes the
// answer into model.Occurrence rows.
package source

import (
	"context"
	"time"

	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
)

// Source is implemented by each repository adapter.
type Source interface {
	// Name returns the repository name written to each record's BioRepo.
	Name() string

	// Retrieve fetches every record for the query region. A region with no
	// records yields an empty Response or resilience.ErrNoRecords; exhausted
	// retries yield a *resilience.Failure.
	Retrieve(ctx context.Context, q Query) (*Response, error)
}

// Query is the unified spatial query handed to every adapter.
type Query struct {
	// Property is the buffered property geometry.
	Property *geo.Property
	// CurrentYear anchors temporal partitioning. Zero means the current year.
	CurrentYear int
}

func (q Query) currentYear() int {
	if q.CurrentYear > 0 {
		return q.CurrentYear
	}
	return time.Now().Year()
}

// Response carries one repository's records for a query.
type Response struct {
	Records []model.Occurrence
	Media   []model.MediaLink
	Meta    Meta
}

// Meta describes how a response was obtained.
type Meta struct {
	// Requests is the number of HTTP requests issued, retries excluded.
	Requests int `json:"requests"`
	// Reported is the record count the repository claimed for the query.
	Reported int `json:"reported"`
	// Returned is the number of raw records received before normalization.
	Returned int `json:"returned"`
	// Discarded counts raw records dropped for missing names or bad coordinates.
	Discarded int `json:"discarded"`
	// Truncated is set when the repository held more records than its cap.
	Truncated bool `json:"truncated"`
	// TimedOut is set when the retrieval deadline cut paging short and the
	// records gathered until then were kept.
	TimedOut bool `json:"timed_out,omitempty"`
	// Partitions is the number of temporal partitions used, if any.
	Partitions int `json:"partitions,omitempty"`
}

// Status classifies an Outcome.
type Status string

const (
	// StatusOK means the source returned at least one record.
	StatusOK Status = "ok"
	// StatusEmpty means the source answered with zero records.
	StatusEmpty Status = "empty"
	// StatusFailed means the source could not be queried.
	StatusFailed Status = "failed"
)

// Outcome is the result of one adapter call: records, an explicit empty
// answer, or a failure reason.
type Outcome struct {
	Source   string
	Status   Status
	Response *Response
	Err      error
	Elapsed  time.Duration
}

// Records returns the outcome's records, or nil unless the status is ok.
func (o Outcome) Records() []model.Occurrence {
	if o.Status != StatusOK || o.Response == nil {
		return nil
	}
	return o.Response.Records
}

// Media returns the outcome's media links, or nil unless the status is ok.
func (o Outcome) Media() []model.MediaLink {
	if o.Status != StatusOK || o.Response == nil {
		return nil
	}
	return o.Response.Media
}
