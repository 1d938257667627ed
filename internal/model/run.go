package model

import "time"

// RunStatus is the lifecycle state of a run in the run log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunConfig records the options a run was started with.
type RunConfig struct {
	BoundaryKind   BoundaryKind `json:"boundary_kind"`
	ScrubLevel     ScrubLevel   `json:"scrub_level"`
	LinkTaxonomy   bool         `json:"link_taxonomy"`
	BufferKm       float64      `json:"buffer_km"`
	TimeoutSeconds int          `json:"timeout_seconds"`
	Sources        []string     `json:"sources,omitempty"`
	Properties     []string     `json:"properties"`
}

// RunSummary tallies property outcomes once a run finishes.
type RunSummary struct {
	Properties int `json:"properties"`
	OK         int `json:"ok"`
	NoRecords  int `json:"no_records"`
	Failed     int `json:"failed"`
	Records    int `json:"records"`
}

// Add counts one property result.
func (s *RunSummary) Add(r *PropertyResult) {
	s.Properties++
	switch r.Status {
	case PropertyOK:
		s.OK++
		s.Records += len(r.Records)
	case PropertyNoRecords:
		s.NoRecords++
	default:
		s.Failed++
	}
}

// Run is one invocation of the pipeline over a set of properties.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Config    RunConfig   `json:"config"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PropertyLog is the run-log entry for one property.
type PropertyLog struct {
	RunID         string         `json:"run_id"`
	Property      string         `json:"property"`
	Status        PropertyStatus `json:"status"`
	Records       int            `json:"records"`
	RawCount      int            `json:"raw_count"`
	FailedSources []string       `json:"failed_sources,omitempty"`
	Notes         []string       `json:"notes,omitempty"`
	Error         string         `json:"error,omitempty"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	CreatedAt     time.Time      `json:"created_at"`
}

// LogEntry converts a property result into its run-log entry.
func (r *PropertyResult) LogEntry(runID string) PropertyLog {
	return PropertyLog{
		RunID:         runID,
		Property:      r.Property,
		Status:        r.Status,
		Records:       len(r.Records),
		RawCount:      r.RawCount,
		FailedSources: r.FailedSources,
		Notes:         r.Notes,
		Error:         r.Error,
		ElapsedMs:     r.Elapsed.Milliseconds(),
	}
}
