package pipeline

import (
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/model"
)

// Options configures a run over one or more properties.
type Options struct {
	BoundaryKind   model.BoundaryKind
	ScrubLevel     model.ScrubLevel
	LinkTaxonomy   bool
	BufferKm       float64
	TimeoutSeconds int
	// MaxConcurrent bounds how many properties are processed at once.
	MaxConcurrent int
	Verbose       bool
}

// Validate checks the options before a run starts.
func (o Options) Validate() error {
	if _, err := model.ParseBoundaryKind(string(o.BoundaryKind)); err != nil {
		return eris.Wrap(err, "pipeline: options")
	}
	if _, err := model.ParseScrubLevel(string(o.ScrubLevel)); err != nil {
		return eris.Wrap(err, "pipeline: options")
	}
	if o.BufferKm < 0 || math.IsNaN(o.BufferKm) || math.IsInf(o.BufferKm, 0) {
		return eris.Errorf("pipeline: buffer must be >= 0 km, got %v", o.BufferKm)
	}
	if o.TimeoutSeconds <= 0 {
		return eris.Errorf("pipeline: timeout must be > 0 seconds, got %d", o.TimeoutSeconds)
	}
	if o.MaxConcurrent < 0 {
		return eris.Errorf("pipeline: max concurrent properties must be >= 0, got %d", o.MaxConcurrent)
	}
	return nil
}

// Timeout returns the per-source timeout.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func (o Options) concurrency() int {
	if o.MaxConcurrent <= 0 {
		return 1
	}
	return o.MaxConcurrent
}

// RunConfig records the options in the shape stored in the run log.
func (o Options) RunConfig(properties, sources []string) model.RunConfig {
	return model.RunConfig{
		BoundaryKind:   o.BoundaryKind,
		ScrubLevel:     o.ScrubLevel,
		LinkTaxonomy:   o.LinkTaxonomy,
		BufferKm:       o.BufferKm,
		TimeoutSeconds: o.TimeoutSeconds,
		Sources:        sources,
		Properties:     properties,
	}
}
