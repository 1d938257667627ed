// Package pipeline drives each property through boundary loading, source
// retrieval, reconciliation, taxonomy linking and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adamdsmith/fwspp/internal/boundary"
	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/scrub"
	"github.com/adamdsmith/fwspp/internal/source"
)

// BoundaryLoader looks up a property's geometry. boundary.Shapefiles satisfies it.
type BoundaryLoader interface {
	LoadProperty(name string, kind model.BoundaryKind) (*geo.Property, error)
}

// Gatherer fans a query out to sources. source.Engine satisfies it.
type Gatherer interface {
	Gather(ctx context.Context, q source.Query, sources []source.Source) []source.Outcome
}

// Linker attaches taxonomic identity to records. taxonomy.Linker satisfies it.
type Linker interface {
	Link(ctx context.Context, recs []model.Occurrence) []model.Linked
}

// Emitter writes an exportable property result and returns where it went.
type Emitter interface {
	Emit(ctx context.Context, result *model.PropertyResult) (string, error)
}

// RunLog records each property's outcome. store.Store satisfies it.
type RunLog interface {
	RecordProperty(ctx context.Context, runID string, result *model.PropertyResult) error
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithLinker enables taxonomy linking through l when Options.LinkTaxonomy is set.
func WithLinker(l Linker) Option {
	return func(p *Pipeline) { p.linker = l }
}

// WithEmitter writes every exportable result through e.
func WithEmitter(e Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// WithRunLog records every result under runID.
func WithRunLog(rl RunLog, runID string) Option {
	return func(p *Pipeline) {
		p.runLog = rl
		p.runID = runID
	}
}

// WithProgress calls fn after each property finishes. fn may be called
// concurrently.
func WithProgress(fn func(*model.PropertyResult)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithCurrentYear pins the year that temporal partitioning counts back from.
func WithCurrentYear(year int) Option {
	return func(p *Pipeline) { p.currentYear = year }
}

// Pipeline processes properties against a fixed set of sources.
type Pipeline struct {
	opts        Options
	boundaries  BoundaryLoader
	gatherer    Gatherer
	sources     []source.Source
	linker      Linker
	emitter     Emitter
	runLog      RunLog
	runID       string
	progress    func(*model.PropertyResult)
	currentYear int
}

// New creates a pipeline. Options must already be validated.
func New(opts Options, boundaries BoundaryLoader, gatherer Gatherer, sources []source.Source, options ...Option) *Pipeline {
	p := &Pipeline{
		opts:       opts,
		boundaries: boundaries,
		gatherer:   gatherer,
		sources:    sources,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Run processes every named property and returns one result per name, in
// order. A failing property never stops the others.
func (p *Pipeline) Run(ctx context.Context, names []string) []*model.PropertyResult {
	log := zap.L().With(zap.String("component", "pipeline"))
	results := make([]*model.PropertyResult, len(names))

	var ok, empty, failed atomic.Int64
	start := time.Now()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.concurrency())
	for i, name := range names {
		g.Go(func() error {
			r := p.ProcessProperty(gCtx, name)
			results[i] = r
			switch r.Status {
			case model.PropertyOK:
				ok.Add(1)
			case model.PropertyNoRecords:
				empty.Add(1)
			default:
				failed.Add(1)
			}
			if p.progress != nil {
				p.progress(r)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("pipeline: run complete",
		zap.Int("properties", len(names)),
		zap.Int64("ok", ok.Load()),
		zap.Int64("no_records", empty.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results
}

// ProcessProperty runs one property through every stage. It always returns a
// result; errors are reported through its status.
func (p *Pipeline) ProcessProperty(ctx context.Context, name string) *model.PropertyResult {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("property", name))
	start := time.Now()

	result := p.process(ctx, name, log)
	result.Elapsed = time.Since(start)

	if result.Exportable() && p.emitter != nil {
		path, err := p.emitter.Emit(ctx, result)
		if err != nil {
			log.Error("pipeline: export failed", zap.Error(err))
			result.Status = model.PropertyFailed
			result.Error = eris.Wrap(err, "export").Error()
		} else {
			log.Info("pipeline: exported", zap.String("path", path), zap.Int("records", len(result.Records)))
		}
	}

	if p.runLog != nil {
		if err := p.runLog.RecordProperty(ctx, p.runID, result); err != nil {
			log.Warn("pipeline: failed to record property", zap.Error(err))
		}
	}

	switch result.Status {
	case model.PropertyFailed:
		log.Warn("pipeline: property failed", zap.String("error", result.Error))
	case model.PropertyNoRecords:
		log.Info("pipeline: no valid observations", zap.Int("raw", result.RawCount))
	default:
		log.Info("pipeline: property complete",
			zap.Int("raw", result.RawCount),
			zap.Int("records", len(result.Records)),
			zap.Strings("failed_sources", result.FailedSources),
			zap.Duration("elapsed", result.Elapsed),
		)
	}
	return result
}

func (p *Pipeline) process(ctx context.Context, name string, log *zap.Logger) *model.PropertyResult {
	result := &model.PropertyResult{Property: name}
	fail := func(err error) *model.PropertyResult {
		result.Status = model.PropertyFailed
		result.Error = err.Error()
		return result
	}

	// LoadBoundary
	prop, err := p.boundaries.LoadProperty(name, p.opts.BoundaryKind)
	if errors.Is(err, boundary.ErrNotFound) {
		return fail(eris.Errorf("boundary not found for %q (%s)", name, p.opts.BoundaryKind))
	}
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: load boundary"))
	}

	// Buffer
	region, err := prop.Buffered(p.opts.BufferKm)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: buffer"))
	}

	// FanOut
	outcomes := p.gatherer.Gather(ctx, source.Query{Property: region, CurrentYear: p.currentYear}, p.sources)
	if ctx.Err() != nil {
		return fail(eris.Wrap(ctx.Err(), "pipeline: cancelled"))
	}

	// MergeRaw
	var raw []model.Occurrence
	var media []model.MediaLink
	for _, o := range outcomes {
		raw = append(raw, o.Records()...)
		media = append(media, o.Media()...)
		if o.Status != source.StatusOK {
			continue
		}
		switch meta := o.Response.Meta; {
		case meta.TimedOut:
			result.Notes = append(result.Notes,
				fmt.Sprintf("%s timed out; partial results kept (%d of %d records)", o.Source, meta.Returned, meta.Reported))
		case meta.Truncated:
			result.Notes = append(result.Notes,
				fmt.Sprintf("%s results truncated at %d of %d records", o.Source, meta.Returned, meta.Reported))
		}
	}
	result.RawCount = len(raw)
	result.FailedSources = source.Failed(outcomes)
	if len(result.FailedSources) > 0 {
		result.Notes = append(result.Notes, "no records retrieved from: "+strings.Join(result.FailedSources, ", "))
	}
	if len(outcomes) > 0 && len(result.FailedSources) == len(outcomes) {
		return fail(eris.Errorf("all %d sources failed", len(outcomes)))
	}

	// Clip
	clipped, outside := scrub.Clip(raw, region)

	// Reconcile
	reconciled, report := scrub.Reconcile(clipped, p.opts.ScrubLevel)
	log.Debug("pipeline: reconciled",
		zap.Int("raw", len(raw)),
		zap.Int("outside", outside),
		zap.Int("duplicate_catalogs", report.DuplicateCatalogs),
		zap.Int("redundant", report.Redundant),
		zap.Int("no_evidence", report.NoEvidence),
		zap.Int("reduced", report.Reduced),
		zap.Int("kept", report.Output),
	)
	if len(reconciled) == 0 {
		result.Status = model.PropertyNoRecords
		return result
	}

	// LinkTaxonomy
	if p.opts.LinkTaxonomy && p.linker != nil {
		result.Records = p.linker.Link(ctx, reconciled)
		result.Linked = true
	} else {
		result.Records = model.Unlinked(reconciled)
	}
	result.Media = keptMedia(media, reconciled)
	result.Status = model.PropertyOK
	return result
}

// keptMedia returns the media links that belong to a surviving record.
func keptMedia(media []model.MediaLink, kept []model.Occurrence) []model.MediaLink {
	if len(media) == 0 {
		return nil
	}
	keys := make(map[string]struct{}, len(kept))
	for _, o := range kept {
		if o.Media {
			keys[o.RecordKey()] = struct{}{}
		}
	}
	var out []model.MediaLink
	for _, m := range media {
		if _, ok := keys[m.Record]; ok {
			out = append(out, m)
		}
	}
	return out
}
