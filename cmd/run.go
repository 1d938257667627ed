package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/config"
	"github.com/adamdsmith/fwspp/internal/export"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/pipeline"
)

var (
	runKind        string
	runScrub       string
	runITIS        bool
	runBuffer      float64
	runTimeout     int
	runConcurrency int
	runSources     []string
	runFormat      string
	runOut         string
	runAll         bool
)

var runCmd = &cobra.Command{
	Use:   "run [property...]",
	Short: "Retrieve and reconcile occurrence records for properties",
	Long: "Queries every enabled repository for each named property, clips and scrubs the combined records, " +
		"optionally links them to ITIS, and writes one table per property with records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		opts, err := runOptions(cfg)
		if err != nil {
			return err
		}
		format, err := export.ParseFormat(cfg.Export.Format)
		if err != nil {
			return err
		}

		boundaries := newBoundaries(cfg)
		names := args
		if runAll {
			names, err = boundaries.Names(opts.BoundaryKind)
			if err != nil {
				return eris.Wrap(err, "list properties")
			}
		}
		if len(names) == 0 {
			return eris.New("no properties given (pass names or --all)")
		}

		f := newFetcher()
		sources, err := buildSources(cfg, f, cfg.Run.Sources)
		if err != nil {
			return err
		}
		sourceNames := make([]string, len(sources))
		for i, s := range sources {
			sourceNames[i] = s.Name()
		}

		pipeOpts := []pipeline.Option{
			pipeline.WithEmitter(export.NewExporter(cfg.Export.Dir, format)),
		}
		if opts.LinkTaxonomy {
			linker, err := newLinker(cfg, f)
			if err != nil {
				return err
			}
			pipeOpts = append(pipeOpts, pipeline.WithLinker(linker))
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		var runID string
		if st != nil {
			defer st.Close() //nolint:errcheck
			run, err := st.CreateRun(ctx, opts.RunConfig(names, sourceNames))
			if err != nil {
				return eris.Wrap(err, "create run")
			}
			runID = run.ID
			pipeOpts = append(pipeOpts, pipeline.WithRunLog(st, runID))
		}

		bar := pb.Full.Start(len(names))
		bar.Set("prefix", "Properties: ")
		bar.Set(pb.CleanOnFinish, true)
		pipeOpts = append(pipeOpts, pipeline.WithProgress(func(*model.PropertyResult) { bar.Increment() }))

		zap.L().Info("run: starting",
			zap.Int("properties", len(names)),
			zap.Strings("sources", sourceNames),
			zap.String("scrub", string(opts.ScrubLevel)),
			zap.Bool("itis", opts.LinkTaxonomy),
			zap.String("run_id", runID),
		)

		p := pipeline.New(opts, boundaries, newEngine(cfg, opts), sources, pipeOpts...)
		results := p.Run(ctx, names)
		bar.Finish()

		var summary model.RunSummary
		for _, r := range results {
			summary.Add(r)
		}
		if st != nil {
			status := model.RunStatusComplete
			if ctx.Err() != nil {
				status = model.RunStatusFailed
			}
			// The run context may already be cancelled; still close out the run.
			if err := st.CompleteRun(context.WithoutCancel(ctx), runID, status, summary); err != nil {
				zap.L().Warn("run: failed to complete run log", zap.Error(err))
			}
		}

		writeResults(os.Stdout, results, cfg.Export.Dir, format)
		writeSummary(os.Stdout, summary)
		return ctx.Err()
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runKind, "kind", "admin", "boundary kind: admin or acquisition")
	f.StringVar(&runScrub, "scrub", "strict", "scrub level: strict, moderate or none")
	f.BoolVar(&runITIS, "itis", true, "link records to ITIS taxa")
	f.Float64Var(&runBuffer, "buffer", 0, "buffer around each boundary in km")
	f.IntVar(&runTimeout, "timeout", 120, "per-source timeout in seconds")
	f.IntVar(&runConcurrency, "concurrency", 4, "properties processed in parallel")
	f.StringSliceVar(&runSources, "sources", nil, "restrict to these repositories (default all)")
	f.StringVar(&runFormat, "format", "csv", "output format: csv or xlsx")
	f.StringVar(&runOut, "out", "output", "output directory")
	f.BoolVar(&runAll, "all", false, "process every property in the boundary dataset")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides configured run settings with flags the user set.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("kind") {
		c.Run.BoundaryKind = runKind
	}
	if f.Changed("scrub") {
		c.Run.ScrubLevel = runScrub
	}
	if f.Changed("itis") {
		c.Run.LinkTaxonomy = runITIS
	}
	if f.Changed("buffer") {
		c.Run.BufferKm = runBuffer
	}
	if f.Changed("timeout") {
		c.Run.TimeoutSecs = runTimeout
	}
	if f.Changed("concurrency") {
		c.Run.MaxConcurrentProperties = runConcurrency
	}
	if f.Changed("sources") {
		c.Run.Sources = runSources
	}
	if f.Changed("format") {
		c.Export.Format = runFormat
	}
	if f.Changed("out") {
		c.Export.Dir = runOut
	}
	if kind, err := model.ParseBoundaryKind(c.Run.BoundaryKind); err == nil {
		c.Run.BoundaryKind = string(kind)
	}
}

// runOptions converts run configuration into validated pipeline options.
func runOptions(c *config.Config) (pipeline.Options, error) {
	kind, err := model.ParseBoundaryKind(c.Run.BoundaryKind)
	if err != nil {
		return pipeline.Options{}, err
	}
	level, err := model.ParseScrubLevel(c.Run.ScrubLevel)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.Options{
		BoundaryKind:   kind,
		ScrubLevel:     level,
		LinkTaxonomy:   c.Run.LinkTaxonomy,
		BufferKm:       c.Run.BufferKm,
		TimeoutSeconds: c.Run.TimeoutSecs,
		MaxConcurrent:  c.Run.MaxConcurrentProperties,
		Verbose:        verbose,
	}
	return opts, opts.Validate()
}

// writeResults prints one line per property, categorized the way users
// triage a run.
func writeResults(out io.Writer, results []*model.PropertyResult, dir string, format export.Format) {
	exp := export.NewExporter(dir, format)
	for _, r := range results {
		switch r.Status {
		case model.PropertyFailed:
			_, _ = fmt.Fprintf(out, "%s: failed (%s)\n", r.Property, r.Error)
		case model.PropertyNoRecords:
			_, _ = fmt.Fprintf(out, "%s: no valid observations\n", r.Property)
		default:
			_, _ = fmt.Fprintf(out, "%s: %s records from %s raw -> %s\n",
				r.Property, humanize.Comma(int64(len(r.Records))), humanize.Comma(int64(r.RawCount)), exp.Path(r.Property))
		}
		for _, n := range r.Notes {
			_, _ = fmt.Fprintf(out, "  note: %s\n", n)
		}
	}
}

func writeSummary(out io.Writer, s model.RunSummary) {
	parts := []string{
		fmt.Sprintf("%s properties", humanize.Comma(int64(s.Properties))),
		fmt.Sprintf("%d with records", s.OK),
		fmt.Sprintf("%d without valid observations", s.NoRecords),
		fmt.Sprintf("%d failed", s.Failed),
	}
	_, _ = fmt.Fprintf(out, "\n%s; %s records written\n", strings.Join(parts, ", "), humanize.Comma(int64(s.Records)))
}
