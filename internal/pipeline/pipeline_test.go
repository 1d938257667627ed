package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/goleak"

	"github.com/adamdsmith/fwspp/internal/boundary"
	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
	"github.com/adamdsmith/fwspp/internal/resilience"
	"github.com/adamdsmith/fwspp/internal/source"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type fakeBoundaries map[string]*geo.Property

func (f fakeBoundaries) LoadProperty(name string, _ model.BoundaryKind) (*geo.Property, error) {
	p, ok := f[name]
	if !ok {
		return nil, boundary.ErrNotFound
	}
	return p, nil
}

type stubSource struct {
	name  string
	recs  []model.Occurrence
	media []model.MediaLink
	err   error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Retrieve(_ context.Context, _ source.Query) (*source.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &source.Response{Records: s.recs, Media: s.media}, nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	emitted []string
	err     error
}

func (e *recordingEmitter) Emit(_ context.Context, r *model.PropertyResult) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.emitted = append(e.emitted, r.Property)
	return "out/" + r.Property + ".csv", nil
}

type recordingRunLog struct {
	mu      sync.Mutex
	entries map[string]model.PropertyStatus
}

func (l *recordingRunLog) RecordProperty(_ context.Context, runID string, r *model.PropertyResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = make(map[string]model.PropertyStatus)
	}
	l.entries[runID+"/"+r.Property] = r.Status
	return nil
}

type taggingLinker struct{}

func (taggingLinker) Link(_ context.Context, recs []model.Occurrence) []model.Linked {
	out := make([]model.Linked, len(recs))
	for i, r := range recs {
		out[i] = model.Linked{Occurrence: r, Taxon: &model.Taxon{TSN: 1, Rank: "Species", AcceptedName: r.SciName}}
	}
	return out
}

// --- helpers ---

func square(t *testing.T, name string) *geo.Property {
	t.Helper()
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{-77, 38}, {-76, 38}, {-76, 39}, {-77, 39}, {-77, 38},
	}})
	require.NoError(t, err)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	p, err := geo.NewProperty(name, model.BoundaryAdmin, mp)
	require.NoError(t, err)
	return p
}

func occ(repo, species string, lon, lat float64) model.Occurrence {
	return model.Occurrence{
		SciName:       species,
		Lon:           lon,
		Lat:           lat,
		Year:          2020,
		Month:         5,
		Day:           1,
		BioRepo:       repo,
		CatalogNumber: repo + "-1",
		Evidence:      "https://example.org/" + repo,
	}
}

func testOptions() Options {
	return Options{
		BoundaryKind:   model.BoundaryAdmin,
		ScrubLevel:     model.ScrubNone,
		TimeoutSeconds: 5,
		MaxConcurrent:  2,
	}
}

func sixSources() []source.Source {
	return []source.Source{
		stubSource{name: "GBIF", recs: []model.Occurrence{
			occ("GBIF", "Ardea herodias", -76.5, 38.5),
			occ("GBIF", "Ardea alba", -70.0, 38.5), // outside the property
		}},
		stubSource{name: "BISON", recs: []model.Occurrence{occ("BISON", "Lontra canadensis", -76.4, 38.4)}},
		stubSource{name: "iDigBio", recs: []model.Occurrence{occ("iDigBio", "Castor canadensis", -76.3, 38.3)}},
		stubSource{name: "VertNet", recs: []model.Occurrence{occ("VertNet", "Bufo americanus", -76.2, 38.2)}},
		stubSource{name: "EcoEngine", recs: []model.Occurrence{occ("EcoEngine", "Pinus taeda", -76.6, 38.6)}},
		stubSource{name: "AntWeb", recs: []model.Occurrence{occ("AntWeb", "Formica subsericea", -76.7, 38.7)}},
	}
}

func newPipeline(t *testing.T, opts Options, sources []source.Source, options ...Option) *Pipeline {
	t.Helper()
	require.NoError(t, opts.Validate())
	b := fakeBoundaries{"Test Refuge": square(t, "Test Refuge")}
	return New(opts, b, source.NewEngine(nil, opts.Timeout()), sources, options...)
}

// --- tests ---

func TestProcessProperty_AllSourcesSucceed(t *testing.T) {
	em := &recordingEmitter{}
	p := newPipeline(t, testOptions(), sixSources(), WithEmitter(em))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.Equal(t, 7, r.RawCount)
	assert.Len(t, r.Records, 6, "the out-of-bounds record is clipped")
	assert.Empty(t, r.FailedSources)
	assert.Empty(t, r.Notes)
	assert.False(t, r.Linked)
	assert.Equal(t, []string{"Test Refuge"}, em.emitted)
}

func TestProcessProperty_OneSourceExhaustsRetries(t *testing.T) {
	sources := sixSources()
	sources[3] = stubSource{name: "VertNet", err: &resilience.Failure{
		Operation: "VertNet search",
		Attempts:  3,
		Err:       eris.New("i/o timeout"),
	}}
	em := &recordingEmitter{}
	p := newPipeline(t, testOptions(), sources, WithEmitter(em))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.Equal(t, []string{"VertNet"}, r.FailedSources)
	require.Len(t, r.Notes, 1)
	assert.Contains(t, r.Notes[0], "VertNet")

	repos := map[string]bool{}
	for _, rec := range r.Records {
		repos[rec.BioRepo] = true
	}
	assert.Equal(t, map[string]bool{"GBIF": true, "BISON": true, "iDigBio": true, "EcoEngine": true, "AntWeb": true}, repos)
	assert.Len(t, em.emitted, 1)
}

func TestProcessProperty_AllEmptyYieldsNoRecords(t *testing.T) {
	var sources []source.Source
	for _, name := range []string{"GBIF", "BISON", "iDigBio", "VertNet", "EcoEngine"} {
		sources = append(sources, stubSource{name: name})
	}
	sources = append(sources, stubSource{name: "AntWeb", err: resilience.ErrNoRecords})

	em := &recordingEmitter{}
	p := newPipeline(t, testOptions(), sources, WithEmitter(em))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	assert.Equal(t, model.PropertyNoRecords, r.Status)
	assert.Empty(t, r.Records)
	assert.Empty(t, r.FailedSources)
	assert.Empty(t, em.emitted, "nothing is exported for an empty property")
	assert.False(t, r.Exportable())
}

func TestProcessProperty_EverythingScrubbedIsNoRecords(t *testing.T) {
	opts := testOptions()
	opts.ScrubLevel = model.ScrubStrict
	rec := occ("GBIF", "Ardea herodias", -76.5, 38.5)
	rec.Evidence = ""
	p := newPipeline(t, opts, []source.Source{stubSource{name: "GBIF", recs: []model.Occurrence{rec}}})

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	assert.Equal(t, model.PropertyNoRecords, r.Status)
	assert.Equal(t, 1, r.RawCount)
}

func TestProcessProperty_BoundaryNotFound(t *testing.T) {
	rl := &recordingRunLog{}
	em := &recordingEmitter{}
	p := newPipeline(t, testOptions(), sixSources(), WithEmitter(em), WithRunLog(rl, "run-1"))

	r := p.ProcessProperty(context.Background(), "Nowhere")
	assert.Equal(t, model.PropertyFailed, r.Status)
	assert.Contains(t, r.Error, "boundary not found")
	assert.Empty(t, em.emitted)
	assert.Equal(t, model.PropertyFailed, rl.entries["run-1/Nowhere"])
}

func TestProcessProperty_AllSourcesFailed(t *testing.T) {
	boom := &resilience.Failure{Operation: "GBIF count", Attempts: 3, Err: eris.New("503")}
	p := newPipeline(t, testOptions(), []source.Source{
		stubSource{name: "GBIF", err: boom},
		stubSource{name: "BISON", err: boom},
	})

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	assert.Equal(t, model.PropertyFailed, r.Status)
	assert.Equal(t, []string{"GBIF", "BISON"}, r.FailedSources)
	assert.Contains(t, r.Error, "all 2 sources failed")
}

func TestProcessProperty_LinksWhenEnabled(t *testing.T) {
	opts := testOptions()
	opts.LinkTaxonomy = true
	p := newPipeline(t, opts, sixSources(), WithLinker(taggingLinker{}))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.True(t, r.Linked)
	for _, rec := range r.Records {
		require.NotNil(t, rec.Taxon)
	}
}

func TestProcessProperty_LinkerIgnoredWhenDisabled(t *testing.T) {
	p := newPipeline(t, testOptions(), sixSources(), WithLinker(taggingLinker{}))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.False(t, r.Linked)
	assert.Nil(t, r.Records[0].Taxon)
}

func TestProcessProperty_ExportFailureMarksFailed(t *testing.T) {
	em := &recordingEmitter{err: eris.New("disk full")}
	p := newPipeline(t, testOptions(), sixSources(), WithEmitter(em))

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	assert.Equal(t, model.PropertyFailed, r.Status)
	assert.Contains(t, r.Error, "disk full")
}

func mediaFor(o model.Occurrence, url string) model.MediaLink {
	return model.MediaLink{BioRepo: o.BioRepo, CatalogNumber: o.CatalogNumber, Evidence: o.Evidence, URL: url, Record: o.RecordKey()}
}

func TestProcessProperty_MediaFollowsSurvivingRecords(t *testing.T) {
	kept := occ("GBIF", "Ardea herodias", -76.5, 38.5)
	kept.Media = true
	clipped := occ("GBIF", "Ardea alba", -70, 38.5)
	clipped.CatalogNumber = "GBIF-2"
	clipped.Media = true
	uncatalogued := occ("GBIF", "Lontra canadensis", -76.4, 38.4)
	uncatalogued.CatalogNumber = ""
	uncatalogued.Evidence = "https://www.gbif.org/occurrence/77"
	uncatalogued.Media = true

	src := stubSource{
		name: "GBIF",
		recs: []model.Occurrence{kept, clipped, uncatalogued},
		media: []model.MediaLink{
			mediaFor(kept, "https://img/1.jpg"),
			mediaFor(clipped, "https://img/2.jpg"),
			mediaFor(uncatalogued, "https://img/77.jpg"),
		},
	}
	p := newPipeline(t, testOptions(), []source.Source{src})

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	require.Len(t, r.Media, 2)
	assert.Equal(t, "https://img/1.jpg", r.Media[0].URL)
	assert.Equal(t, "https://img/77.jpg", r.Media[1].URL, "records without a catalog number keep their links")
}

func TestKeptMedia_MatchesOnRecordIdentity(t *testing.T) {
	a := occ("GBIF", "Ardea herodias", -76.5, 38.5)
	a.CatalogNumber = ""
	a.Media = true
	b := a
	b.Lat = 38.6
	b.Evidence = "https://www.gbif.org/occurrence/2"

	media := []model.MediaLink{mediaFor(a, "https://img/a.jpg"), mediaFor(b, "https://img/b.jpg")}

	got := keptMedia(media, []model.Occurrence{b})
	require.Len(t, got, 1)
	assert.Equal(t, "https://img/b.jpg", got[0].URL)
	assert.Nil(t, keptMedia(nil, []model.Occurrence{a}))
}

func TestProcessProperty_TimedOutSourceKeepsPartialResults(t *testing.T) {
	partial := partialSource{name: "GBIF", recs: []model.Occurrence{occ("GBIF", "Ardea herodias", -76.5, 38.5)}}
	p := newPipeline(t, testOptions(), []source.Source{partial})

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.Empty(t, r.FailedSources)
	assert.Len(t, r.Records, 1)
	require.Len(t, r.Notes, 1)
	assert.Equal(t, "GBIF timed out; partial results kept (300 of 600 records)", r.Notes[0])
}

type partialSource struct {
	name string
	recs []model.Occurrence
}

func (s partialSource) Name() string { return s.name }

func (s partialSource) Retrieve(_ context.Context, _ source.Query) (*source.Response, error) {
	return &source.Response{Records: s.recs, Meta: source.Meta{Reported: 600, Returned: 300, Truncated: true, TimedOut: true}}, nil
}

func TestRun_ContinuesPastFailedProperty(t *testing.T) {
	rl := &recordingRunLog{}
	var progressed atomic.Int32
	p := newPipeline(t, testOptions(), sixSources(),
		WithRunLog(rl, "run-9"),
		WithProgress(func(*model.PropertyResult) { progressed.Add(1) }),
	)

	results := p.Run(context.Background(), []string{"Missing", "Test Refuge", "Also Missing"})
	require.Len(t, results, 3)
	assert.Equal(t, "Missing", results[0].Property)
	assert.Equal(t, model.PropertyFailed, results[0].Status)
	assert.Equal(t, model.PropertyOK, results[1].Status)
	assert.Equal(t, model.PropertyFailed, results[2].Status)
	assert.EqualValues(t, 3, progressed.Load())
	assert.Len(t, rl.entries, 3)
}

func TestRun_SourceTimeoutIsReportedAsFailedSource(t *testing.T) {
	opts := testOptions()
	opts.TimeoutSeconds = 1
	slow := blockingSource{name: "VertNet"}
	sources := sixSources()
	sources[3] = slow

	p := New(opts, fakeBoundaries{"Test Refuge": square(t, "Test Refuge")},
		source.NewEngine(nil, 50*time.Millisecond), sources)

	r := p.ProcessProperty(context.Background(), "Test Refuge")
	require.Equal(t, model.PropertyOK, r.Status)
	assert.Equal(t, []string{"VertNet"}, r.FailedSources)
	assert.Len(t, r.Records, 5)
}

type blockingSource struct{ name string }

func (b blockingSource) Name() string { return b.name }

func (b blockingSource) Retrieve(ctx context.Context, _ source.Query) (*source.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
