package scrub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
)

func square(t *testing.T) *geo.Property {
	t.Helper()
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{-77, 38}, {-76, 38}, {-76, 39}, {-77, 39}, {-77, 38},
	}})
	require.NoError(t, err)
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	p, err := geo.NewProperty("Square", model.BoundaryAdmin, mp)
	require.NoError(t, err)
	return p
}

func occ(name string, year int, catalog, evidence string) model.Occurrence {
	return model.Occurrence{
		SciName:       name,
		Lon:           -76.5,
		Lat:           38.5,
		Year:          year,
		Month:         6,
		Day:           1,
		CatalogNumber: catalog,
		Evidence:      evidence,
		BioRepo:       "GBIF",
	}
}

func sample() []model.Occurrence {
	return []model.Occurrence{
		occ("Ardea herodias", 2001, "USNM 1", "https://example.org/1"),
		occ("Ardea herodias", 2001, "usnm 1 ", "https://example.org/1b"),
		occ("Ardea herodias", 2015, "", "https://example.org/2"),
		occ("Lontra canadensis", 1999, "MVZ 7", ""),
		occ("Castor canadensis", 1980, "", ""),
		occ("Castor canadensis", 2010, "KU 3", "https://example.org/3"),
	}
}

func TestClip(t *testing.T) {
	p := square(t)
	in := []model.Occurrence{
		{SciName: "a", Lon: -76.5, Lat: 38.5},
		{SciName: "b", Lon: -75.9, Lat: 38.5},
		{SciName: "c", Lon: -76.01, Lat: 38.99},
	}

	kept, dropped := Clip(in, p)
	assert.Equal(t, 1, dropped)
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].SciName)
	assert.Equal(t, "c", kept[1].SciName)

	buffered, err := p.Buffered(15)
	require.NoError(t, err)
	kept, dropped = Clip(in, buffered)
	assert.Zero(t, dropped)
	assert.Len(t, kept, 3)
}

func TestReconcile_NoneIsIdentity(t *testing.T) {
	in := sample()
	out, rep := Reconcile(in, model.ScrubNone)
	assert.ElementsMatch(t, in, out)
	assert.Zero(t, rep.Removed())
}

func TestReconcile_ModerateDropsDuplicateCatalogs(t *testing.T) {
	out, rep := Reconcile(sample(), model.ScrubModerate)
	assert.Equal(t, 1, rep.DuplicateCatalogs)
	assert.Len(t, out, 5)

	var usnm []model.Occurrence
	for _, o := range out {
		if catalogKey(o) == "ardea herodias|usnm 1" {
			usnm = append(usnm, o)
		}
	}
	require.Len(t, usnm, 1)
}

func TestReconcile_SharedCatalogAcrossSpeciesIsKept(t *testing.T) {
	heron := occ("Ardea herodias", 2001, "1234", "https://example.org/heron")
	otter := occ("Lontra canadensis", 2003, "1234", "https://example.org/otter")
	otter.BioRepo = "BISON"

	out, rep := Reconcile([]model.Occurrence{heron, otter}, model.ScrubModerate)
	assert.Zero(t, rep.DuplicateCatalogs)
	require.Len(t, out, 2)

	out, _ = Reconcile([]model.Occurrence{heron, otter}, model.ScrubStrict)
	require.Len(t, out, 2, "both species stay on the presence list")
	assert.Equal(t, "Ardea herodias", out[0].SciName)
	assert.Equal(t, "Lontra canadensis", out[1].SciName)
}

func TestReconcile_ModerateCollapsesRedundantObservations(t *testing.T) {
	a := occ("Ardea herodias", 2001, "USNM 1", "https://example.org/1")
	b := occ("ardea  herodias", 2001, "KU 99", "https://example.org/99")
	b.Lon += 0.00001
	b.Media = true

	out, rep := Reconcile([]model.Occurrence{a, b}, model.ScrubModerate)
	require.Len(t, out, 1)
	assert.Equal(t, 1, rep.Redundant)
	assert.Equal(t, "KU 99", out[0].CatalogNumber, "the record with media is kept")
}

func TestReconcile_ModerateKeepsDistinctObservations(t *testing.T) {
	a := occ("Ardea herodias", 2001, "", "https://example.org/1")
	b := a
	b.Day = 2
	c := a
	c.Lat += 0.001
	undated := occ("Ardea herodias", 0, "", "")
	undated2 := undated

	out, _ := Reconcile([]model.Occurrence{a, b, c, undated, undated2}, model.ScrubModerate)
	assert.Len(t, out, 5)
}

func TestReconcile_StrictOnePerSpeciesWithEvidence(t *testing.T) {
	out, rep := Reconcile(sample(), model.ScrubStrict)

	seen := map[string]bool{}
	for _, o := range out {
		key := speciesKey(o)
		assert.False(t, seen[key], "species %s appears twice", o.SciName)
		seen[key] = true
		assert.True(t, o.HasEvidence(), "%s has no evidence", o.SciName)
	}

	require.Len(t, out, 2)
	assert.Equal(t, "Ardea herodias", out[0].SciName)
	assert.Equal(t, 2015, out[0].Year, "most recent record wins")
	assert.Equal(t, "Castor canadensis", out[1].SciName)
	assert.Equal(t, "KU 3", out[1].CatalogNumber)

	assert.Equal(t, 2, rep.NoEvidence, "the only Lontra record is discarded for lack of evidence")
	assert.Equal(t, 6, rep.Input)
	assert.Equal(t, 2, rep.Output)
}

func TestReconcile_DoesNotModifyInput(t *testing.T) {
	in := sample()
	before := append([]model.Occurrence(nil), in...)
	_, _ = Reconcile(in, model.ScrubStrict)
	assert.Equal(t, before, in)
}

func TestBetter(t *testing.T) {
	base := occ("Ardea herodias", 2001, "", "https://example.org/1")

	withMedia := base
	withMedia.Media = true
	newer := base
	newer.Year = 2002
	assert.True(t, better(withMedia, newer), "media beats date")

	withCatalog := base
	withCatalog.CatalogNumber = "X1"
	assert.True(t, better(newer, withCatalog), "date beats catalog")
	assert.True(t, better(withCatalog, base))

	precise := base
	precise.LocUncM = 10
	vague := base
	vague.LocUncM = 5000
	assert.True(t, better(precise, vague))
	assert.True(t, better(vague, base), "reported uncertainty beats unreported")

	assert.False(t, better(base, base))
}
