// Package scrub reconciles the records gathered for one property: it clips
// them to the exact property geometry, removes duplicates and, at the strict
// level, reduces them to one evidenced record per species.
package scrub

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/adamdsmith/fwspp/internal/geo"
	"github.com/adamdsmith/fwspp/internal/model"
)

// Report counts what each reconciliation step removed.
type Report struct {
	Input             int `json:"input"`
	DuplicateCatalogs int `json:"duplicate_catalogs"`
	Redundant         int `json:"redundant"`
	NoEvidence        int `json:"no_evidence"`
	Reduced           int `json:"reduced"`
	Output            int `json:"output"`
}

// Removed returns the total number of records dropped.
func (r Report) Removed() int {
	return r.Input - r.Output
}

// coordDecimals is the rounding applied before comparing locations of
// redundant observations; 4 decimals is about 11 m at the equator.
const coordDecimals = 4

// Clip keeps the records that fall inside the property's buffered geometry
// and reports how many were dropped.
func Clip(records []model.Occurrence, p *geo.Property) ([]model.Occurrence, int) {
	kept := make([]model.Occurrence, 0, len(records))
	for _, r := range records {
		if p.Contains(r.Lon, r.Lat) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

// Reconcile applies the given scrub level. The input slice is not modified.
func Reconcile(records []model.Occurrence, level model.ScrubLevel) ([]model.Occurrence, Report) {
	rep := Report{Input: len(records)}
	out := make([]model.Occurrence, len(records))
	copy(out, records)

	if level == model.ScrubNone {
		rep.Output = len(out)
		return out, rep
	}

	out, rep.DuplicateCatalogs = dropDuplicateCatalogs(out)
	out, rep.Redundant = collapseRedundant(out)

	if level == model.ScrubStrict {
		out, rep.NoEvidence = dropUnevidenced(out)
		out, rep.Reduced = onePerSpecies(out)
	}

	rep.Output = len(out)
	return out, rep
}

// better reports whether a is preferred over b: records with media first,
// then the most recent, then those with a catalog number. Remaining ties go
// to evidence, a reported (smaller) coordinate uncertainty, and finally to a
// stable lexical order so results do not depend on arrival order.
func better(a, b model.Occurrence) bool {
	if a.Media != b.Media {
		return a.Media
	}
	if ak, bk := a.DateKey(), b.DateKey(); ak != bk {
		return ak > bk
	}
	if ac, bc := a.HasCatalog(), b.HasCatalog(); ac != bc {
		return ac
	}
	if ae, be := a.HasEvidence(), b.HasEvidence(); ae != be {
		return ae
	}
	if a.LocUncM != b.LocUncM {
		switch {
		case a.LocUncM == 0:
			return false
		case b.LocUncM == 0:
			return true
		default:
			return a.LocUncM < b.LocUncM
		}
	}
	if a.BioRepo != b.BioRepo {
		return a.BioRepo < b.BioRepo
	}
	if a.CatalogNumber != b.CatalogNumber {
		return a.CatalogNumber < b.CatalogNumber
	}
	return a.Evidence < b.Evidence
}

// keepBest groups records by key and keeps the preferred record of each
// group at the position of the group's first member. Records with an empty
// key are never grouped.
func keepBest(records []model.Occurrence, key func(model.Occurrence) string) ([]model.Occurrence, int) {
	index := make(map[string]int, len(records))
	out := make([]model.Occurrence, 0, len(records))
	for _, r := range records {
		k := key(r)
		if k == "" {
			out = append(out, r)
			continue
		}
		if i, ok := index[k]; ok {
			if better(r, out[i]) {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// catalogKey pairs the catalog number with the species so unrelated
// specimens that happen to share a number stay apart.
func catalogKey(o model.Occurrence) string {
	cat := strings.ToLower(strings.TrimSpace(o.CatalogNumber))
	if cat == "" {
		return ""
	}
	return speciesKey(o) + "|" + cat
}

func dropDuplicateCatalogs(records []model.Occurrence) ([]model.Occurrence, int) {
	return keepBest(records, catalogKey)
}

func speciesKey(o model.Occurrence) string {
	return strings.ToLower(strings.Join(strings.Fields(o.SciName), " "))
}

func roundCoord(v float64) string {
	p := math.Pow(10, coordDecimals)
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', coordDecimals, 64)
}

// redundantKey identifies observations of the same species on the same day
// at the same rounded location. Undated records have no key.
func redundantKey(o model.Occurrence) string {
	if o.Year == 0 {
		return ""
	}
	return speciesKey(o) + "|" + strconv.Itoa(o.DateKey()) + "|" + roundCoord(o.Lon) + "," + roundCoord(o.Lat)
}

func collapseRedundant(records []model.Occurrence) ([]model.Occurrence, int) {
	return keepBest(records, redundantKey)
}

func dropUnevidenced(records []model.Occurrence) ([]model.Occurrence, int) {
	out := records[:0:0]
	for _, r := range records {
		if r.HasEvidence() {
			out = append(out, r)
		}
	}
	return out, len(records) - len(out)
}

// onePerSpecies keeps the preferred record for each species, ordered by name.
func onePerSpecies(records []model.Occurrence) ([]model.Occurrence, int) {
	out, n := keepBest(records, speciesKey)
	sort.SliceStable(out, func(i, j int) bool {
		return speciesKey(out[i]) < speciesKey(out[j])
	})
	return out, n
}
