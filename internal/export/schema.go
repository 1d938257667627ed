package export

import (
	"strconv"
	"strings"

	"github.com/adamdsmith/fwspp/internal/model"
)

var (
	linkedColumns = []string{
		"class", "taxon_serial_id", "taxon_rank", "sci_name", "com_name",
		"lon", "lat", "loc_unc_m", "year", "month", "day", "evidence", "bio_repo", "note",
	}
	plainColumns = []string{
		"sci_name", "lon", "lat", "loc_unc_m", "year", "month", "day", "evidence", "bio_repo", "note",
	}
	mediaColumns = []string{"bio_repo", "catalog_number", "evidence", "url"}
)

// Columns returns the header of the record table. ITIS columns are present
// only for linked results.
func Columns(linked bool) []string {
	if linked {
		return linkedColumns
	}
	return plainColumns
}

// Row formats one record in Columns(linked) order. Unknown values are empty.
func Row(rec model.Linked, linked bool) []string {
	o := rec.Occurrence
	tail := []string{
		formatFloat(o.Lon),
		formatFloat(o.Lat),
		optionalFloat(o.LocUncM),
		optionalInt(o.Year),
		optionalInt(o.Month),
		optionalInt(o.Day),
		textField(o.Evidence),
		textField(o.BioRepo),
		textField(o.Note),
	}
	if !linked {
		return append([]string{textField(o.SciName)}, tail...)
	}

	var class, tsn, rank, common string
	if t := rec.Taxon; t != nil {
		class = t.Class
		tsn = optionalInt(t.TSN)
		rank = t.Rank
		common = t.CommonName
	}
	head := []string{textField(class), tsn, textField(rank), textField(o.SciName), textField(common)}
	return append(head, tail...)
}

func mediaRow(m model.MediaLink) []string {
	return []string{textField(m.BioRepo), textField(m.CatalogNumber), textField(m.Evidence), textField(m.URL)}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func optionalFloat(v float64) string {
	if v <= 0 {
		return ""
	}
	return formatFloat(v)
}

func optionalInt(v int) string {
	if v <= 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// textField neutralizes values a spreadsheet would evaluate as a formula.
func textField(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}
