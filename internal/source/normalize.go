package source

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/adamdsmith/fwspp/internal/model"
)

// toFloat reads a loosely typed JSON value. Repositories variously send
// coordinates as numbers, numeric strings, or empty strings.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil && !math.IsNaN(f)
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func toInt(v any) int {
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

var datePattern = regexp.MustCompile(`^\s*(\d{4})(?:[-/](\d{1,2})(?:[-/](\d{1,2}))?)?`)

// splitDate extracts year, month and day from ISO-like date strings such as
// "2001", "2001-05", "2001-05-04" or "2001-05-04T00:00:00+00:00". Parts that
// are missing or out of range come back as zero.
func splitDate(s string) (year, month, day int) {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0
	}
	year, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
	}
	return checkDate(year, month, day)
}

func checkDate(year, month, day int) (int, int, int) {
	if year < 1 {
		return 0, 0, 0
	}
	if month < 1 || month > 12 {
		return year, 0, 0
	}
	if day < 1 || day > 31 {
		return year, month, 0
	}
	return year, month, day
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// firstURL returns the first candidate that looks like a URL.
func firstURL(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); isURL(c) {
			return c
		}
	}
	return ""
}

// normalizer finalizes adapter rows into valid occurrence records.
type normalizer struct {
	repo      string
	records   []model.Occurrence
	media     []model.MediaLink
	discarded int
}

func newNormalizer(repo string, capacity int) *normalizer {
	return &normalizer{repo: repo, records: make([]model.Occurrence, 0, capacity)}
}

// add trims and stamps o, keeping it only when it has a name and valid
// coordinates.
func (n *normalizer) add(o model.Occurrence, mediaURLs ...string) {
	o.SciName = strings.Join(strings.Fields(o.SciName), " ")
	o.BioRepo = n.repo
	o.CatalogNumber = strings.TrimSpace(o.CatalogNumber)
	o.Evidence = strings.TrimSpace(o.Evidence)
	if o.LocUncM < 0 || math.IsNaN(o.LocUncM) {
		o.LocUncM = 0
	}
	o.Year, o.Month, o.Day = checkDate(o.Year, o.Month, o.Day)
	if o.SciName == "" || !o.Valid() {
		n.discarded++
		return
	}
	var urls []string
	for _, u := range mediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if o.Evidence == "" && len(urls) > 0 {
		o.Evidence = firstURL(urls...)
	}
	o.Media = len(urls) > 0
	key := o.RecordKey()
	for _, u := range urls {
		n.media = append(n.media, model.MediaLink{
			BioRepo:       n.repo,
			CatalogNumber: o.CatalogNumber,
			Evidence:      o.Evidence,
			URL:           u,
			Record:        key,
		})
	}
	n.records = append(n.records, o)
}
