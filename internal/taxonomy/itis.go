package taxonomy

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/adamdsmith/fwspp/internal/fetcher"
	"github.com/adamdsmith/fwspp/internal/resilience"
)

// DefaultITISURL is the ITIS Solr endpoint.
const DefaultITISURL = "https://services.itis.gov/"

// Record is one ITIS name usage as returned by the Solr service.
type Record struct {
	TSN          int
	Name         string
	Rank         string
	Usage        string
	AcceptedTSNs []int
	Class        string
	CommonName   string
}

// Accepted reports whether the usage is the valid/accepted one.
func (r Record) Accepted() bool {
	switch strings.ToLower(r.Usage) {
	case "valid", "accepted", "":
		return true
	default:
		return false
	}
}

// Client looks names up in ITIS.
type Client interface {
	// Exact returns usages whose name without indicators equals name.
	Exact(ctx context.Context, name string) ([]Record, error)
	// Candidates returns usages in the same genus to score for fuzzy matches.
	Candidates(ctx context.Context, genus, epithet string, limit int) ([]Record, error)
	// ByTSN returns the usage with the given serial number, or nil.
	ByTSN(ctx context.Context, tsn int) (*Record, error)
}

// ITIS is a Client backed by the ITIS Solr web service.
type ITIS struct {
	baseURL string
	f       fetcher.Fetcher
	retry   resilience.RetryConfig
}

// NewITIS creates an ITIS client. An empty baseURL uses DefaultITISURL.
func NewITIS(baseURL string, f fetcher.Fetcher, retry resilience.RetryConfig) *ITIS {
	if baseURL == "" {
		baseURL = DefaultITISURL
	}
	return &ITIS{baseURL: baseURL, f: f, retry: retry}
}

type solrResponse struct {
	Response struct {
		NumFound int       `json:"numFound"`
		Docs     []solrDoc `json:"docs"`
	} `json:"response"`
}

type solrDoc struct {
	TSN         any      `json:"tsn"`
	NameWOInd   string   `json:"nameWOInd"`
	Rank        string   `json:"rank"`
	Usage       string   `json:"usage"`
	AcceptedTSN []any    `json:"acceptedTSN"`
	Hierarchy   []string `json:"hierarchySoFarWRanks"`
	Vernacular  []string `json:"vernacular"`
}

// quote produces a Solr phrase literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// escapeTerm escapes Solr query syntax characters in a bare term.
func escapeTerm(s string) string {
	var b strings.Builder
	for _, c := range s {
		if strings.ContainsRune(`+-&|!(){}[]^"~*?:\/ `, c) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (c *ITIS) search(ctx context.Context, op, q string, rows int) ([]Record, error) {
	params := url.Values{
		"q":    {q},
		"wt":   {"json"},
		"rows": {strconv.Itoa(rows)},
	}
	res, err := resilience.DoVal(ctx, c.retry.Named("ITIS", op), func(ctx context.Context) (*solrResponse, error) {
		var out solrResponse
		if err := c.f.GetJSON(ctx, c.baseURL, params, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: itis %s", op)
	}

	recs := make([]Record, 0, len(res.Response.Docs))
	for _, d := range res.Response.Docs {
		if r, ok := d.record(); ok {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// Exact implements Client.
func (c *ITIS) Exact(ctx context.Context, name string) ([]Record, error) {
	return c.search(ctx, "exact", "nameWOInd:"+quote(name), 20)
}

// Candidates implements Client. The epithet's initial narrows large genera.
func (c *ITIS) Candidates(ctx context.Context, genus, epithet string, limit int) ([]Record, error) {
	q := "unit1:" + escapeTerm(genus)
	if epithet != "" {
		first, _ := utf8.DecodeRuneInString(epithet)
		q += " AND unit2:" + escapeTerm(string(first)) + "*"
	}
	return c.search(ctx, "candidates", q, limit)
}

// ByTSN implements Client.
func (c *ITIS) ByTSN(ctx context.Context, tsn int) (*Record, error) {
	recs, err := c.search(ctx, "tsn", "tsn:"+strconv.Itoa(tsn), 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (d solrDoc) record() (Record, bool) {
	tsn := anyInt(d.TSN)
	if tsn == 0 || d.NameWOInd == "" {
		return Record{}, false
	}
	r := Record{
		TSN:        tsn,
		Name:       strings.TrimSpace(d.NameWOInd),
		Rank:       strings.TrimSpace(d.Rank),
		Usage:      strings.TrimSpace(d.Usage),
		Class:      classFromHierarchy(d.Hierarchy),
		CommonName: englishName(d.Vernacular),
	}
	for _, a := range d.AcceptedTSN {
		if n := anyInt(a); n > 0 {
			r.AcceptedTSNs = append(r.AcceptedTSNs, n)
		}
	}
	return r, true
}

func anyInt(v any) int {
	switch t := v.(type) {
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	case json.Number:
		n, _ := strconv.Atoi(t.String())
		return n
	case float64:
		return int(t)
	default:
		return 0
	}
}

// classFromHierarchy reads the class out of entries such as
// "174773:$Kingdom:Animalia$...$Class:Aves$...".
func classFromHierarchy(entries []string) string {
	for _, e := range entries {
		for _, part := range strings.Split(e, "$") {
			rank, name, ok := strings.Cut(part, ":")
			if ok && strings.EqualFold(rank, "Class") {
				return strings.TrimSpace(name)
			}
		}
	}
	return ""
}

// englishName returns the first English vernacular. Entries look like
// "$great blue heron$English$N$152846$2012-03-29 00:00:00$".
func englishName(entries []string) string {
	for _, e := range entries {
		parts := strings.Split(strings.Trim(e, "$"), "$")
		if len(parts) >= 2 && strings.EqualFold(parts[1], "English") {
			return strings.TrimSpace(parts[0])
		}
	}
	return ""
}
