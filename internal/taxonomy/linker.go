// Package taxonomy links occurrence records to canonical ITIS taxa. Names
// are normalized with gnparser, matched exactly first and by Levenshtein
// similarity within the genus second, and memoized for the life of a run.
package taxonomy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agext/levenshtein"
	"github.com/gnames/gnparser"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adamdsmith/fwspp/internal/model"
)

// Notes attached to linked records.
const (
	NoteNoMatch      = "no ITIS match"
	NoteLookupFailed = "ITIS lookup failed"
)

// RankNote is the note for matches above or below species rank.
func RankNote(rank string) string {
	return "ITIS match at " + rank + " rank; accepted name may not represent species-level identity"
}

// Config tunes matching.
type Config struct {
	// SimilarityThreshold is the minimum Levenshtein similarity (0..1) for a
	// fuzzy match. Default: 0.90.
	SimilarityThreshold float64
	// MaxCandidates bounds the genus candidates fetched per fuzzy lookup. Default: 25.
	MaxCandidates int
	// CacheTTL is how long lookups are memoized. Default: 24h.
	CacheTTL time.Duration
	// Concurrency bounds parallel lookups per Link call. Default: 4.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = 0.90
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 25
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Linker resolves scientific names to ITIS taxa. It is safe for concurrent
// use by several properties.
type Linker struct {
	client Client
	cfg    Config
	memo   *cache.Cache

	mu     sync.Mutex // gnparser instances are not safe for concurrent use
	parser gnparser.GNparser
}

// NewLinker creates a Linker over client.
func NewLinker(client Client, cfg Config) *Linker {
	cfg = cfg.withDefaults()
	return &Linker{
		client: client,
		cfg:    cfg,
		memo:   cache.New(cfg.CacheTTL, cfg.CacheTTL),
		parser: gnparser.New(gnparser.NewConfig()),
	}
}

// Match is the outcome of resolving one name.
type Match struct {
	Taxon *model.Taxon
	// Fuzzy is set when the match came from similarity scoring.
	Fuzzy bool
	// Similarity of the matched name to the submitted canonical name.
	Similarity float64
}

// Canonical returns the canonical simple form of name, or the trimmed name
// when gnparser cannot parse it.
func (l *Linker) Canonical(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	l.mu.Lock()
	parsed := l.parser.ParseName(name)
	l.mu.Unlock()
	if parsed.Parsed && parsed.Canonical != nil && parsed.Canonical.Simple != "" {
		return parsed.Canonical.Simple
	}
	return name
}

// Resolve looks one name up. A nil Match.Taxon means ITIS has no match.
func (l *Linker) Resolve(ctx context.Context, name string) (Match, error) {
	return l.resolveCanonical(ctx, l.Canonical(name))
}

func (l *Linker) resolveCanonical(ctx context.Context, canonical string) (Match, error) {
	if canonical == "" {
		return Match{}, nil
	}
	key := strings.ToLower(canonical)
	if m, ok := l.memo.Get(key); ok {
		return m.(Match), nil
	}

	m, err := l.resolve(ctx, canonical)
	if err != nil {
		return Match{}, err
	}
	l.memo.SetDefault(key, m)
	return m, nil
}

func (l *Linker) resolve(ctx context.Context, canonical string) (Match, error) {
	exact, err := l.client.Exact(ctx, canonical)
	if err != nil {
		return Match{}, err
	}
	if rec := pick(exact); rec != nil {
		taxon, err := l.accepted(ctx, *rec)
		return Match{Taxon: taxon, Similarity: 1}, err
	}

	genus, epithet := splitBinomial(canonical)
	cands, err := l.client.Candidates(ctx, genus, epithet, l.cfg.MaxCandidates)
	if err != nil {
		return Match{}, err
	}
	rec, sim := l.bestFuzzy(canonical, cands)
	if rec == nil {
		return Match{}, nil
	}
	zap.L().Debug("fuzzy ITIS match",
		zap.String("component", "taxonomy"),
		zap.String("name", canonical),
		zap.String("matched", rec.Name),
		zap.Float64("similarity", sim),
	)
	taxon, err := l.accepted(ctx, *rec)
	return Match{Taxon: taxon, Fuzzy: true, Similarity: sim}, err
}

// pick prefers accepted usages, then the lowest TSN.
func pick(recs []Record) *Record {
	if len(recs) == 0 {
		return nil
	}
	sorted := append([]Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Accepted() != sorted[j].Accepted() {
			return sorted[i].Accepted()
		}
		return sorted[i].TSN < sorted[j].TSN
	})
	return &sorted[0]
}

func (l *Linker) bestFuzzy(canonical string, cands []Record) (*Record, float64) {
	target := strings.ToLower(canonical)
	var (
		best    *Record
		bestSim float64
	)
	for i := range cands {
		c := &cands[i]
		sim := levenshtein.Similarity(target, strings.ToLower(c.Name), nil)
		if sim < l.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || sim > bestSim ||
			(sim == bestSim && pick([]Record{*c, *best}).TSN == c.TSN) {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

// accepted follows a non-accepted usage to its accepted record.
func (l *Linker) accepted(ctx context.Context, rec Record) (*model.Taxon, error) {
	if !rec.Accepted() && len(rec.AcceptedTSNs) > 0 {
		acc, err := l.client.ByTSN(ctx, rec.AcceptedTSNs[0])
		if err != nil {
			return nil, err
		}
		if acc != nil {
			if acc.Class == "" {
				acc.Class = rec.Class
			}
			rec = *acc
		}
	}
	return &model.Taxon{
		Class:        rec.Class,
		TSN:          rec.TSN,
		Rank:         rec.Rank,
		AcceptedName: rec.Name,
		CommonName:   rec.CommonName,
	}, nil
}

func splitBinomial(canonical string) (genus, epithet string) {
	parts := strings.Fields(canonical)
	if len(parts) == 0 {
		return "", ""
	}
	genus = parts[0]
	if len(parts) > 1 {
		epithet = parts[1]
	}
	return genus, epithet
}

// Link resolves every distinct name in recs and returns linked records in the
// same order. Matched records take the accepted name; unmatched ones keep
// their name and get a note. Lookup failures never fail the call: affected
// records are noted and left unlinked.
func (l *Linker) Link(ctx context.Context, recs []model.Occurrence) []model.Linked {
	canonical := make(map[string]string)
	distinct := make(map[string]struct{})
	for _, r := range recs {
		if _, ok := canonical[r.SciName]; !ok {
			c := l.Canonical(r.SciName)
			canonical[r.SciName] = c
			distinct[c] = struct{}{}
		}
	}

	type result struct {
		m   Match
		err error
	}
	var mu sync.Mutex
	results := make(map[string]result, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.Concurrency)
	for name := range distinct {
		g.Go(func() error {
			m, err := l.resolveCanonical(gctx, name)
			mu.Lock()
			results[name] = result{m: m, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Linked, len(recs))
	failed := 0
	for i, r := range recs {
		res := results[canonical[r.SciName]]
		switch {
		case res.err != nil:
			failed++
			out[i] = model.Linked{Occurrence: r.WithNote(NoteLookupFailed)}
		case res.m.Taxon == nil:
			out[i] = model.Linked{Occurrence: r.WithNote(NoteNoMatch)}
		default:
			t := *res.m.Taxon
			o := r
			o.SciName = t.AcceptedName
			if !strings.EqualFold(t.Rank, "Species") {
				o = o.WithNote(RankNote(t.Rank))
			}
			out[i] = model.Linked{Occurrence: o, Taxon: &t}
		}
	}
	if failed > 0 {
		zap.L().Warn("ITIS lookups failed; records left unlinked",
			zap.String("component", "taxonomy"),
			zap.Int("records", failed),
		)
	}
	return out
}
