package source

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/adamdsmith/fwspp/internal/model"
)

// FloorYear is the earliest year covered by temporal partitioning.
const FloorYear = 1776

// Partition is an inclusive range of years queried as one unit.
type Partition struct {
	From  int `json:"from"`
	To    int `json:"to"`
	Count int `json:"count"`
	// Overflow marks a single year whose count alone exceeds the cap.
	Overflow bool `json:"overflow,omitempty"`
}

// TemporalPartitions walks backward from currentYear accumulating per-year
// counts and closes a partition whenever the next year would push it past
// limit. The earliest partition always reaches back to floorYear. A year that
// exceeds limit on its own becomes a single-year partition marked Overflow.
//
// The returned partitions are ordered newest first, contiguous, and together
// cover [floorYear, currentYear].
func TemporalPartitions(yearCounts map[int]int, limit, currentYear, floorYear int) []Partition {
	if currentYear < floorYear {
		currentYear = floorYear
	}
	if limit <= 0 {
		return []Partition{{From: floorYear, To: currentYear, Count: sumCounts(yearCounts, floorYear, currentYear)}}
	}

	var parts []Partition
	start, acc := currentYear, 0
	for y := currentYear; y >= floorYear; y-- {
		c := yearCounts[y]
		if acc > 0 && acc+c > limit {
			parts = append(parts, Partition{From: y + 1, To: start, Count: acc})
			start, acc = y, 0
		}
		acc += c
		if acc > limit {
			// Only reachable when year y alone exceeds the limit. Empty years
			// above it ride along so coverage stays contiguous.
			parts = append(parts, Partition{From: y, To: start, Count: acc, Overflow: true})
			start, acc = y-1, 0
		}
	}
	if start >= floorYear {
		parts = append(parts, Partition{From: floorYear, To: start, Count: acc})
	}
	return parts
}

// UniformYearCounts spreads total evenly over [floorYear, currentYear] for
// repositories that cannot report per-year counts.
func UniformYearCounts(total, currentYear, floorYear int) map[int]int {
	years := currentYear - floorYear + 1
	if years <= 0 || total <= 0 {
		return map[int]int{}
	}
	counts := make(map[int]int, years)
	per, rem := total/years, total%years
	for y := currentYear; y >= floorYear; y-- {
		counts[y] = per
		if rem > 0 {
			counts[y]++
			rem--
		}
	}
	return counts
}

func sumCounts(counts map[int]int, from, to int) int {
	var n int
	for y, c := range counts {
		if y >= from && y <= to {
			n += c
		}
	}
	return n
}

// Batch is one paged request: its index and starting offset.
type Batch struct {
	Index  int `json:"index"`
	Offset int `json:"offset"`
	Size   int `json:"size"`
}

// OffsetBatches returns ceil(total/size) batches with offsets 0, size,
// 2*size, ... below total.
func OffsetBatches(total, size int) []Batch {
	if total <= 0 || size <= 0 {
		return nil
	}
	batches := make([]Batch, 0, (total+size-1)/size)
	for i, off := 0, 0; off < total; i, off = i+1, off+size {
		n := size
		if off+n > total {
			n = total - off
		}
		batches = append(batches, Batch{Index: i, Offset: off, Size: n})
	}
	return batches
}

// Accumulator collects the partial results of split queries. Merging the same
// batch index twice is a no-op.
type Accumulator struct {
	mu      sync.Mutex
	merged  map[int]struct{}
	records []model.Occurrence
	media   []model.MediaLink
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{merged: make(map[int]struct{})}
}

// Merge appends a batch's records and media. It reports false when the
// index was already merged.
func (a *Accumulator) Merge(index int, records []model.Occurrence, media []model.MediaLink) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.merged[index]; ok {
		return false
	}
	a.merged[index] = struct{}{}
	a.records = append(a.records, records...)
	a.media = append(a.media, media...)
	return true
}

// Len returns the number of records accumulated so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Response builds a Response from the accumulated batches.
func (a *Accumulator) Response(meta Meta) *Response {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Response{Records: a.records, Media: a.media, Meta: meta}
}

// Partial keeps what was accumulated when ctx's deadline cut a retrieval
// short: the response is marked Truncated and TimedOut and err is dropped.
// Any other error, or an empty accumulator, returns err unchanged.
func (a *Accumulator) Partial(ctx context.Context, source string, meta Meta, err error) (*Response, error) {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, err
	}
	n := a.Len()
	if n == 0 {
		return nil, err
	}
	meta.Truncated = true
	meta.TimedOut = true
	zap.L().Warn("retrieval deadline reached; keeping partial results",
		zap.String("source", source),
		zap.Int("records", n),
		zap.Error(err),
	)
	return a.Response(meta), nil
}
