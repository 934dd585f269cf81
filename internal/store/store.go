// Package store holds the deduplicated record set and derives the
// aggregate view of the active window from it.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/types"
)

// CostResolver prices a record. ok is false when no price is available.
type CostResolver interface {
	RecordCost(ctx context.Context, rec types.UsageRecord) (cost float64, ok bool)
}

// Reload reasons reported by NeedsFullReload.
const (
	ReasonWindowChanged = "window_changed"
	ReasonSourcesGrew   = "sources_grew"
	ReasonPathDropped   = "path_dropped"
)

type Options struct {
	WindowDuration time.Duration
	// Retention bounds how long records are kept. It defaults to twice
	// the window duration and is never shorter than that.
	Retention time.Duration
}

type entry struct {
	rec    types.UsageRecord
	path   string
	cost   float64
	priced bool
}

type cacheState struct {
	window  *types.Window
	sources map[string]bool
}

// Store is owned by a single tick at a time and is not safe for concurrent
// use.
type Store struct {
	opts    Options
	costs   CostResolver
	entries []entry
	// seen maps a dedup key to the path of the record that owns it
	seen map[string]string

	cache       cacheState
	primed      bool
	forceReload bool
}

// IngestResult counts what happened to one ingested batch.
type IngestResult struct {
	Added      int
	Duplicates int
}

func New(opts Options, costs CostResolver) *Store {
	if opts.WindowDuration <= 0 {
		opts.WindowDuration = calculator.DefaultWindowDuration
	}
	if opts.Retention < 2*opts.WindowDuration {
		opts.Retention = 2 * opts.WindowDuration
	}
	return &Store{
		opts:  opts,
		costs: costs,
		seen:  make(map[string]string),
		cache: cacheState{sources: make(map[string]bool)},
	}
}

// WindowDuration returns the configured window length.
func (s *Store) WindowDuration() time.Duration {
	return s.opts.WindowDuration
}

// Ingest folds records read from path into the set. Records whose dedup
// key was already seen are discarded; records without a key are kept.
func (s *Store) Ingest(ctx context.Context, path string, records []types.UsageRecord) IngestResult {
	var res IngestResult
	for _, rec := range records {
		if rec.DedupKey != "" {
			if _, dup := s.seen[rec.DedupKey]; dup {
				res.Duplicates++
				continue
			}
			s.seen[rec.DedupKey] = path
		}

		e := entry{rec: rec, path: path}
		if s.costs != nil {
			e.cost, e.priced = s.costs.RecordCost(ctx, rec)
		} else if rec.Cost != nil {
			e.cost, e.priced = *rec.Cost, true
		}
		s.entries = append(s.entries, e)
		res.Added++
	}
	return res
}

// DropPath removes every record read from path and releases its dedup
// keys. A duplicate of a released key may have been discarded from another
// path, so the next NeedsFullReload reports true.
func (s *Store) DropPath(path string) int {
	before := len(s.entries)
	s.entries = lo.Filter(s.entries, func(e entry, _ int) bool {
		return e.path != path
	})
	for key, owner := range s.seen {
		if owner == path {
			delete(s.seen, key)
		}
	}
	dropped := before - len(s.entries)
	if dropped > 0 {
		s.forceReload = true
	}
	return dropped
}

// Reset clears records and dedup keys. The cached window and source set
// are kept so the reload can be compared against them.
func (s *Store) Reset() {
	s.entries = nil
	s.seen = make(map[string]string)
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	return len(s.entries)
}

// Records returns a copy of the resident records.
func (s *Store) Records() []types.UsageRecord {
	return lo.Map(s.entries, func(e entry, _ int) types.UsageRecord {
		return e.rec
	})
}

// NeedsFullReload decides whether incremental merging is unsafe: the
// derived window differs from the cached one, the set of source ids grew,
// or records were dropped from a path. It never fires before the first
// Commit, since the first pass already reads every source from the start.
func (s *Store) NeedsFullReload(now time.Time, sourceIDs []string) (bool, string) {
	if !s.primed {
		return false, ""
	}
	if s.forceReload {
		return true, ReasonPathDropped
	}

	w, ok := calculator.DetermineWindow(s.Records(), now, s.opts.WindowDuration)
	if !sameWindow(s.cache.window, w, ok) {
		return true, ReasonWindowChanged
	}

	for _, id := range sourceIDs {
		if !s.cache.sources[id] {
			return true, ReasonSourcesGrew
		}
	}
	return false, ""
}

// Commit records the window and source set of this pass and prunes records
// older than the retention horizon.
func (s *Store) Commit(now time.Time, sourceIDs []string) {
	cutoff := now.Add(-s.opts.Retention)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.rec.Timestamp.Before(cutoff) {
			if e.rec.DedupKey != "" && s.seen[e.rec.DedupKey] == e.path {
				delete(s.seen, e.rec.DedupKey)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept

	w, ok := calculator.DetermineWindow(s.Records(), now, s.opts.WindowDuration)
	s.cache.window = nil
	if ok {
		s.cache.window = &w
	}
	s.cache.sources = lo.SliceToMap(sourceIDs, func(id string) (string, bool) {
		return id, true
	})
	s.primed = true
	s.forceReload = false
}

// Snapshot derives the aggregate for now. Per-source sums are re-summed
// from the records inside the window on every call and totals are the sum
// of the per-source entries.
func (s *Store) Snapshot(now time.Time) types.AggregateSnapshot {
	snap := types.AggregateSnapshot{
		GeneratedAt: now,
		Sources:     map[string]types.SourceUsage{},
	}

	w, ok := calculator.DetermineWindow(s.Records(), now, s.opts.WindowDuration)
	if !ok {
		return snap
	}
	snap.Window = &w
	snap.ElapsedMinutes = calculator.ElapsedMinutes(w, now)
	snap.RemainingMinutes = calculator.RemainingMinutes(w, now)

	inWindow := lo.Filter(s.entries, func(e entry, _ int) bool {
		return w.Contains(e.rec.Timestamp)
	})
	bySource := lo.GroupBy(inWindow, func(e entry) string {
		return e.rec.SourceID
	})

	for id, entries := range bySource {
		usage := summarizeSource(id, entries)
		usage.BurnRate = calculator.CalculateBurnRate(usage.TokenCounts, usage.CostUSD, snap.ElapsedMinutes)
		snap.Sources[id] = usage
	}

	for _, id := range sortedSourceIDs(snap.Sources) {
		u := snap.Sources[id]
		snap.TokenCounts = snap.TokenCounts.Add(u.TokenCounts)
		snap.CostUSD += u.CostUSD
		snap.RecordCount += u.RecordCount
	}

	snap.BurnRate = calculator.CalculateBurnRate(snap.TokenCounts, snap.CostUSD, snap.ElapsedMinutes)
	projection := calculator.ProjectUsage(snap.TokenCounts, snap.CostUSD, snap.BurnRate, snap.RemainingMinutes)
	snap.Projection = &projection
	return snap
}

func summarizeSource(id string, entries []entry) types.SourceUsage {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].rec.Timestamp.Before(entries[j].rec.Timestamp)
	})

	usage := types.SourceUsage{
		SourceID:          id,
		RecordCount:       len(entries),
		FirstSeenInWindow: entries[0].rec.Timestamp,
		LastActivity:      entries[len(entries)-1].rec.Timestamp,
	}
	for _, e := range entries {
		usage.TokenCounts = usage.TokenCounts.Add(e.rec.Tokens)
		usage.CostUSD += e.cost
		if !e.priced {
			usage.UnpricedRecords++
		}
	}

	models := lo.Uniq(lo.FilterMap(entries, func(e entry, _ int) (string, bool) {
		return e.rec.Model, e.rec.Model != ""
	}))
	sort.Strings(models)
	usage.Models = models
	return usage
}

func sortedSourceIDs(sources map[string]types.SourceUsage) []string {
	ids := lo.Keys(sources)
	sort.Strings(ids)
	return ids
}

func sameWindow(cached *types.Window, derived types.Window, ok bool) bool {
	if cached == nil || !ok {
		return cached == nil && !ok
	}
	return cached.Equal(derived)
}
