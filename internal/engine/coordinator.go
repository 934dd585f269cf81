// Package engine drives one aggregation pass over every discovered log
// file: catalog, tracker, parser, store, snapshot.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/catalog"
	"github.com/sdpower/clauditor-go/internal/parser"
	"github.com/sdpower/clauditor-go/internal/store"
	"github.com/sdpower/clauditor-go/internal/tracker"
	"github.com/sdpower/clauditor-go/internal/types"
)

// DefaultFutureSkew is how far past now a record may be stamped before it
// is flagged as a time inversion.
const DefaultFutureSkew = 10 * time.Minute

// Observer receives per-tick outcomes. The metrics package implements it.
type Observer interface {
	ObserveTick(stats types.TickStats, snap types.AggregateSnapshot, err error)
}

type Options struct {
	FutureSkew time.Duration
	Logger     logrus.FieldLogger
	Observer   Observer
}

// Coordinator runs ticks. Tick is safe to call from several goroutines;
// calls are serialized and never overlap.
type Coordinator struct {
	catalog *catalog.Catalog
	tracker *tracker.Tracker
	store   *store.Store
	opts    Options

	mu sync.Mutex
	// inversions remembers future-stamped records already warned about,
	// keyed by dedup key (or path and timestamp when a record has none).
	inversions map[string]time.Time
}

func New(cat *catalog.Catalog, tr *tracker.Tracker, st *store.Store, opts Options) *Coordinator {
	if opts.FutureSkew <= 0 {
		opts.FutureSkew = DefaultFutureSkew
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Coordinator{
		catalog: cat,
		tracker: tr,
		store:   st,
		opts:    opts,

		inversions: make(map[string]time.Time),
	}
}

// Records returns the records currently held by the store.
func (c *Coordinator) Records() []types.UsageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Records()
}

// Tick runs one pass at now. Routine failures (bad lines, unreadable
// files, missing roots while another root works) are counted in the
// snapshot's stats. The only error is one wrapping types.ErrNoUsableRoot.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) (types.AggregateSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := time.Now()
	stats := types.TickStats{}

	listing, err := c.catalog.ListSources()
	for _, w := range listing.Warnings {
		stats.DiscoveryWarnings = append(stats.DiscoveryWarnings, w.Error())
	}
	if err != nil {
		stats.Duration = time.Since(started)
		snap := types.AggregateSnapshot{GeneratedAt: now, Sources: map[string]types.SourceUsage{}, Stats: stats}
		c.observe(stats, snap, err)
		return snap, err
	}

	sourceIDs := c.syncSources(listing)
	stats.Sources = len(c.tracker.Paths())

	c.forgetInversions(now)
	batches := c.readAll(ctx, now, &stats)

	if reload, reason := c.store.NeedsFullReload(now, sourceIDs); reload {
		c.opts.Logger.WithField("reason", reason).Debug("Full reload")
		stats.FullReload = true
		stats.FullReloadReason = reason

		// The incremental batches are discarded uncommitted.
		c.tracker.ResetAll()
		c.store.Reset()
		reloadStats := types.TickStats{
			Sources:           stats.Sources,
			DiscoveryWarnings: stats.DiscoveryWarnings,
			Discontinuities:   stats.Discontinuities,
			FullReload:        true,
			FullReloadReason:  reason,
		}
		batches = c.readAll(ctx, now, &reloadStats)
		stats = reloadStats
	}

	for _, b := range batches {
		c.tracker.Commit(b)
	}
	c.store.Commit(now, sourceIDs)

	snap := c.store.Snapshot(now)
	stats.Duration = time.Since(started)
	snap.Stats = stats
	c.observe(stats, snap, nil)
	return snap, nil
}

// syncSources starts tracking new paths and drops vanished ones. It
// returns the distinct source ids of the listing.
func (c *Coordinator) syncSources(listing catalog.Listing) []string {
	current := make(map[string]bool, len(listing.Sources))
	ids := make(map[string]bool)
	var sourceIDs []string

	for _, src := range listing.Sources {
		current[src.Path] = true
		if c.tracker.Track(src.Path, src.SourceID) {
			c.opts.Logger.WithFields(logrus.Fields{
				"path":   src.Path,
				"source": src.SourceID,
			}).Debug("Tracking new file")
		}
		if !ids[src.SourceID] {
			ids[src.SourceID] = true
			sourceIDs = append(sourceIDs, src.SourceID)
		}
	}

	for _, path := range c.tracker.Paths() {
		if current[path] {
			continue
		}
		c.tracker.Forget(path)
		dropped := c.store.DropPath(path)
		c.opts.Logger.WithFields(logrus.Fields{
			"path":    path,
			"records": dropped,
		}).Debug("File no longer listed")
	}
	return sourceIDs
}

// readAll reads, parses and ingests new lines from every tracked path.
// The returned batches still need committing.
func (c *Coordinator) readAll(ctx context.Context, now time.Time, stats *types.TickStats) []tracker.Batch {
	var batches []tracker.Batch
	futureLimit := now.Add(c.opts.FutureSkew)

	for _, path := range c.tracker.Paths() {
		cur, _ := c.tracker.Cursor(path)

		b, err := c.tracker.ReadNew(ctx, path)
		if err != nil {
			stats.AddReadError(cur.SourceID)
			entry := c.opts.Logger.WithFields(logrus.Fields{"path": path, "source": cur.SourceID})
			var readErr *types.SourceReadError
			if errors.As(err, &readErr) {
				entry = entry.WithField("attempts", readErr.Attempts)
			}
			entry.WithError(err).Warn("Skipping source for this tick")
			continue
		}

		if b.Discontinuity {
			stats.Discontinuities++
			c.store.DropPath(path)
		}

		records := make([]types.UsageRecord, 0, len(b.Lines))
		for _, line := range b.Lines {
			stats.LinesRead++
			rec, err := parser.Parse(line, b.SourceID)
			if err != nil {
				var pf *types.ParseFailure
				if errors.As(err, &pf) {
					stats.AddParseFailure(pf.Kind)
				}
				c.opts.Logger.WithFields(logrus.Fields{"path": path}).WithError(err).Trace("Skipping line")
				continue
			}
			rec.Path = path
			if rec.Timestamp.After(futureLimit) {
				stats.TimeInversions++
				c.warnInversion(rec, now)
			}
			records = append(records, rec)
		}

		res := c.store.Ingest(ctx, path, records)
		stats.RecordsIngested += res.Added
		stats.DuplicatesDropped += res.Duplicates
		batches = append(batches, b)
	}
	return batches
}

// warnInversion logs a future-stamped record the first time it is read.
// Full reloads read it again without repeating the warning.
func (c *Coordinator) warnInversion(rec types.UsageRecord, now time.Time) {
	key := rec.DedupKey
	if key == "" {
		key = rec.Path + "@" + rec.Timestamp.Format(time.RFC3339Nano)
	}
	if _, seen := c.inversions[key]; seen {
		return
	}
	c.inversions[key] = rec.Timestamp

	warn := &types.TimeInversionWarning{SourceID: rec.SourceID, Timestamp: rec.Timestamp, Now: now}
	c.opts.Logger.WithField("path", rec.Path).Warn(warn.Error())
}

// forgetInversions drops remembered records no longer ahead of now.
func (c *Coordinator) forgetInversions(now time.Time) {
	limit := now.Add(c.opts.FutureSkew)
	for key, ts := range c.inversions {
		if !ts.After(limit) {
			delete(c.inversions, key)
		}
	}
}

func (c *Coordinator) observe(stats types.TickStats, snap types.AggregateSnapshot, err error) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveTick(stats, snap, err)
	}
}
