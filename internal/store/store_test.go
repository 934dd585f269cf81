package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/clauditor-go/internal/types"
)

var ctx = context.Background()

func at(hour, minute int) time.Time {
	return time.Date(2025, 6, 10, hour, minute, 0, 0, time.UTC)
}

type flatPrice float64

func (p flatPrice) RecordCost(_ context.Context, rec types.UsageRecord) (float64, bool) {
	if rec.Cost != nil {
		return *rec.Cost, true
	}
	if rec.Model == "" {
		return 0, false
	}
	return float64(rec.Tokens.GetTotal()) * float64(p), true
}

func rec(source string, ts time.Time, tokens int, key string) types.UsageRecord {
	return types.UsageRecord{
		Timestamp: ts,
		SourceID:  source,
		Model:     "claude-sonnet-4",
		Tokens:    types.TokenCounts{InputTokens: tokens},
		DedupKey:  key,
	}
}

func newTestStore() *Store {
	return New(Options{WindowDuration: 5 * time.Hour}, flatPrice(0.001))
}

func assertConsistent(t *testing.T, snap types.AggregateSnapshot) {
	t.Helper()
	var tokens types.TokenCounts
	cost := 0.0
	count := 0
	for _, u := range snap.Sources {
		tokens = tokens.Add(u.TokenCounts)
		cost += u.CostUSD
		count += u.RecordCount
	}
	assert.Equal(t, tokens, snap.TokenCounts)
	assert.InDelta(t, cost, snap.CostUSD, 1e-9)
	assert.Equal(t, count, snap.RecordCount)
}

func TestSnapshotSingleSource(t *testing.T) {
	s := newTestStore()
	res := s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{
		rec("proj", at(14, 13), 10, "k1"),
		rec("proj", at(14, 45), 20, "k2"),
		rec("proj", at(15, 30), 30, "k3"),
	})
	assert.Equal(t, IngestResult{Added: 3}, res)

	snap := s.Snapshot(at(15, 40))
	require.NotNil(t, snap.Window)
	assert.Equal(t, at(14, 0), snap.Window.Start)
	assert.Equal(t, at(19, 0), snap.Window.End)
	assert.Equal(t, 60, snap.TokenCounts.GetTotal())
	assert.Equal(t, 100.0, snap.ElapsedMinutes)
	assert.Equal(t, 200.0, snap.RemainingMinutes)
	assert.InDelta(t, 0.6, snap.BurnRate.TokensPerMinute, 1e-9)
	require.NotNil(t, snap.Projection)
	assert.Equal(t, 180, snap.Projection.TotalTokens)

	u := snap.Sources["proj"]
	assert.Equal(t, at(14, 13), u.FirstSeenInWindow)
	assert.Equal(t, at(15, 30), u.LastActivity)
	assert.Equal(t, []string{"claude-sonnet-4"}, u.Models)
	assert.InDelta(t, 0.06, u.CostUSD, 1e-9)
	assertConsistent(t, snap)
}

func TestSnapshotConcurrentSources(t *testing.T) {
	s := newTestStore()
	var a, b []types.UsageRecord
	for m := 10; m <= 110; m += 20 {
		ts := at(14, 0).Add(time.Duration(m) * time.Minute)
		a = append(a, rec("alpha", ts, 5, ""))
		b = append(b, rec("beta", ts.Add(time.Minute), 7, ""))
	}
	s.Ingest(ctx, "/alpha/s.jsonl", a)
	s.Ingest(ctx, "/beta/s.jsonl", b)

	snap := s.Snapshot(at(16, 0))
	require.Len(t, snap.Sources, 2)
	assert.Equal(t, 30, snap.Sources["alpha"].TokenCounts.GetTotal())
	assert.Equal(t, 42, snap.Sources["beta"].TokenCounts.GetTotal())
	assert.Equal(t, 72, snap.TokenCounts.GetTotal())
	assertConsistent(t, snap)
}

func TestSnapshotExcludesExpiredWindow(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{
		rec("proj", at(9, 0), 100, ""),
		rec("proj", at(15, 30), 7, ""),
	})

	snap := s.Snapshot(at(15, 40))
	require.NotNil(t, snap.Window)
	assert.Equal(t, at(15, 0), snap.Window.Start)
	assert.Equal(t, 7, snap.TokenCounts.GetTotal())
	assert.Equal(t, 1, snap.RecordCount)
}

func TestSnapshotWithoutActiveWindow(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("proj", at(14, 10), 1, "")})

	snap := s.Snapshot(at(19, 0))
	assert.Nil(t, snap.Window)
	assert.False(t, snap.HasActiveWindow())
	assert.Empty(t, snap.Sources)
	assert.Zero(t, snap.TokenCounts.GetTotal())
	assert.Nil(t, snap.Projection)
}

func TestDuplicateKeysCountOnce(t *testing.T) {
	once := newTestStore()
	once.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("proj", at(14, 10), 10, "msg:req")})

	twice := newTestStore()
	twice.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("proj", at(14, 10), 10, "msg:req")})
	res := twice.Ingest(ctx, "/b.jsonl", []types.UsageRecord{rec("proj", at(14, 10), 10, "msg:req")})
	assert.Equal(t, IngestResult{Duplicates: 1}, res)

	now := at(15, 0)
	assert.Equal(t, once.Snapshot(now), twice.Snapshot(now))
	assert.Equal(t, 10, twice.Snapshot(now).TokenCounts.GetTotal())
}

func TestRecordsWithoutKeyAreAlwaysKept(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("proj", at(14, 10), 10, ""), rec("proj", at(14, 10), 10, "")})
	assert.Equal(t, 2, s.Len())
}

func TestUnpricedRecordsAreCounted(t *testing.T) {
	s := newTestStore()
	r := rec("proj", at(14, 10), 10, "")
	r.Model = ""
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{r})

	u := s.Snapshot(at(14, 30)).Sources["proj"]
	assert.Equal(t, 1, u.UnpricedRecords)
	assert.Zero(t, u.CostUSD)
}

func TestBatchedIngestMatchesSingleBatch(t *testing.T) {
	records := []types.UsageRecord{
		rec("alpha", at(13, 55), 3, "a1"),
		rec("beta", at(14, 20), 5, "b1"),
		rec("alpha", at(14, 40), 7, "a2"),
		rec("beta", at(15, 5), 11, "b2"),
		rec("alpha", at(15, 50), 13, "a3"),
		rec("beta", at(15, 50), 13, "a3"),
	}
	now := at(16, 0)

	full := newTestStore()
	full.Ingest(ctx, "/all.jsonl", records)
	full.Commit(now, []string{"alpha", "beta"})

	batched := newTestStore()
	for i, r := range records {
		batched.Ingest(ctx, "/all.jsonl", []types.UsageRecord{r})
		batched.Commit(at(14, 0).Add(time.Duration(i)*10*time.Minute), []string{"alpha", "beta"})
	}
	batched.Commit(now, []string{"alpha", "beta"})

	assert.Equal(t, full.Snapshot(now), batched.Snapshot(now))
	assertConsistent(t, full.Snapshot(now))
}

func TestNeedsFullReload(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(14, 10), 1, "k1")})

	reload, _ := s.NeedsFullReload(at(14, 20), []string{"alpha"})
	assert.False(t, reload, "never before the first commit")

	s.Commit(at(14, 20), []string{"alpha"})
	reload, _ = s.NeedsFullReload(at(14, 30), []string{"alpha"})
	assert.False(t, reload)

	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(14, 40), 1, "k2")})
	reload, _ = s.NeedsFullReload(at(14, 45), []string{"alpha"})
	assert.False(t, reload, "same window, same sources")

	reload, reason := s.NeedsFullReload(at(14, 45), []string{"alpha", "beta"})
	assert.True(t, reload)
	assert.Equal(t, ReasonSourcesGrew, reason)

	reload, reason = s.NeedsFullReload(at(19, 30), []string{"alpha"})
	assert.True(t, reload)
	assert.Equal(t, ReasonWindowChanged, reason)

	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(10, 30), 1, "k0")})
	reload, reason = s.NeedsFullReload(at(14, 45), []string{"alpha"})
	assert.True(t, reload)
	assert.Equal(t, ReasonWindowChanged, reason)
}

func TestDropPathForcesReload(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(14, 10), 1, "k1")})
	s.Ingest(ctx, "/b.jsonl", []types.UsageRecord{rec("beta", at(14, 15), 2, "k2")})
	s.Commit(at(14, 20), []string{"alpha", "beta"})

	assert.Equal(t, 0, s.DropPath("/missing.jsonl"))
	reload, _ := s.NeedsFullReload(at(14, 30), []string{"alpha", "beta"})
	assert.False(t, reload)

	assert.Equal(t, 1, s.DropPath("/a.jsonl"))
	assert.Equal(t, 1, s.Len())
	reload, reason := s.NeedsFullReload(at(14, 30), []string{"beta"})
	assert.True(t, reload)
	assert.Equal(t, ReasonPathDropped, reason)

	res := s.Ingest(ctx, "/c.jsonl", []types.UsageRecord{rec("alpha", at(14, 10), 1, "k1")})
	assert.Equal(t, 1, res.Added, "key released by the dropped path")

	s.Commit(at(14, 30), []string{"alpha", "beta"})
	reload, _ = s.NeedsFullReload(at(14, 30), []string{"alpha", "beta"})
	assert.False(t, reload)
}

func TestResetKeepsCache(t *testing.T) {
	s := newTestStore()
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(14, 10), 1, "k1")})
	s.Commit(at(14, 20), []string{"alpha"})

	s.Reset()
	assert.Zero(t, s.Len())
	res := s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(14, 10), 1, "k1")})
	assert.Equal(t, 1, res.Added)

	reload, _ := s.NeedsFullReload(at(14, 30), []string{"alpha"})
	assert.False(t, reload)
}

func TestCommitPrunesOldRecords(t *testing.T) {
	s := New(Options{WindowDuration: 5 * time.Hour, Retention: time.Hour}, nil)
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{
		rec("alpha", at(2, 0), 1, "old"),
		rec("alpha", at(14, 0), 1, "new"),
	})

	s.Commit(at(14, 30), []string{"alpha"})
	require.Equal(t, 1, s.Len())
	assert.Equal(t, at(14, 0), s.Records()[0].Timestamp)

	res := s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{rec("alpha", at(2, 0), 1, "old")})
	assert.Equal(t, 1, res.Added)
}

func TestOwnCostIsUsedWithoutResolver(t *testing.T) {
	s := New(Options{}, nil)
	cost := 1.25
	r := rec("alpha", at(14, 0), 1, "")
	r.Cost = &cost
	s.Ingest(ctx, "/a.jsonl", []types.UsageRecord{r})

	snap := s.Snapshot(at(14, 10))
	assert.Equal(t, 1.25, snap.CostUSD)
	assert.Equal(t, 5*time.Hour, s.WindowDuration())
}
