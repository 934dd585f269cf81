package calculator

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/clauditor-go/internal/types"
)

// IdentifyWindows groups records into sequentially anchored windows with
// gap markers between them. Each window starts at the floored hour of the
// first record after the previous window ended.
func (c *Calculator) IdentifyWindows(ctx context.Context, records []types.UsageRecord, now time.Time, d time.Duration) []types.WindowSummary {
	if len(records) == 0 {
		return []types.WindowSummary{}
	}
	if d <= 0 {
		d = DefaultWindowDuration
	}

	windows := []types.WindowSummary{}

	// Sort records by timestamp
	sorted := make([]types.UsageRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var currentStart *time.Time
	var current []types.UsageRecord

	for _, rec := range sorted {
		if currentStart == nil {
			floored := FloorToHour(rec.Timestamp)
			currentStart = &floored
			current = []types.UsageRecord{rec}
			continue
		}

		last := current[len(current)-1]

		if !rec.Timestamp.Before(currentStart.Add(d)) {
			windows = append(windows, c.summarize(ctx, *currentStart, current, now, d))

			if gap := createGap(last.Timestamp, rec.Timestamp, d); gap != nil {
				windows = append(windows, *gap)
			}

			floored := FloorToHour(rec.Timestamp)
			currentStart = &floored
			current = []types.UsageRecord{rec}
		} else {
			current = append(current, rec)
		}
	}

	if currentStart != nil && len(current) > 0 {
		windows = append(windows, c.summarize(ctx, *currentStart, current, now, d))
	}

	return windows
}

// summarize builds the summary of one window from its records
func (c *Calculator) summarize(ctx context.Context, start time.Time, records []types.UsageRecord, now time.Time, d time.Duration) types.WindowSummary {
	window := types.NewWindow(start, d)
	lastTime := records[len(records)-1].Timestamp

	tokenCounts := types.TokenCounts{}
	costUSD := 0.0
	modelSet := make(map[string]bool)
	sourceSet := make(map[string]bool)

	for _, rec := range records {
		tokenCounts = tokenCounts.Add(rec.Tokens)
		if cost, ok := c.RecordCost(ctx, rec); ok {
			costUSD += cost
		}
		if rec.Model != "" {
			modelSet[rec.Model] = true
		}
		sourceSet[rec.SourceID] = true
	}

	return types.WindowSummary{
		ID:            start.Format(time.RFC3339),
		StartTime:     window.Start,
		EndTime:       window.End,
		ActualEndTime: &lastTime,
		IsActive:      window.IsActiveAt(now) && now.Sub(lastTime) <= d,
		RecordCount:   len(records),
		TokenCounts:   tokenCounts,
		CostUSD:       costUSD,
		Models:        sortedKeys(modelSet),
		Sources:       sortedKeys(sourceSet),
	}
}

// createGap creates a gap marker for an idle period longer than a window
func createGap(lastActivity, nextActivity time.Time, d time.Duration) *types.WindowSummary {
	if nextActivity.Sub(lastActivity) <= d {
		return nil
	}

	gapStart := lastActivity.Add(d)
	return &types.WindowSummary{
		ID:        "gap-" + gapStart.Format(time.RFC3339),
		StartTime: gapStart,
		EndTime:   nextActivity,
		IsGap:     true,
		Models:    []string{},
		Sources:   []string{},
	}
}

// FilterRecentWindows keeps windows that start after since
func FilterRecentWindows(windows []types.WindowSummary, since time.Time) []types.WindowSummary {
	filtered := []types.WindowSummary{}
	for _, w := range windows {
		if w.StartTime.After(since) {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// MaxTokensFromWindows finds the largest token total among completed windows
func MaxTokensFromWindows(windows []types.WindowSummary) int {
	maxTokens := 0
	for _, w := range windows {
		if !w.IsGap && !w.IsActive {
			if total := w.TokenCounts.GetTotal(); total > maxTokens {
				maxTokens = total
			}
		}
	}
	return maxTokens
}

func sortedKeys(set map[string]bool) []string {
	keys := lo.Keys(set)
	sort.Strings(keys)
	return keys
}
