package calculator

import (
	"sort"
	"time"

	"github.com/sdpower/clauditor-go/internal/types"
)

const (
	// DefaultWindowDuration is Claude's billing window duration
	DefaultWindowDuration = 5 * time.Hour
	// WarningThreshold is the percentage threshold for warnings
	WarningThreshold = 0.8 // 80%
)

// FloorToHour floors a timestamp to the beginning of its hour. Flooring is
// done on absolute time so the result does not depend on the zone of t.
func FloorToHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// DetermineWindow returns the active billing window for records at now,
// or false when there is none.
//
// The window is anchored on the newest record and walked back one record
// at a time: an older record moves the start to its own floored hour as
// long as the newest record still falls inside the resulting window. The
// first record that would push the newest one out ends the walk; it and
// everything older belong to an earlier window.
func DetermineWindow(records []types.UsageRecord, now time.Time, d time.Duration) (types.Window, bool) {
	if len(records) == 0 {
		return types.Window{}, false
	}
	if d <= 0 {
		d = DefaultWindowDuration
	}

	stamps := make([]time.Time, len(records))
	for i, r := range records {
		stamps[i] = r.Timestamp
	}
	sort.Slice(stamps, func(i, j int) bool {
		return stamps[i].After(stamps[j])
	})

	newest := stamps[0]
	if now.Sub(newest) > d {
		return types.Window{}, false
	}

	start := FloorToHour(newest)
	for _, ts := range stamps[1:] {
		candidate := FloorToHour(ts)
		if !candidate.Before(start) {
			continue
		}
		if !newest.Before(candidate.Add(d)) {
			break
		}
		start = candidate
	}

	window := types.NewWindow(start, d)
	if !window.IsActiveAt(now) {
		return types.Window{}, false
	}
	return window, true
}

// InWindow returns the records whose timestamp falls inside w.
func InWindow(records []types.UsageRecord, w types.Window) []types.UsageRecord {
	var out []types.UsageRecord
	for _, r := range records {
		if w.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out
}
