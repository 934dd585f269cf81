package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdpower/clauditor-go/internal/types"
)

func TestShortenModelName(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
		desc     string
	}{
		// minor versions
		{"claude-opus-4-1-20250805", "Opus-4.1", "opus 4.1"},
		{"claude-sonnet-4-5-20250929", "Sonnet-4.5", "sonnet 4.5"},
		{"claude-haiku-4-5-20251001", "Haiku-4.5", "haiku 4.5"},

		// major versions
		{"claude-opus-4-20250514", "Opus-4", "opus 4"},
		{"claude-sonnet-4-20250514", "Sonnet-4", "sonnet 4"},
		{"claude-haiku-3-20240307", "Haiku-3", "haiku 3"},

		// non-Claude models
		{"gpt-4o", "gpt-4o", "gpt-4o"},
		{"gpt-4o-mini", "gpt-4o-mini", "gpt-4o-mini"},
		{"gpt-3.5-turbo", "gpt-3.5", "gpt-3.5"},

		// unknown formats are truncated
		{"some-unknown-model", "some-unknown", "unknown truncated"},
		{"very-long-model-name-that-exceeds-limit", "very-long-mo", "long name truncated to 12"},
		{"short", "short", "short name kept"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, ShortenModelName(tc.input))
		})
	}
}

func TestNumberFormatting(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,000", FormatNumber(1000))
	assert.Equal(t, "12,345,678", FormatNumber(12345678))
	assert.Equal(t, "-1,500", FormatNumber(-1500))
	assert.Equal(t, "-", formatLargeNumber(0))

	assert.Equal(t, "950", FormatTokensShort(950))
	assert.Equal(t, "1.5k", FormatTokensShort(1500))
	assert.Equal(t, "2.5M", FormatTokensShort(2500000))

	assert.Equal(t, "45m", FormatDuration(45*time.Minute))
	assert.Equal(t, "2h 5m", FormatDuration(125*time.Minute))
	assert.Equal(t, "0m", FormatDuration(-time.Minute))
	assert.Equal(t, "1h 30m", FormatMinutes(90))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func activeSnapshot() types.AggregateSnapshot {
	start := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	w := types.NewWindow(start, 5*time.Hour)
	tokens := types.TokenCounts{InputTokens: 1000, OutputTokens: 500, CacheReadInputTokens: 200}
	return types.AggregateSnapshot{
		GeneratedAt: start.Add(90 * time.Minute),
		Window:      &w,
		TokenCounts: tokens,
		CostUSD:     1.25,
		RecordCount: 3,
		Sources: map[string]types.SourceUsage{
			"/home/user/app": {
				SourceID:    "/home/user/app",
				TokenCounts: tokens,
				CostUSD:     1.25,
				RecordCount: 3,
				Models:      []string{"claude-sonnet-4-20250514"},
			},
		},
		ElapsedMinutes:   90,
		RemainingMinutes: 210,
		BurnRate:         types.BurnRate{TokensPerMinute: 18.9, TokensPerMinuteForIndicator: 16.7, CostPerHour: 0.83},
		Projection:       &types.ProjectedUsage{TotalTokens: 5669, TotalCost: 4.16, RemainingMinutes: 210},
		Stats: types.TickStats{
			Sources:       1,
			ParseFailures: map[string]int{"malformed_json": 2},
		},
	}
}

func TestFormatSnapshotTable(t *testing.T) {
	f := NewFormatter(FormatterOptions{NoColor: true, Timezone: time.UTC, TokenLimit: 10000})

	out, err := f.FormatSnapshot(activeSnapshot())
	require.NoError(t, err)

	assert.Contains(t, out, "2025-06-01 14:00 - 19:00")
	assert.Contains(t, out, "1h 30m elapsed")
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "Sonnet-4")
	assert.Contains(t, out, "1,700")
	assert.Contains(t, out, "$1.25")
	assert.Contains(t, out, "NORMAL")
	assert.Contains(t, out, "56.7% of 10,000")
	assert.Contains(t, out, "Skipped lines: 2 (malformed_json=2)")
}

func TestFormatSnapshotNoWindow(t *testing.T) {
	f := NewFormatter(FormatterOptions{NoColor: true, Timezone: time.UTC})

	out, err := f.FormatSnapshot(types.AggregateSnapshot{
		Stats: types.TickStats{DiscoveryWarnings: []string{"source root /missing: not found"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "No active window.")
	assert.Contains(t, out, "Warning: source root /missing")
}

func TestFormatSnapshotJSON(t *testing.T) {
	f := NewFormatter(FormatterOptions{Format: FormatJSON, TokenLimit: 5000})

	out, err := f.FormatSnapshot(activeSnapshot())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["active"])
	assert.Equal(t, 1.25, decoded["cost_usd"])
	assert.Equal(t, "app", decoded["projects"].(map[string]any)["/home/user/app"])
	assert.Equal(t, "exceeds", decoded["token_limit"].(map[string]any)["status"])
}

func TestFormatLine(t *testing.T) {
	f := NewFormatter(FormatterOptions{NoColor: true, Timezone: time.UTC})

	line, err := f.FormatLine(activeSnapshot())
	require.NoError(t, err)
	assert.False(t, strings.Contains(line, "\n"))
	assert.True(t, strings.HasPrefix(line, "15:30:00 window 14:00-19:00 tokens=1,700 cost=$1.25"))
	assert.Contains(t, line, "remaining=3h 30m")
	assert.Contains(t, line, "skipped=2")

	idle, err := f.FormatLine(types.AggregateSnapshot{GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "09:00:00 no active window (sources=0)", idle)

	jf := NewFormatter(FormatterOptions{Format: FormatJSON})
	jline, err := jf.FormatLine(activeSnapshot())
	require.NoError(t, err)
	assert.False(t, strings.Contains(jline, "\n"))
	assert.True(t, json.Valid([]byte(jline)))
}

func TestFormatWindowsTable(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	lastActivity := base.Add(2 * time.Hour)
	now := base.Add(15 * time.Hour)
	windows := []types.WindowSummary{
		{
			StartTime:     base,
			EndTime:       base.Add(5 * time.Hour),
			ActualEndTime: &lastActivity,
			TokenCounts:   types.TokenCounts{InputTokens: 3000},
			CostUSD:       0.5,
			Models:        []string{"claude-opus-4-1-20250805"},
		},
		{
			StartTime: base.Add(5 * time.Hour),
			EndTime:   base.Add(13 * time.Hour),
			IsGap:     true,
		},
		{
			StartTime:   base.Add(13 * time.Hour),
			EndTime:     base.Add(18 * time.Hour),
			IsActive:    true,
			TokenCounts: types.TokenCounts{InputTokens: 1200},
			CostUSD:     0.2,
		},
	}

	f := NewFormatter(FormatterOptions{NoColor: true, Timezone: time.UTC, TokenLimit: 4000})
	out, err := f.FormatWindows(windows, now)
	require.NoError(t, err)

	assert.Contains(t, out, "2025-06-01, 8:00 AM (2h 0m)")
	assert.Contains(t, out, "(8h gap)")
	assert.Contains(t, out, "(inactive)")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "2h 0m elapsed, 3h 0m remaining")
	assert.Contains(t, out, "REMAINING")
	assert.Contains(t, out, "2,800")
	assert.Contains(t, out, "PROJECTED")
	assert.Contains(t, out, "3,000")
	assert.Contains(t, out, "Opus-4.1")
	assert.Contains(t, out, "Largest completed window: 3,000 tokens")
}

func TestFormatWindowsEmpty(t *testing.T) {
	f := NewFormatter(FormatterOptions{NoColor: true})
	out, err := f.FormatWindows(nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, out, "No windows found")
}
