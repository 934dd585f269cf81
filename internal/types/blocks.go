package types

import (
	"time"
)

// TokenCounts represents aggregated token counts for different token types
type TokenCounts struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// GetTotal calculates the total number of tokens from TokenCounts
func (tc TokenCounts) GetTotal() int {
	return tc.InputTokens + tc.OutputTokens + tc.CacheCreationInputTokens + tc.CacheReadInputTokens
}

// NonCache returns input plus output tokens.
func (tc TokenCounts) NonCache() int {
	return tc.InputTokens + tc.OutputTokens
}

// Add returns the elementwise sum of tc and other.
func (tc TokenCounts) Add(other TokenCounts) TokenCounts {
	return TokenCounts{
		InputTokens:              tc.InputTokens + other.InputTokens,
		OutputTokens:             tc.OutputTokens + other.OutputTokens,
		CacheCreationInputTokens: tc.CacheCreationInputTokens + other.CacheCreationInputTokens,
		CacheReadInputTokens:     tc.CacheReadInputTokens + other.CacheReadInputTokens,
	}
}

// Window is a fixed-length billing window. End is exclusive and always
// equals Start plus the configured duration.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow builds a window of length d starting at start.
func NewWindow(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

// Contains reports whether t falls inside [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsActiveAt reports whether the window has not yet ended at now.
func (w Window) IsActiveAt(now time.Time) bool {
	return now.Before(w.End)
}

// Equal compares window bounds as instants.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// WindowSummary describes one window (or gap) in the historical listing.
type WindowSummary struct {
	ID            string      `json:"id"` // ISO string of window start
	StartTime     time.Time   `json:"start_time"`
	EndTime       time.Time   `json:"end_time"`
	ActualEndTime *time.Time  `json:"actual_end_time,omitempty"` // Last activity in window
	IsActive      bool        `json:"is_active"`
	IsGap         bool        `json:"is_gap"`
	RecordCount   int         `json:"record_count"`
	TokenCounts   TokenCounts `json:"token_counts"`
	CostUSD       float64     `json:"cost_usd"`
	Models        []string    `json:"models"`
	Sources       []string    `json:"sources"`
}

// BurnRate represents usage burn rate calculations
type BurnRate struct {
	TokensPerMinute             float64 `json:"tokens_per_minute"`
	TokensPerMinuteForIndicator float64 `json:"tokens_per_minute_for_indicator"` // Non-cache tokens for threshold indicators
	CostPerHour                 float64 `json:"cost_per_hour"`
}

// ProjectedUsage represents projected usage for the remaining time in a window
type ProjectedUsage struct {
	AdditionalTokens int     `json:"additional_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	AdditionalCost   float64 `json:"additional_cost"`
	TotalCost        float64 `json:"total_cost"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

// TokenLimitStatus represents the status of token usage against a limit
type TokenLimitStatus struct {
	Limit          int     `json:"limit"`
	ProjectedUsage int     `json:"projected_usage"`
	PercentUsed    float64 `json:"percent_used"`
	Status         string  `json:"status"` // "ok", "warning", or "exceeds"
}
