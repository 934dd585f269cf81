package types

import (
	"time"
)

// UsageRecord is one accounted unit of activity read from a source log.
// Records are immutable once parsed.
type UsageRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	SourceID  string      `json:"source_id"`
	Path      string      `json:"path,omitempty"`
	Model     string      `json:"model,omitempty"`
	Tokens    TokenCounts `json:"tokens"`
	Cost      *float64    `json:"cost,omitempty"` // nil means resolve via pricing
	DedupKey  string      `json:"dedup_key,omitempty"`
}

// HasCost reports whether the record carried its own cost.
func (r UsageRecord) HasCost() bool {
	return r.Cost != nil
}

// SourceUsage is the per-source rollup within the current window.
// It is always re-summed from records, never patched incrementally.
type SourceUsage struct {
	SourceID          string      `json:"source_id"`
	TokenCounts       TokenCounts `json:"token_counts"`
	CostUSD           float64     `json:"cost_usd"`
	RecordCount       int         `json:"record_count"`
	UnpricedRecords   int         `json:"unpriced_records,omitempty"`
	Models            []string    `json:"models"`
	FirstSeenInWindow time.Time   `json:"first_seen_in_window"`
	LastActivity      time.Time   `json:"last_activity"`
	BurnRate          BurnRate    `json:"burn_rate"`
}

// AggregateSnapshot is the externally visible result of one tick.
type AggregateSnapshot struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	Window           *Window                `json:"window,omitempty"`
	TokenCounts      TokenCounts            `json:"token_counts"`
	CostUSD          float64                `json:"cost_usd"`
	RecordCount      int                    `json:"record_count"`
	Sources          map[string]SourceUsage `json:"sources"`
	ElapsedMinutes   float64                `json:"elapsed_minutes"`
	RemainingMinutes float64                `json:"remaining_minutes"`
	BurnRate         BurnRate               `json:"burn_rate"`
	Projection       *ProjectedUsage        `json:"projection,omitempty"`
	Stats            TickStats              `json:"stats"`
}

// HasActiveWindow reports whether the snapshot describes an active window.
func (s AggregateSnapshot) HasActiveWindow() bool {
	return s.Window != nil
}

// Models returns the union of models across all sources.
func (s AggregateSnapshot) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, src := range s.Sources {
		for _, m := range src.Models {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	return models
}

// TickStats carries observability counters for a single tick.
type TickStats struct {
	Sources            int            `json:"sources"`
	LinesRead          int            `json:"lines_read"`
	RecordsIngested    int            `json:"records_ingested"`
	DuplicatesDropped  int            `json:"duplicates_dropped"`
	ParseFailures      map[string]int `json:"parse_failures,omitempty"`
	ReadErrors         map[string]int `json:"read_errors,omitempty"`
	DiscoveryWarnings  []string       `json:"discovery_warnings,omitempty"`
	TimeInversions     int            `json:"time_inversions,omitempty"`
	Discontinuities    int            `json:"discontinuities,omitempty"`
	FullReload         bool           `json:"full_reload"`
	FullReloadReason   string         `json:"full_reload_reason,omitempty"`
	Duration           time.Duration  `json:"duration_ns"`
}

// AddParseFailure counts a parse failure of the given kind.
func (s *TickStats) AddParseFailure(kind ParseFailureKind) {
	if s.ParseFailures == nil {
		s.ParseFailures = make(map[string]int)
	}
	s.ParseFailures[kind.String()]++
}

// AddReadError counts a read error for a source.
func (s *TickStats) AddReadError(sourceID string) {
	if s.ReadErrors == nil {
		s.ReadErrors = make(map[string]int)
	}
	s.ReadErrors[sourceID]++
}

// TotalParseFailures sums failures of every kind.
func (s TickStats) TotalParseFailures() int {
	total := 0
	for _, n := range s.ParseFailures {
		total += n
	}
	return total
}
