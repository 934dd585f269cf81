package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/catalog"
	"github.com/sdpower/clauditor-go/internal/types"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", s)
	}
}

type Formatter struct {
	options FormatterOptions
}

type FormatterOptions struct {
	Format     Format
	NoColor    bool
	Timezone   *time.Location
	TokenLimit int
}

func NewFormatter(opts FormatterOptions) *Formatter {
	if opts.Format == "" {
		opts.Format = FormatTable
	}
	if opts.Timezone == nil {
		opts.Timezone = time.Local
	}
	return &Formatter{options: opts}
}

// FormatSnapshot renders one tick's result.
func (f *Formatter) FormatSnapshot(snap types.AggregateSnapshot) (string, error) {
	if f.options.Format == FormatJSON {
		return f.FormatJSON(newSnapshotReport(snap, f.options.TokenLimit))
	}
	return f.formatSnapshotTable(snap), nil
}

// FormatWindows renders the historical window listing.
func (f *Formatter) FormatWindows(windows []types.WindowSummary, now time.Time) (string, error) {
	if f.options.Format == FormatJSON {
		return f.FormatJSON(map[string]any{"windows": windows})
	}
	return f.formatWindowsTable(windows, now), nil
}

func (f *Formatter) FormatJSON(data interface{}) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}

// FormatLine renders a snapshot as a single line for non-interactive
// streaming. JSON output is compact so that each snapshot is one line.
func (f *Formatter) FormatLine(snap types.AggregateSnapshot) (string, error) {
	if f.options.Format == FormatJSON {
		data, err := json.Marshal(newSnapshotReport(snap, f.options.TokenLimit))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	stamp := snap.GeneratedAt.In(f.options.Timezone).Format("15:04:05")
	if !snap.HasActiveWindow() {
		return fmt.Sprintf("%s no active window (sources=%d%s)", stamp, snap.Stats.Sources, f.problemSummary(snap.Stats)), nil
	}

	w := snap.Window
	line := fmt.Sprintf("%s window %s-%s tokens=%s cost=$%.2f burn=%s tok/min [%s] remaining=%s sources=%d",
		stamp,
		w.Start.In(f.options.Timezone).Format("15:04"),
		w.End.In(f.options.Timezone).Format("15:04"),
		FormatNumber(snap.TokenCounts.GetTotal()),
		snap.CostUSD,
		FormatNumber(int(snap.BurnRate.TokensPerMinute)),
		calculator.BurnRateLevel(snap.BurnRate),
		FormatMinutes(snap.RemainingMinutes),
		len(snap.Sources),
	)
	if status := f.limitStatus(snap); status != nil {
		line += fmt.Sprintf(" limit=%.1f%% (%s)", status.PercentUsed, status.Status)
	}
	return line + f.problemSummary(snap.Stats), nil
}

func (f *Formatter) limitStatus(snap types.AggregateSnapshot) *types.TokenLimitStatus {
	if snap.Projection == nil {
		return nil
	}
	return calculator.CheckTokenLimit(*snap.Projection, f.options.TokenLimit)
}

func (f *Formatter) problemSummary(stats types.TickStats) string {
	var parts []string
	if n := stats.TotalParseFailures(); n > 0 {
		parts = append(parts, fmt.Sprintf("skipped=%d", n))
	}
	if n := lo.Sum(lo.Values(stats.ReadErrors)); n > 0 {
		parts = append(parts, fmt.Sprintf("read_errors=%d", n))
	}
	if stats.TimeInversions > 0 {
		parts = append(parts, fmt.Sprintf("future=%d", stats.TimeInversions))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, " ")
}

// snapshotReport is the machine-readable form of a snapshot.
type snapshotReport struct {
	types.AggregateSnapshot
	Active     bool                    `json:"active"`
	Projects   map[string]string       `json:"projects,omitempty"`
	LimitCheck *types.TokenLimitStatus `json:"token_limit,omitempty"`
}

func newSnapshotReport(snap types.AggregateSnapshot, tokenLimit int) snapshotReport {
	report := snapshotReport{AggregateSnapshot: snap, Active: snap.HasActiveWindow()}
	if len(snap.Sources) > 0 {
		report.Projects = lo.MapValues(snap.Sources, func(_ types.SourceUsage, id string) string {
			return catalog.ProjectName(id)
		})
	}
	if snap.Projection != nil {
		report.LimitCheck = calculator.CheckTokenLimit(*snap.Projection, tokenLimit)
	}
	return report
}
