package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/samber/lo"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/catalog"
	"github.com/sdpower/clauditor-go/internal/types"
)

func newTable(buf *bytes.Buffer) *tablewriter.Table {
	return tablewriter.NewTable(buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.On}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignRight},
			},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off), // Disable auto uppercase
	)
}

func titleBox(title string) string {
	inner := len(title) + 4
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(" ╭" + strings.Repeat("─", inner) + "╮\n")
	b.WriteString(" │" + strings.Repeat(" ", inner) + "│\n")
	b.WriteString(" │  " + title + "  │\n")
	b.WriteString(" │" + strings.Repeat(" ", inner) + "│\n")
	b.WriteString(" ╰" + strings.Repeat("─", inner) + "╯\n\n")
	return b.String()
}

func (f *Formatter) style(color string) lipgloss.Style {
	if f.options.NoColor {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func (f *Formatter) formatSnapshotTable(snap types.AggregateSnapshot) string {
	var out strings.Builder
	out.WriteString(titleBox("Claude Usage - Current Window"))

	if !snap.HasActiveWindow() {
		out.WriteString(f.style("226").Render("No active window."))
		out.WriteString("\n")
		out.WriteString(f.statsFooter(snap.Stats))
		return out.String()
	}

	tz := f.options.Timezone
	w := snap.Window
	out.WriteString(fmt.Sprintf("Window:     %s - %s (%s elapsed, %s remaining)\n",
		w.Start.In(tz).Format("2006-01-02 15:04"),
		w.End.In(tz).Format("15:04"),
		FormatMinutes(snap.ElapsedMinutes),
		FormatMinutes(snap.RemainingMinutes)))
	out.WriteString(fmt.Sprintf("Burn rate:  %s tokens/min (%s), $%.2f/hour\n",
		FormatNumber(int(snap.BurnRate.TokensPerMinute)),
		f.burnRateLabel(snap.BurnRate),
		snap.BurnRate.CostPerHour))
	if p := snap.Projection; p != nil {
		out.WriteString(fmt.Sprintf("Projected:  %s tokens, $%.2f at window end\n",
			FormatNumber(p.TotalTokens), p.TotalCost))
		if status := calculator.CheckTokenLimit(*p, f.options.TokenLimit); status != nil {
			out.WriteString(fmt.Sprintf("Limit:      %s of %s (%s)\n",
				fmt.Sprintf("%.1f%%", status.PercentUsed),
				FormatNumber(status.Limit),
				f.limitLabel(status.Status)))
		}
	}
	out.WriteString("\n")

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header([]string{
		"Project\n",
		"Models\n",
		"Input\n",
		"Output\n",
		"Cache\nCreate",
		"Cache\nRead",
		"Total\nTokens",
		"Cost\n(USD)",
	})

	ids := lo.Keys(snap.Sources)
	sort.Strings(ids)
	for _, id := range ids {
		src := snap.Sources[id]
		table.Append([]string{
			catalog.ProjectName(id),
			formatModels(src.Models),
			formatLargeNumber(src.TokenCounts.InputTokens),
			formatLargeNumber(src.TokenCounts.OutputTokens),
			formatLargeNumber(src.TokenCounts.CacheCreationInputTokens),
			formatLargeNumber(src.TokenCounts.CacheReadInputTokens),
			FormatNumber(src.TokenCounts.GetTotal()),
			fmt.Sprintf("$%.2f", src.CostUSD),
		})
	}

	table.Footer([]string{
		"Total",
		"",
		formatLargeNumber(snap.TokenCounts.InputTokens),
		formatLargeNumber(snap.TokenCounts.OutputTokens),
		formatLargeNumber(snap.TokenCounts.CacheCreationInputTokens),
		formatLargeNumber(snap.TokenCounts.CacheReadInputTokens),
		FormatNumber(snap.TokenCounts.GetTotal()),
		fmt.Sprintf("$%.2f", snap.CostUSD),
	})
	table.Render()

	out.WriteString(buf.String())
	out.WriteString(f.statsFooter(snap.Stats))
	return out.String()
}

func (f *Formatter) burnRateLabel(rate types.BurnRate) string {
	level := calculator.BurnRateLevel(rate)
	switch level {
	case "HIGH":
		return f.style("196").Render(level)
	case "MODERATE":
		return f.style("226").Render(level)
	default:
		return f.style("46").Render(level)
	}
}

func (f *Formatter) limitLabel(status string) string {
	switch status {
	case "exceeds":
		return f.style("196").Render("EXCEEDS LIMIT")
	case "warning":
		return f.style("226").Render("APPROACHING LIMIT")
	default:
		return f.style("46").Render("WITHIN LIMIT")
	}
}

func (f *Formatter) statsFooter(stats types.TickStats) string {
	var lines []string
	if n := stats.TotalParseFailures(); n > 0 {
		kinds := lo.Keys(stats.ParseFailures)
		sort.Strings(kinds)
		parts := lo.Map(kinds, func(k string, _ int) string {
			return fmt.Sprintf("%s=%d", k, stats.ParseFailures[k])
		})
		lines = append(lines, fmt.Sprintf("Skipped lines: %d (%s)", n, strings.Join(parts, ", ")))
	}
	if len(stats.ReadErrors) > 0 {
		srcs := lo.Keys(stats.ReadErrors)
		sort.Strings(srcs)
		lines = append(lines, fmt.Sprintf("Unreadable sources this tick: %s", strings.Join(srcs, ", ")))
	}
	if stats.TimeInversions > 0 {
		lines = append(lines, fmt.Sprintf("Records dated in the future: %d", stats.TimeInversions))
	}
	for _, w := range stats.DiscoveryWarnings {
		lines = append(lines, "Warning: "+w)
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n" + f.style("240").Render(strings.Join(lines, "\n")) + "\n"
}

func (f *Formatter) formatWindowsTable(windows []types.WindowSummary, now time.Time) string {
	var out strings.Builder
	out.WriteString(titleBox("Claude Usage - Windows"))

	if len(windows) == 0 {
		out.WriteString("No windows found for the specified period.\n")
		return out.String()
	}

	tokenLimit := f.options.TokenLimit
	headers := []string{"Window Start", "Duration/Status", "Models", "Tokens"}
	if tokenLimit > 0 {
		headers = append(headers, "%")
	}
	headers = append(headers, "Cost")

	var buf bytes.Buffer
	table := newTable(&buf)
	table.Header(headers)

	gray := f.style("240")
	for _, win := range windows {
		if win.IsGap {
			row := []string{gray.Render(f.formatWindowTime(win, now)), gray.Render("(inactive)"), "-", "-"}
			if tokenLimit > 0 {
				row = append(row, "-")
			}
			table.Append(append(row, "-"))
			continue
		}

		total := win.TokenCounts.GetTotal()
		status := ""
		if win.IsActive {
			status = f.style("46").Render("ACTIVE")
		}
		row := []string{
			f.formatWindowTime(win, now),
			status,
			formatModels(win.Models),
			FormatNumber(total),
		}
		if tokenLimit > 0 {
			pct := fmt.Sprintf("%.1f%%", float64(total)/float64(tokenLimit)*100)
			if total > tokenLimit {
				pct = f.style("196").Render(pct)
			}
			row = append(row, pct)
		}
		table.Append(append(row, fmt.Sprintf("$%.2f", win.CostUSD)))

		if win.IsActive {
			f.appendActiveRows(table, win, now)
		}
	}
	table.Render()

	out.WriteString(buf.String())
	if largest := calculator.MaxTokensFromWindows(windows); largest > 0 {
		out.WriteString(fmt.Sprintf("\nLargest completed window: %s tokens\n", FormatNumber(largest)))
	}
	return out.String()
}

func (f *Formatter) appendActiveRows(table *tablewriter.Table, win types.WindowSummary, now time.Time) {
	tokenLimit := f.options.TokenLimit
	total := win.TokenCounts.GetTotal()
	gray := f.style("240")

	if tokenLimit > 0 {
		remaining := max(tokenLimit-total, 0)
		table.Append([]string{
			gray.Render(fmt.Sprintf("(assuming %s token limit)", FormatNumber(tokenLimit))),
			f.style("33").Render("REMAINING"),
			"",
			FormatNumber(remaining),
			fmt.Sprintf("%.1f%%", float64(remaining)/float64(tokenLimit)*100),
			"",
		})
	}

	w := types.Window{Start: win.StartTime, End: win.EndTime}
	elapsed := calculator.ElapsedMinutes(w, now)
	rate := calculator.CalculateBurnRate(win.TokenCounts, win.CostUSD, elapsed)
	projection := calculator.ProjectUsage(win.TokenCounts, win.CostUSD, rate, calculator.RemainingMinutes(w, now))

	row := []string{
		gray.Render("(assuming current burn rate)"),
		f.style("226").Render("PROJECTED"),
		"",
		FormatNumber(projection.TotalTokens),
	}
	if tokenLimit > 0 {
		row = append(row, fmt.Sprintf("%.1f%%", float64(projection.TotalTokens)/float64(tokenLimit)*100))
	}
	table.Append(append(row, fmt.Sprintf("$%.2f", projection.TotalCost)))
}

func (f *Formatter) formatWindowTime(win types.WindowSummary, now time.Time) string {
	tz := f.options.Timezone
	start := win.StartTime.In(tz)

	if win.IsGap {
		end := win.EndTime.In(tz)
		return fmt.Sprintf("%s - %s (%dh gap)",
			start.Format("2006-01-02, 3:04 PM"),
			end.Format("2006-01-02, 3:04 PM"),
			int(end.Sub(start).Hours()))
	}

	if win.IsActive {
		return fmt.Sprintf("%s (%s elapsed, %s remaining)",
			start.Format("2006-01-02, 3:04 PM"),
			FormatDuration(now.Sub(win.StartTime)),
			FormatDuration(win.EndTime.Sub(now)))
	}

	duration := time.Duration(0)
	if win.ActualEndTime != nil {
		duration = win.ActualEndTime.Sub(win.StartTime)
	}
	return fmt.Sprintf("%s (%s)", start.Format("2006-01-02, 3:04 PM"), FormatDuration(duration))
}

func formatModels(models []string) string {
	if len(models) == 0 {
		return "-"
	}
	short := lo.Uniq(lo.Map(models, func(m string, _ int) string { return ShortenModelName(m) }))
	sort.Strings(short)
	return "- " + strings.Join(short, "\n- ")
}
