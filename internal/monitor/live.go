package monitor

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/samber/lo"

	"github.com/sdpower/clauditor-go/internal/calculator"
	"github.com/sdpower/clauditor-go/internal/catalog"
	"github.com/sdpower/clauditor-go/internal/output"
	"github.com/sdpower/clauditor-go/internal/types"
)

// LiveConfig contains configuration for the live view
type LiveConfig struct {
	TokenLimit      int
	RefreshInterval time.Duration
	NoColor         bool
	Timezone        *time.Location
	Clock           func() time.Time
}

// SnapshotMsg delivers a tick result to the live view.
type SnapshotMsg struct {
	Snapshot types.AggregateSnapshot
	Err      error
}

// LiveModel renders the most recent snapshot. It never reads sources;
// snapshots arrive as messages from the scheduler.
type LiveModel struct {
	config   LiveConfig
	snap     *types.AggregateSnapshot
	err      error
	width    int
	quitting bool
	refresh  func()
}

func NewLiveModel(config LiveConfig, refresh func()) LiveModel {
	if config.Timezone == nil {
		config.Timezone = time.Local
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if refresh == nil {
		refresh = func() {}
	}
	return LiveModel{config: config, refresh: refresh}
}

func (m LiveModel) Init() tea.Cmd {
	return tea.WindowSize()
}

func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case SnapshotMsg:
		if msg.Err != nil {
			m.err = msg.Err
			return m, nil
		}
		snap := msg.Snapshot
		m.snap = &snap
		m.err = nil
	}

	return m, nil
}

func (m LiveModel) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nRetrying. Press 'q' to quit.", m.err)
	}

	if m.snap == nil {
		return m.style("240").Render("Reading usage logs...") + "\n"
	}

	if !m.snap.HasActiveWindow() {
		waiting := m.style("226").Bold(!m.config.NoColor).Render("No active window. Waiting for activity...")
		return waiting + "\n\n" + m.footer()
	}

	return m.renderActiveWindow()
}

func (m LiveModel) style(color string) lipgloss.Style {
	if m.config.NoColor {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func (m LiveModel) renderActiveWindow() string {
	snap := m.snap
	tz := m.config.Timezone
	w := snap.Window

	var buf bytes.Buffer
	table := tablewriter.NewTable(&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{
				Separators: tw.Separators{
					BetweenRows: tw.On,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignCenter},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			Footer: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignCenter},
			},
		}),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)

	titleStyle := lipgloss.NewStyle().Bold(!m.config.NoColor)
	table.Header([]string{titleStyle.Render("CLAUDE USAGE - LIVE WINDOW MONITOR")})

	// WINDOW
	total := snap.ElapsedMinutes + snap.RemainingMinutes
	windowPercent := 0.0
	if total > 0 {
		windowPercent = snap.ElapsedMinutes / total * 100
	}
	table.Append([]string{m.renderSection(
		"WINDOW",
		windowPercent,
		fmt.Sprintf("Started: %s  Elapsed: %s  Remaining: %s (%s)",
			w.Start.In(tz).Format("03:04 PM"),
			output.FormatMinutes(snap.ElapsedMinutes),
			output.FormatMinutes(snap.RemainingMinutes),
			w.End.In(tz).Format("03:04 PM")),
		lipgloss.Color("51"),
		fmt.Sprintf("%.1f%%", windowPercent),
	)})

	// USAGE
	tokens := snap.TokenCounts.GetTotal()
	usagePercent := 0.0
	if m.config.TokenLimit > 0 {
		usagePercent = float64(tokens) / float64(m.config.TokenLimit) * 100
	}
	usageInfo := fmt.Sprintf("Tokens: %s (Burn Rate: %s token/min %s)  Cost: $%.2f",
		output.FormatNumber(tokens),
		output.FormatNumber(int(snap.BurnRate.TokensPerMinute)),
		m.burnRateIndicator(snap.BurnRate),
		snap.CostUSD)
	usageRight := output.FormatTokensShort(tokens)
	if m.config.TokenLimit > 0 {
		usageInfo += "  Limit: " + output.FormatNumber(m.config.TokenLimit)
		usageRight = fmt.Sprintf("%.1f%% (%s/%s)", usagePercent,
			output.FormatTokensShort(tokens), output.FormatTokensShort(m.config.TokenLimit))
	}
	table.Append([]string{m.renderSection("USAGE", usagePercent, usageInfo, percentColor(usagePercent), usageRight)})

	// PROJECTION
	if p := snap.Projection; p != nil {
		info := fmt.Sprintf("Tokens: %s  Cost: $%.2f", output.FormatNumber(p.TotalTokens), p.TotalCost)
		percent := 0.0
		right := output.FormatTokensShort(p.TotalTokens)
		if status := calculator.CheckTokenLimit(*p, m.config.TokenLimit); status != nil {
			percent = status.PercentUsed
			info = "Status: " + limitText(status.Status) + "  " + info
			right = fmt.Sprintf("%.1f%% (%s/%s)", percent,
				output.FormatTokensShort(p.TotalTokens), output.FormatTokensShort(status.Limit))
		}
		table.Append([]string{m.renderSection("PROJECTION", percent, info, percentColor(percent), right)})
	}

	// SOURCES
	table.Append([]string{m.renderSources()})

	modelsText := "Models: none"
	if models := snap.Models(); len(models) > 0 {
		short := lo.Uniq(lo.Map(models, func(model string, _ int) string { return output.ShortenModelName(model) }))
		sort.Strings(short)
		modelsText = "Models: " + strings.Join(short, ", ")
	}
	table.Append([]string{modelsText})

	table.Footer([]string{m.footer()})
	table.Render()

	if m.width > 120 {
		return centerLines(buf.String(), (m.width-120)/2)
	}
	return buf.String()
}

func (m LiveModel) renderSources() string {
	ids := lo.Keys(m.snap.Sources)
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.snap.Sources[ids[i]], m.snap.Sources[ids[j]]
		if a.TokenCounts.GetTotal() != b.TokenCounts.GetTotal() {
			return a.TokenCounts.GetTotal() > b.TokenCounts.GetTotal()
		}
		return ids[i] < ids[j]
	})

	lines := []string{fmt.Sprintf("Sources: %d", len(ids))}
	for _, id := range ids {
		src := m.snap.Sources[id]
		lines = append(lines, fmt.Sprintf("  %-24s %12s tokens  $%7.2f  %s tok/min",
			truncate(catalog.ProjectName(id), 24),
			output.FormatNumber(src.TokenCounts.GetTotal()),
			src.CostUSD,
			output.FormatNumber(int(src.BurnRate.TokensPerMinute))))
	}
	return strings.Join(lines, "\n")
}

func (m LiveModel) footer() string {
	text := fmt.Sprintf("Refreshing every %ds  •  Press 'r' to refresh, 'q' to quit",
		int(m.config.RefreshInterval.Seconds()))
	if m.snap != nil {
		stats := m.snap.Stats
		text = fmt.Sprintf("Updated %s  •  %s",
			m.snap.GeneratedAt.In(m.config.Timezone).Format("15:04:05"), text)
		if n := stats.TotalParseFailures(); n > 0 || len(stats.ReadErrors) > 0 {
			text += fmt.Sprintf("\nSkipped lines: %d  Unreadable sources: %d", n, len(stats.ReadErrors))
		}
	}
	return m.style("240").Render(text)
}

// renderSection renders a titled progress bar followed by an info line.
func (m LiveModel) renderSection(title string, percent float64, info string, barColor lipgloss.TerminalColor, rightText string) string {
	progressBarWidth := 40
	if m.width > 0 {
		availableWidth := m.width - 2
		if availableWidth >= 120 {
			progressBarWidth = 50
		} else if availableWidth >= 100 {
			progressBarWidth = 45
		}
	}

	bar := m.renderProgressBar(percent, progressBarWidth, barColor)
	topLine := fmt.Sprintf("%-11s %s  %s", title, bar, rightText)
	return fmt.Sprintf("\n%s\n%s\n", topLine, info)
}

func (m LiveModel) renderProgressBar(percent float64, width int, color lipgloss.TerminalColor) string {
	percent = max(0, min(percent, 100))
	filled := min(int(percent*float64(width)/100), width)

	if m.config.NoColor {
		return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
	}

	filledStyle := lipgloss.NewStyle().Foreground(color)
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	return "[" + filledStyle.Render(strings.Repeat("█", filled)) +
		emptyStyle.Render(strings.Repeat("░", width-filled)) + "]"
}

func (m LiveModel) burnRateIndicator(rate types.BurnRate) string {
	level := calculator.BurnRateLevel(rate)
	label := "✓ " + level
	if level != "NORMAL" {
		label = "⚡ " + level
	}
	if m.config.NoColor {
		return label
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(BurnRateColor(rate.TokensPerMinuteForIndicator).Hex())).
		Bold(level == "HIGH").
		Render(label)
}

var (
	burnCalm, _ = colorful.Hex("#00d75f")
	burnWarm, _ = colorful.Hex("#ffd700")
	burnHot, _  = colorful.Hex("#ff005f")
)

// BurnRateColor blends from green through yellow to red as the rate moves
// from zero to twice the high threshold.
func BurnRateColor(tokensPerMinute float64) colorful.Color {
	t := max(0, min(tokensPerMinute/(2*calculator.BurnRateHigh), 1))
	if t < 0.5 {
		return burnCalm.BlendLuv(burnWarm, t*2).Clamped()
	}
	return burnWarm.BlendLuv(burnHot, (t-0.5)*2).Clamped()
}

func percentColor(percent float64) lipgloss.Color {
	switch {
	case percent > 95:
		return lipgloss.Color("196")
	case percent > 80:
		return lipgloss.Color("226")
	default:
		return lipgloss.Color("46")
	}
}

func limitText(status string) string {
	switch status {
	case "exceeds":
		return "🚨 EXCEEDS LIMIT"
	case "warning":
		return "⚠️  APPROACHING LIMIT"
	default:
		return "✅ WITHIN LIMIT"
	}
}

func centerLines(s string, padding int) string {
	pad := strings.Repeat(" ", padding)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
