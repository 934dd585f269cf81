package output

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	minorVersionModel = regexp.MustCompile(`^claude-(\w+)-(\d+)-(\d+)-\d+`)
	majorVersionModel = regexp.MustCompile(`^claude-(\w+)-(\d+)-\d+`)
)

// ShortenModelName turns a dated model id into a display name.
// Examples:
// claude-opus-4-1-20250805 -> Opus-4.1
// claude-sonnet-4-20250514 -> Sonnet-4
func ShortenModelName(model string) string {
	if m := minorVersionModel.FindStringSubmatch(model); m != nil {
		return fmt.Sprintf("%s-%s.%s", capitalize(m[1]), m[2], m[3])
	}
	if m := majorVersionModel.FindStringSubmatch(model); m != nil {
		return fmt.Sprintf("%s-%s", capitalize(m[1]), m[2])
	}

	knownModels := map[string]string{
		"gpt-4o":        "gpt-4o",
		"gpt-4o-mini":   "gpt-4o-mini",
		"gpt-4":         "gpt-4",
		"gpt-3.5-turbo": "gpt-3.5",
	}
	if short, ok := knownModels[model]; ok {
		return short
	}

	if len(model) > 12 {
		return model[:12]
	}
	return model
}

func capitalize(s string) string {
	s = strings.ToLower(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FormatNumber formats n with thousand separators.
func FormatNumber(n int) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return strconv.Itoa(n)
	}
	return FormatNumber(n/1000) + "," + fmt.Sprintf("%03d", n%1000)
}

// formatLargeNumber is FormatNumber with "-" for zero, for table cells.
func formatLargeNumber(n int) string {
	if n == 0 {
		return "-"
	}
	return FormatNumber(n)
}

// FormatTokensShort formats tokens with a k/M suffix.
func FormatTokensShort(n int) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return strconv.Itoa(n)
}

// FormatDuration renders d as "1h 5m" or "5m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatMinutes renders a fractional minute count like FormatDuration.
func FormatMinutes(minutes float64) string {
	return FormatDuration(time.Duration(minutes * float64(time.Minute)))
}
