package calculator

import (
	"math"
	"time"

	"github.com/sdpower/clauditor-go/internal/types"
)

// ElapsedMinutes returns the minutes since the window started, clamped to
// the window length and never below zero.
func ElapsedMinutes(w types.Window, now time.Time) float64 {
	elapsed := now.Sub(w.Start)
	if elapsed < 0 {
		return 0
	}
	if d := w.Duration(); elapsed > d {
		elapsed = d
	}
	return elapsed.Minutes()
}

// RemainingMinutes returns the minutes until the window ends, never below
// zero.
func RemainingMinutes(w types.Window, now time.Time) float64 {
	remaining := w.End.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining.Minutes()
}

// CalculateBurnRate divides window usage by the elapsed minutes. Less than
// a minute counts as one.
func CalculateBurnRate(tokens types.TokenCounts, cost float64, elapsedMinutes float64) types.BurnRate {
	minutes := math.Max(1, elapsedMinutes)
	return types.BurnRate{
		TokensPerMinute:             float64(tokens.GetTotal()) / minutes,
		TokensPerMinuteForIndicator: float64(tokens.NonCache()) / minutes,
		CostPerHour:                 cost / minutes * 60,
	}
}

// ProjectUsage projects end-of-window usage from the current burn rate.
func ProjectUsage(tokens types.TokenCounts, cost float64, rate types.BurnRate, remainingMinutes float64) types.ProjectedUsage {
	if remainingMinutes < 0 {
		remainingMinutes = 0
	}
	additionalTokens := int(math.Round(rate.TokensPerMinute * remainingMinutes))
	additionalCost := rate.CostPerHour / 60 * remainingMinutes

	return types.ProjectedUsage{
		AdditionalTokens: additionalTokens,
		TotalTokens:      tokens.GetTotal() + additionalTokens,
		AdditionalCost:   additionalCost,
		TotalCost:        cost + additionalCost,
		RemainingMinutes: remainingMinutes,
	}
}

// CheckTokenLimit compares projected usage against limit. A non-positive
// limit yields nil.
func CheckTokenLimit(projected types.ProjectedUsage, limit int) *types.TokenLimitStatus {
	if limit <= 0 {
		return nil
	}

	percentUsed := float64(projected.TotalTokens) / float64(limit) * 100
	status := "ok"
	switch {
	case projected.TotalTokens > limit:
		status = "exceeds"
	case float64(projected.TotalTokens) > float64(limit)*WarningThreshold:
		status = "warning"
	}

	return &types.TokenLimitStatus{
		Limit:          limit,
		ProjectedUsage: projected.TotalTokens,
		PercentUsed:    percentUsed,
		Status:         status,
	}
}

const (
	BurnRateHigh     = 1000 // tokens per minute
	BurnRateModerate = 500  // tokens per minute
)

// BurnRateLevel buckets a non-cache tokens-per-minute rate for indicators.
func BurnRateLevel(rate types.BurnRate) string {
	switch {
	case rate.TokensPerMinuteForIndicator > BurnRateHigh:
		return "HIGH"
	case rate.TokensPerMinuteForIndicator > BurnRateModerate:
		return "MODERATE"
	default:
		return "NORMAL"
	}
}
