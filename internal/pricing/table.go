package pricing

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/sdpower/clauditor-go/internal/types"
)

//go:embed pricing.json
var embeddedPricingJSON []byte

// ModelPricing holds per-1M-token prices in USD.
type ModelPricing struct {
	Input         float64 `json:"input"`
	Output        float64 `json:"output"`
	CacheCreation float64 `json:"cache_creation"`
	CacheRead     float64 `json:"cache_read"`
}

// Cost prices tokens at p.
func (p ModelPricing) Cost(tokens types.TokenCounts) float64 {
	cost := float64(tokens.InputTokens) * p.Input
	cost += float64(tokens.OutputTokens) * p.Output
	cost += float64(tokens.CacheCreationInputTokens) * p.CacheCreation
	cost += float64(tokens.CacheReadInputTokens) * p.CacheRead
	return cost / 1_000_000
}

type Table map[string]ModelPricing

// LoadEmbedded returns the pricing table compiled into the binary.
func LoadEmbedded() (Table, error) {
	var table Table
	if err := json.Unmarshal(embeddedPricingJSON, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// Merge adds entries from other into t. Existing keys are overwritten.
func (t Table) Merge(other Table) {
	for k, v := range other {
		t[k] = v
	}
}

// Lookup finds pricing for a model by exact match, then by the longest key
// the model id starts with. Provider prefixes are ignored.
func (t Table) Lookup(model string) (ModelPricing, bool) {
	model = normalizeModel(model)
	if p, ok := t[model]; ok {
		return p, true
	}

	var bestKey string
	var best ModelPricing
	for key, p := range t {
		if strings.HasPrefix(model, key) && len(key) > len(bestKey) {
			bestKey = key
			best = p
		}
	}
	return best, bestKey != ""
}

func normalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"anthropic/", "anthropic.", "us.anthropic.", "eu.anthropic."} {
		model = strings.TrimPrefix(model, prefix)
	}
	return model
}
