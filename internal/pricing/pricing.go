package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/types"
)

// LiteLLMURL is the published LiteLLM model price list.
const LiteLLMURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

type Options struct {
	// FetchRemote enables refreshing prices from URL.
	FetchRemote bool
	URL         string
	CacheTTL    time.Duration
	Client      *http.Client
	Logger      logrus.FieldLogger
}

// Service resolves model costs from the embedded table, optionally
// overlaid with remotely fetched prices.
type Service struct {
	opts      Options
	embedded  Table
	cache     Table
	cacheMux  sync.RWMutex
	cacheTime time.Time
	lastError time.Time
}

type liteLLMEntry struct {
	InputCostPerToken  *float64 `json:"input_cost_per_token"`
	OutputCostPerToken *float64 `json:"output_cost_per_token"`
	CacheCreationCost  *float64 `json:"cache_creation_input_token_cost"`
	CacheReadCost      *float64 `json:"cache_read_input_token_cost"`
}

func NewService(opts Options) (*Service, error) {
	embedded, err := LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("load embedded pricing: %w", err)
	}
	if opts.URL == "" {
		opts.URL = LiteLLMURL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		opts:     opts,
		embedded: embedded,
		cache:    make(Table),
	}, nil
}

// Cost returns the USD cost of tokens for model. Unknown models yield
// types.ErrUnknownModel.
func (s *Service) Cost(ctx context.Context, model string, tokens types.TokenCounts) (float64, error) {
	p, err := s.GetModelPricing(ctx, model)
	if err != nil {
		return 0, err
	}
	return p.Cost(tokens), nil
}

func (s *Service) GetModelPricing(ctx context.Context, model string) (ModelPricing, error) {
	if s.opts.FetchRemote {
		s.maybeRefresh(ctx)

		s.cacheMux.RLock()
		p, ok := s.cache.Lookup(model)
		s.cacheMux.RUnlock()
		if ok {
			return p, nil
		}
	}

	if p, ok := s.embedded.Lookup(model); ok {
		return p, nil
	}
	return ModelPricing{}, fmt.Errorf("%w: %s", types.ErrUnknownModel, model)
}

func (s *Service) maybeRefresh(ctx context.Context) {
	s.cacheMux.RLock()
	fresh := time.Since(s.cacheTime) < s.opts.CacheTTL
	backoff := time.Since(s.lastError) < s.opts.CacheTTL/4
	s.cacheMux.RUnlock()
	if fresh || backoff {
		return
	}

	if err := s.refreshCache(ctx); err != nil {
		s.cacheMux.Lock()
		s.lastError = time.Now()
		s.cacheMux.Unlock()
		// Fall back to embedded pricing if the fetch fails
		s.opts.Logger.WithError(err).Warn("Failed to refresh remote pricing, using embedded prices")
	}
}

func (s *Service) refreshCache(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return err
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricing source returned status %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return err
	}

	table := filterClaudeModels(raw)

	s.cacheMux.Lock()
	s.cache = table
	s.cacheTime = time.Now()
	s.cacheMux.Unlock()

	s.opts.Logger.WithField("models", len(table)).Debug("Refreshed remote pricing")
	return nil
}

// filterClaudeModels keeps bare claude- entries and converts per-token
// prices to per-1M-token prices.
func filterClaudeModels(raw map[string]json.RawMessage) Table {
	table := make(Table)
	for key, msg := range raw {
		if !strings.HasPrefix(key, "claude-") {
			continue
		}
		var entry liteLLMEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			continue
		}
		if entry.InputCostPerToken == nil || entry.OutputCostPerToken == nil {
			continue
		}

		p := ModelPricing{
			Input:  *entry.InputCostPerToken * 1_000_000,
			Output: *entry.OutputCostPerToken * 1_000_000,
		}
		if entry.CacheCreationCost != nil {
			p.CacheCreation = *entry.CacheCreationCost * 1_000_000
		}
		if entry.CacheReadCost != nil {
			p.CacheRead = *entry.CacheReadCost * 1_000_000
		}
		table[key] = p
	}
	return table
}
