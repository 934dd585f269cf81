package calculator

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/sdpower/clauditor-go/internal/types"
)

// PricingService converts token counts to a dollar cost for a model.
type PricingService interface {
	Cost(ctx context.Context, model string, tokens types.TokenCounts) (float64, error)
}

type Calculator struct {
	pricingService PricingService
	logger         logrus.FieldLogger
	warned         map[string]bool
}

func New(pricingService PricingService, logger logrus.FieldLogger) *Calculator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Calculator{
		pricingService: pricingService,
		logger:         logger,
		warned:         make(map[string]bool),
	}
}

// RecordCost returns the record's own cost when present, otherwise the
// priced cost. ok is false when the record cannot be priced; its cost then
// counts as zero and it is reported as unpriced.
func (c *Calculator) RecordCost(ctx context.Context, rec types.UsageRecord) (cost float64, ok bool) {
	if rec.Cost != nil {
		return *rec.Cost, true
	}
	if c == nil || c.pricingService == nil || rec.Model == "" {
		return 0, false
	}

	cost, err := c.pricingService.Cost(ctx, rec.Model, rec.Tokens)
	if err != nil {
		if !c.warned[rec.Model] {
			c.warned[rec.Model] = true
			entry := c.logger.WithField("model", rec.Model)
			if errors.Is(err, types.ErrUnknownModel) {
				entry.Debug("No pricing for model")
			} else {
				entry.WithError(err).Warn("Pricing lookup failed")
			}
		}
		return 0, false
	}
	return cost, true
}
