// Package pvpm computes the minimum viable sale price of a product from its
// cost inputs and the active pricing configuration.
package pvpm

import (
	"errors"

	"github.com/shopspring/decimal"

	"pricesync/backend/internal/domain"
)

var (
	ErrInvalidCost   = errors.New("invalid cost: must be greater than zero")
	ErrInvalidMargin = errors.New("invalid margin: must be within (0, 1]")
)

type Input struct {
	Cost               float64
	CustomCost         *float64
	Margin             *float64
	CustomShippingCost *float64
	Weight             float64
}

func InputFromRecord(pr domain.PricingRecord) Input {
	return Input{
		Cost:               pr.Cost,
		CustomCost:         pr.CustomCost,
		Margin:             pr.Margin,
		CustomShippingCost: pr.CustomShippingCost,
		Weight:             pr.Weight,
	}
}

func Calculate(in Input, cfg domain.PricingConfig) (domain.PVPMBreakdown, error) {
	cost := in.Cost
	if in.CustomCost != nil {
		cost = *in.CustomCost
	}
	if cost <= 0 {
		return domain.PVPMBreakdown{}, ErrInvalidCost
	}

	margin := cfg.GlobalMargin
	if in.Margin != nil {
		margin = *in.Margin
	}
	if margin <= 0 || margin > 1 {
		return domain.PVPMBreakdown{}, ErrInvalidMargin
	}

	shipping := ShippingCost(in.Weight, cfg)
	if in.CustomShippingCost != nil && *in.CustomShippingCost >= 0 {
		shipping = *in.CustomShippingCost
	}

	dCost := decimal.NewFromFloat(cost)
	base := dCost.Div(decimal.NewFromFloat(margin))
	withTax := base.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(cfg.TaxRate)))
	total := withTax.Add(decimal.NewFromFloat(shipping))

	return domain.PVPMBreakdown{
		Cost:         cost,
		Margin:       margin,
		BasePrice:    Round(base.InexactFloat64()),
		TaxRate:      cfg.TaxRate,
		PriceWithTax: Round(withTax.InexactFloat64()),
		ShippingCost: Round(shipping),
		PVPM:         total.Round(2).InexactFloat64(),
	}, nil
}

// ShippingCost resolves the tier cost for weight, falling back to the default
// shipping cost when there is no usable weight or no tier table.
func ShippingCost(weight float64, cfg domain.PricingConfig) float64 {
	cost, ok := tierCost(weight, cfg.ShippingTiers, cfg.ExtraWeightCostPerKg)
	if !ok {
		return cfg.DefaultShippingCost
	}
	return cost
}

func tierCost(weight float64, tiers []domain.WeightTier, extraPerKg float64) (float64, bool) {
	if weight <= 0 || len(tiers) == 0 {
		return 0, false
	}
	for _, tier := range tiers {
		if tier.MaxWeight >= weight {
			return tier.Cost, true
		}
	}
	last := tiers[len(tiers)-1]
	extra := decimal.NewFromFloat(weight).Sub(decimal.NewFromFloat(last.MaxWeight)).Mul(decimal.NewFromFloat(extraPerKg))
	return decimal.NewFromFloat(last.Cost).Add(extra).Round(2).InexactFloat64(), true
}

// Round rounds a money amount to 2 decimals, half away from zero.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
