package service

import (
	"context"
	"fmt"
	"strings"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/pvpm"
	"pricesync/backend/internal/store"
)

const maxReasonLength = 280

// SetFixedPrice pins a manual price. The decision engine still enforces the
// PVPM floor on it.
func (s *Pipeline) SetFixedPrice(ctx context.Context, productID string, req domain.FixedPriceRequest) (*domain.Product, error) {
	if req.Price == nil || *req.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", store.ErrInvalidInput)
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxReasonLength {
		return nil, fmt.Errorf("%w: reason too long", store.ErrInvalidInput)
	}
	actor := actorOrSystem(ctx)
	price := pvpm.Round(*req.Price)

	return s.patch(ctx, productID, func(p *domain.Product) error {
		now := s.now().UTC()
		p.Pricing.FixedPrice = &price
		p.Pricing.FixedPriceReason = reason
		p.Pricing.FixedPriceSetBy = actor.String()
		p.Pricing.FixedPriceSetAt = &now
		return nil
	})
}

func (s *Pipeline) ClearFixedPrice(ctx context.Context, productID string) (*domain.Product, error) {
	return s.patch(ctx, productID, func(p *domain.Product) error {
		p.Pricing.FixedPrice = nil
		p.Pricing.FixedPriceReason = ""
		p.Pricing.FixedPriceSetBy = ""
		p.Pricing.FixedPriceSetAt = nil
		return nil
	})
}

func (s *Pipeline) SetAutoUpdate(ctx context.Context, productID string, req domain.AutoUpdateRequest) (*domain.Product, error) {
	return s.patch(ctx, productID, func(p *domain.Product) error {
		p.Pricing.AutoUpdateEnabled = req.Enabled
		return nil
	})
}

// UpdateCostInputs edits the PVPM inputs and recomputes the PVPM in the same
// write. Inputs the calculator rejects are still stored; the PVPM is zeroed
// and the detector raises the matching action.
func (s *Pipeline) UpdateCostInputs(ctx context.Context, productID string, req domain.CostInputsRequest) (*domain.Product, error) {
	if err := validateCostInputs(req); err != nil {
		return nil, err
	}
	cfg := s.config.Current()

	return s.patch(ctx, productID, func(p *domain.Product) error {
		pr := &p.Pricing
		if req.Cost != nil {
			pr.Cost = *req.Cost
		}
		if req.Weight != nil {
			pr.Weight = *req.Weight
		}
		switch {
		case req.ClearCustomCost:
			pr.CustomCost = nil
		case req.CustomCost != nil:
			pr.CustomCost = floatPtr(*req.CustomCost)
		}
		switch {
		case req.ClearMargin:
			pr.Margin = nil
		case req.Margin != nil:
			pr.Margin = floatPtr(*req.Margin)
		}
		switch {
		case req.ClearShipping:
			pr.CustomShippingCost = nil
		case req.CustomShippingCost != nil:
			pr.CustomShippingCost = floatPtr(*req.CustomShippingCost)
		}

		breakdown, err := pvpm.Calculate(pvpm.InputFromRecord(*pr), cfg)
		if err != nil {
			pr.PVPM = 0
			pr.PVPMBreakdown = domain.PVPMBreakdown{}
			return nil
		}
		now := s.now().UTC()
		pr.PVPM = breakdown.PVPM
		pr.PVPMBreakdown = breakdown
		pr.PVPMCalculatedAt = &now
		return nil
	})
}

func validateCostInputs(req domain.CostInputsRequest) error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s", store.ErrInvalidInput, msg)
	}
	if req.Cost != nil && *req.Cost < 0 {
		return invalid("cost must not be negative")
	}
	if req.Weight != nil && *req.Weight < 0 {
		return invalid("weight must not be negative")
	}
	if req.CustomCost != nil {
		if req.ClearCustomCost {
			return invalid("custom_cost and clear_custom_cost are exclusive")
		}
		if *req.CustomCost <= 0 {
			return invalid("custom_cost must be positive")
		}
	}
	if req.Margin != nil {
		if req.ClearMargin {
			return invalid("margin and clear_margin are exclusive")
		}
		if *req.Margin <= 0 || *req.Margin > 1 {
			return invalid("margin must be in (0, 1]")
		}
	}
	if req.CustomShippingCost != nil {
		if req.ClearShipping {
			return invalid("custom_shipping_cost and clear_custom_shipping are exclusive")
		}
		if *req.CustomShippingCost < 0 {
			return invalid("custom_shipping_cost must not be negative")
		}
	}
	return nil
}

// patch applies fn under the product lock and reconciles pending actions
// against the result.
func (s *Pipeline) patch(ctx context.Context, productID string, fn store.PricingMutator) (*domain.Product, error) {
	unlock := s.locks.Lock(productID)
	defer unlock()

	updated, err := s.products.UpdatePricing(ctx, productID, fn)
	if err != nil {
		return nil, err
	}
	s.detect(ctx, *updated)
	return updated, nil
}

func floatPtr(v float64) *float64 {
	return &v
}
