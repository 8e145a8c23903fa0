package pendingaction

import (
	"fmt"

	"pricesync/backend/internal/decision"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/pvpm"
)

const (
	minCustomMargin   = 0.1
	maxCustomMargin   = 0.9
	crossChannelRatio = 0.96
)

// Draft is the detector's view of one currently-true anomaly.
type Draft struct {
	ActionType  string
	Priority    string
	Title       string
	Description string
	Data        map[string]any
}

type check func(p domain.Product, tolerance float64) *Draft

var checks = []check{
	checkMissingCost,
	checkMissingWeight,
	checkInvalidMargin,
	checkWebOfferConflict,
	checkAmazonCheaperThanWeb,
	checkPVPMWarning,
	checkFixedPriceBelowPVPM,
	checkSyncError,
	checkMissingAmazonData,
	checkCompetitorAlert,
}

// Evaluate runs every check against p. tolerance is the PVPM warning band,
// e.g. 0.05 for prices within 5% above PVPM.
func Evaluate(p domain.Product, tolerance float64) []Draft {
	drafts := make([]Draft, 0, 4)
	for _, c := range checks {
		if d := c(p, tolerance); d != nil {
			drafts = append(drafts, *d)
		}
	}
	return drafts
}

func checkMissingCost(p domain.Product, _ float64) *Draft {
	pr := p.Pricing
	if pr.CustomCost != nil && *pr.CustomCost > 0 {
		return nil
	}
	if pr.Cost > 0 {
		return nil
	}
	return &Draft{
		ActionType:  domain.ActionMissingCost,
		Priority:    domain.PriorityCritical,
		Title:       "Missing cost",
		Description: fmt.Sprintf("%s has cost %.2f; PVPM cannot be calculated until a cost is set", p.SKU, pr.Cost),
		Data:        map[string]any{"currentCost": pr.Cost},
	}
}

func checkMissingWeight(p domain.Product, _ float64) *Draft {
	pr := p.Pricing
	if pr.Weight > 0 || pr.CustomShippingCost != nil {
		return nil
	}
	return &Draft{
		ActionType:  domain.ActionMissingWeight,
		Priority:    domain.PriorityHigh,
		Title:       "Missing weight",
		Description: fmt.Sprintf("%s has no weight and no shipping override; default shipping cost is used", p.SKU),
		Data:        map[string]any{"currentWeight": pr.Weight},
	}
}

func checkInvalidMargin(p domain.Product, _ float64) *Draft {
	m := p.Pricing.Margin
	if m == nil || (*m >= minCustomMargin && *m <= maxCustomMargin) {
		return nil
	}
	return &Draft{
		ActionType:  domain.ActionInvalidMargin,
		Priority:    domain.PriorityHigh,
		Title:       "Custom margin out of range",
		Description: fmt.Sprintf("%s has custom margin %.2f, expected between %.2f and %.2f", p.SKU, *m, minCustomMargin, maxCustomMargin),
		Data:        map[string]any{"margin": *m, "min": minCustomMargin, "max": maxCustomMargin},
	}
}

func checkWebOfferConflict(p domain.Product, _ float64) *Draft {
	if !p.InOfferMode() || p.StorefrontPrice == nil {
		return nil
	}
	required := *p.StorefrontPrice * decision.StorefrontOfferFactor
	if p.Price >= required-1e-9 {
		return nil
	}
	return &Draft{
		ActionType: domain.ActionWebOfferConflict,
		Priority:   domain.PriorityCritical,
		Title:      "Storefront offer conflict",
		Description: fmt.Sprintf("%s is on storefront offer at %.2f; marketplace price %.2f must be at least %.2f",
			p.SKU, *p.StorefrontPrice, p.Price, required),
		Data: map[string]any{"webPrice": *p.StorefrontPrice, "amazonPrice": p.Price, "requiredPrice": pvpm.Round(required)},
	}
}

func checkAmazonCheaperThanWeb(p domain.Product, _ float64) *Draft {
	if p.InOfferMode() || p.StorefrontPrice == nil {
		return nil
	}
	limit := p.Price * crossChannelRatio
	if *p.StorefrontPrice <= limit+1e-9 {
		return nil
	}
	return &Draft{
		ActionType: domain.ActionAmazonCheaperThanWeb,
		Priority:   domain.PriorityHigh,
		Title:      "Marketplace cheaper than storefront",
		Description: fmt.Sprintf("%s storefront price %.2f exceeds %.2f (96%% of marketplace price %.2f)",
			p.SKU, *p.StorefrontPrice, limit, p.Price),
		Data: map[string]any{"webPrice": *p.StorefrontPrice, "amazonPrice": p.Price, "maxWebPrice": pvpm.Round(limit)},
	}
}

func checkPVPMWarning(p domain.Product, tolerance float64) *Draft {
	floor := p.Pricing.PVPM
	if floor <= 0 || p.Price <= 0 {
		return nil
	}
	threshold := floor * (1 + tolerance)
	switch {
	case p.Price < floor:
		return &Draft{
			ActionType:  domain.ActionPVPMWarning,
			Priority:    domain.PriorityHigh,
			Title:       "Price below PVPM",
			Description: fmt.Sprintf("%s is priced at %.2f, below its PVPM %.2f", p.SKU, p.Price, floor),
			Data:        map[string]any{"currentPrice": p.Price, "pvpm": floor, "threshold": pvpm.Round(threshold)},
		}
	case p.Price < threshold:
		return &Draft{
			ActionType:  domain.ActionPVPMWarning,
			Priority:    domain.PriorityMedium,
			Title:       "Price close to PVPM",
			Description: fmt.Sprintf("%s is priced at %.2f, within %.0f%% of its PVPM %.2f", p.SKU, p.Price, tolerance*100, floor),
			Data:        map[string]any{"currentPrice": p.Price, "pvpm": floor, "threshold": pvpm.Round(threshold)},
		}
	}
	return nil
}

func checkFixedPriceBelowPVPM(p domain.Product, _ float64) *Draft {
	fixed := p.Pricing.FixedPrice
	if fixed == nil || p.Pricing.PVPM <= 0 || *fixed >= p.Pricing.PVPM {
		return nil
	}
	return &Draft{
		ActionType:  domain.ActionFixedPriceBelowPVPM,
		Priority:    domain.PriorityMedium,
		Title:       "Fixed price below PVPM",
		Description: fmt.Sprintf("%s has fixed price %.2f below PVPM %.2f; the PVPM is applied instead", p.SKU, *fixed, p.Pricing.PVPM),
		Data:        map[string]any{"fixedPrice": *fixed, "pvpm": p.Pricing.PVPM, "reason": p.Pricing.FixedPriceReason},
	}
}

// checkSyncError covers both the ERP sync flag and a channel submit that left
// the product in manual review.
func checkSyncError(p domain.Product, _ float64) *Draft {
	review := p.Pricing.PricingStatus == domain.PricingStatusManualReview
	if !p.SyncError && !review {
		return nil
	}
	msg := p.SyncErrorMessage
	if msg == "" && review {
		msg = p.Pricing.PricingStatusMessage
	}
	if msg == "" {
		msg = "unknown error"
	}
	return &Draft{
		ActionType:  domain.ActionSyncError,
		Priority:    domain.PriorityHigh,
		Title:       "Channel sync error",
		Description: fmt.Sprintf("%s failed to sync: %s", p.SKU, msg),
		Data:        map[string]any{"error": msg},
	}
}

func checkMissingAmazonData(p domain.Product, _ float64) *Draft {
	if p.ASIN != "" {
		return nil
	}
	return &Draft{
		ActionType:  domain.ActionMissingAmazonData,
		Priority:    domain.PriorityLow,
		Title:       "Missing marketplace listing",
		Description: fmt.Sprintf("%s has no marketplace listing id; competitor monitoring is disabled", p.SKU),
		Data:        map[string]any{},
	}
}

func checkCompetitorAlert(p domain.Product, _ float64) *Draft {
	if p.Pricing.PricingStatus != domain.PricingStatusCompetitorAlert {
		return nil
	}
	data := map[string]any{"message": p.Pricing.PricingStatusMessage}
	if cp := p.Pricing.CompetitorPrice; cp != nil {
		data["competitorPrice"] = *cp
	}
	return &Draft{
		ActionType:  domain.ActionCompetitorAlert,
		Priority:    domain.PriorityHigh,
		Title:       "Competitor alert",
		Description: fmt.Sprintf("%s: %s", p.SKU, p.Pricing.PricingStatusMessage),
		Data:        data,
	}
}
