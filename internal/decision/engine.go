// Package decision selects a pricing strategy for a product and enforces the
// PVPM floor on whatever candidate the strategy produces.
package decision

import (
	"fmt"
	"time"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/pvpm"
)

const (
	// StorefrontOfferFactor is the markup the marketplace price must keep over
	// the storefront price (tax included).
	StorefrontOfferFactor = 1.04
	floorPenalty          = 30
)

const (
	PriceSourceFixed      = "fixed_price"
	PriceSourcePVPM       = "pvpm"
	PriceSourceCompetitor = "competitor"
)

const (
	RecommendationPricingFloor = "pricing_floor"
	RecommendationCrossChannel = "cross_channel"
	RecommendationCompetition  = "competition"
	RecommendationData         = "data"
)

type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Decide is stateless: every call evaluates the product from scratch. The
// returned price is never below the product's PVPM.
func (e *Engine) Decide(p domain.Product, cfg domain.PricingConfig, trig domain.TriggerContext) domain.Decision {
	floor := p.Pricing.PVPM
	d := domain.Decision{
		ProductID:       p.ID,
		PVPM:            floor,
		CurrentPrice:    p.Price,
		DecidedAt:       e.now().UTC(),
		Recommendations: []domain.Recommendation{},
		Metadata: map[string]any{
			"trigger": trig.Type,
			"urgency": trig.Urgency,
		},
	}

	switch {
	case p.Pricing.FixedPrice != nil:
		fixedPriceStrategy(&d, p)
	case p.InOfferMode():
		storefrontOfferStrategy(&d, p)
	case p.Pricing.CompetitorPrice != nil:
		competitorStrategy(&d, p, cfg)
	default:
		fallbackStrategy(&d)
	}

	applyFloor(&d)
	return d
}

func fixedPriceStrategy(d *domain.Decision, p domain.Product) {
	fixed := pvpm.Round(*p.Pricing.FixedPrice)
	d.Strategy = domain.StrategyFixedPrice
	d.PriceSource = PriceSourceFixed
	d.FinalPrice = fixed
	d.Confidence = 100
	d.Reasoning = fmt.Sprintf("fixed price %.2f", fixed)
	if p.Pricing.FixedPriceReason != "" {
		d.Reasoning += " (" + p.Pricing.FixedPriceReason + ")"
	}
	if p.Pricing.FixedPriceSetBy != "" {
		d.Metadata["fixedPriceSetBy"] = p.Pricing.FixedPriceSetBy
	}
	if fixed < d.PVPM {
		d.Recommendations = append(d.Recommendations, domain.Recommendation{
			Type:     RecommendationPricingFloor,
			Priority: domain.PriorityMedium,
			Message:  fmt.Sprintf("fixed price %.2f is below PVPM %.2f; review the override", fixed, d.PVPM),
		})
	}
}

func storefrontOfferStrategy(d *domain.Decision, p domain.Product) {
	d.Strategy = domain.StrategyStorefrontOffer
	d.PriceSource = PriceSourcePVPM
	d.FinalPrice = d.PVPM
	d.Reasoning = "storefront offer active: marketplace carries the full PVPM"

	if p.StorefrontPrice == nil {
		d.Confidence = 50
		d.Recommendations = append(d.Recommendations, domain.Recommendation{
			Type:     RecommendationData,
			Priority: domain.PriorityMedium,
			Message:  "storefront offer flagged but storefront price is unknown",
		})
		return
	}

	required := pvpm.Round(*p.StorefrontPrice * StorefrontOfferFactor)
	d.Metadata["storefrontPrice"] = *p.StorefrontPrice
	d.Metadata["requiredChannelPrice"] = required
	if d.PVPM < required {
		d.Confidence = 30
		d.Recommendations = append(d.Recommendations, domain.Recommendation{
			Type:     RecommendationCrossChannel,
			Priority: domain.PriorityCritical,
			Message: fmt.Sprintf("PVPM %.2f is below the required marketplace price %.2f (storefront %.2f + 4%%); raise the marketplace price or end the storefront offer",
				d.PVPM, required, *p.StorefrontPrice),
		})
		return
	}
	d.Confidence = 90
}

func competitorStrategy(d *domain.Decision, p domain.Product, cfg domain.PricingConfig) {
	competitor := *p.Pricing.CompetitorPrice
	d.PriceSource = PriceSourceCompetitor
	d.Metadata["competitorPrice"] = competitor

	if p.Pricing.CompetitorData.HasBuybox {
		target := pvpm.Round(competitor + cfg.Competitor.BuyboxDifference)
		d.Strategy = domain.StrategyCompetitorBuybox
		d.Reasoning = fmt.Sprintf("holding buy-box: competitor %.2f + %.2f", competitor, cfg.Competitor.BuyboxDifference)
		if target < d.PVPM {
			d.FinalPrice = d.PVPM
			d.Confidence = 60
			d.Reasoning += fmt.Sprintf(", floored at PVPM %.2f", d.PVPM)
			return
		}
		d.FinalPrice = target
		d.Confidence = 80
		return
	}

	target := pvpm.Round(competitor - cfg.Competitor.FallbackDifference)
	d.Strategy = domain.StrategyCompetitorChase
	d.Reasoning = fmt.Sprintf("chasing buy-box: competitor %.2f - %.2f", competitor, cfg.Competitor.FallbackDifference)
	if target < d.PVPM {
		d.FinalPrice = d.PVPM
		d.Confidence = 40
		d.Reasoning += fmt.Sprintf(", floored at PVPM %.2f", d.PVPM)
		d.Recommendations = append(d.Recommendations, domain.Recommendation{
			Type:     RecommendationCompetition,
			Priority: domain.PriorityHigh,
			Message:  fmt.Sprintf("PVPM %.2f prevents competing with %.2f; review cost or margin", d.PVPM, competitor),
		})
		return
	}
	d.FinalPrice = target
	d.Confidence = 80
}

func fallbackStrategy(d *domain.Decision) {
	d.Strategy = domain.StrategyFallback
	d.PriceSource = PriceSourcePVPM
	d.FinalPrice = d.PVPM
	d.Confidence = 70
	d.Reasoning = "no competitor data: pricing at PVPM"
	d.Recommendations = append(d.Recommendations, domain.Recommendation{
		Type:     RecommendationData,
		Priority: domain.PriorityLow,
		Message:  "acquire competitor data to price competitively",
	})
}

// applyFloor runs after every strategy, fixed price included.
func applyFloor(d *domain.Decision) {
	if d.FinalPrice >= d.PVPM {
		return
	}
	d.Metadata["originalDecision"] = map[string]any{
		"strategy":    d.Strategy,
		"finalPrice":  d.FinalPrice,
		"priceSource": d.PriceSource,
		"confidence":  d.Confidence,
		"reasoning":   d.Reasoning,
	}
	d.Reasoning = fmt.Sprintf("%s; raised to PVPM %.2f", d.Reasoning, d.PVPM)
	d.Strategy = domain.StrategyPVPMOverride
	d.PriceSource = PriceSourcePVPM
	d.FinalPrice = d.PVPM
	d.Confidence -= floorPenalty
	if d.Confidence < 0 {
		d.Confidence = 0
	}
}
