// Package validation checks a pricing decision against cross-channel and
// operational rules before it is executed.
package validation

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"pricesync/backend/internal/decision"
	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
)

const (
	CheckPVPM            = "pvpm"
	CheckStorefrontOffer = "storefront_offer"
	CheckCrossChannel    = "cross_channel"
	CheckOperatingHours  = "operating_hours"
	CheckAutoUpdate      = "auto_update"
	CheckSignificance    = "significance"
)

const (
	ReasonOutsideHours      = "outside operating hours"
	ReasonAutoUpdateOff     = "auto update disabled"
	ReasonNotSignificant    = "not significant"
	crossChannelFactor      = 0.96
	minSignificantPriceMove = 0.01
)

type Validator struct {
	loc *time.Location
	log *zap.Logger
}

// New returns a validator that evaluates operating hours in loc (UTC when nil).
func New(loc *time.Location, log *zap.Logger) *Validator {
	if loc == nil {
		loc = time.UTC
	}
	return &Validator{loc: loc, log: logging.OrNop(log)}
}

func (v *Validator) Validate(d domain.Decision, p domain.Product, cfg domain.PricingConfig, trig domain.TriggerContext, now time.Time) domain.ValidationResult {
	res := domain.ValidationResult{
		IsValid:  true,
		Warnings: []domain.ValidationIssue{},
		Errors:   []domain.ValidationIssue{},
		Checks:   make(map[string]domain.CheckResult, 6),
	}
	forced := trig.Force || trig.Urgency == domain.UrgencyCritical

	v.checkPVPM(&res, d)
	checkStorefrontOffer(&res, d, p)
	checkCrossChannel(&res, d, p)
	checkOperatingHours(&res, cfg.OperatingHours, now.In(v.loc), forced)
	checkAutoUpdate(&res, p, forced)
	checkSignificance(&res, d, cfg.Competitor.MinPriceDifference)

	return res
}

func (v *Validator) checkPVPM(res *domain.ValidationResult, d domain.Decision) {
	if d.FinalPrice >= d.PVPM {
		res.Checks[CheckPVPM] = domain.CheckResult{Passed: true}
		return
	}
	msg := fmt.Sprintf("final price %.2f is below PVPM %.2f", d.FinalPrice, d.PVPM)
	res.IsValid = false
	res.Errors = append(res.Errors, domain.ValidationIssue{Check: CheckPVPM, Severity: domain.PriorityCritical, Message: msg})
	res.Checks[CheckPVPM] = domain.CheckResult{Passed: false, Message: msg}
	v.log.Error("decision violates pvpm floor",
		zap.String("product_id", d.ProductID),
		zap.String("strategy", d.Strategy),
		zap.Float64("final_price", d.FinalPrice),
		zap.Float64("pvpm", d.PVPM),
	)
}

func checkStorefrontOffer(res *domain.ValidationResult, d domain.Decision, p domain.Product) {
	if !p.InOfferMode() || p.StorefrontPrice == nil {
		res.Checks[CheckStorefrontOffer] = domain.CheckResult{Passed: true, Message: "not in storefront offer mode"}
		return
	}
	required := *p.StorefrontPrice * decision.StorefrontOfferFactor
	if d.FinalPrice >= required-1e-9 {
		res.Checks[CheckStorefrontOffer] = domain.CheckResult{Passed: true}
		return
	}
	msg := fmt.Sprintf("final price %.2f is below storefront offer requirement %.2f", d.FinalPrice, required)
	res.Warnings = append(res.Warnings, domain.ValidationIssue{Check: CheckStorefrontOffer, Severity: domain.PriorityHigh, Message: msg})
	res.Checks[CheckStorefrontOffer] = domain.CheckResult{Passed: false, Message: msg}
}

func checkCrossChannel(res *domain.ValidationResult, d domain.Decision, p domain.Product) {
	if p.StorefrontPrice == nil {
		res.Checks[CheckCrossChannel] = domain.CheckResult{Passed: true, Message: "no storefront price"}
		return
	}
	limit := d.FinalPrice * crossChannelFactor
	if *p.StorefrontPrice <= limit+1e-9 {
		res.Checks[CheckCrossChannel] = domain.CheckResult{Passed: true}
		return
	}
	msg := fmt.Sprintf("storefront price %.2f exceeds %.2f (96%% of final price)", *p.StorefrontPrice, limit)
	res.Warnings = append(res.Warnings, domain.ValidationIssue{Check: CheckCrossChannel, Severity: domain.PriorityCritical, Message: msg})
	res.Checks[CheckCrossChannel] = domain.CheckResult{Passed: false, Message: msg}
}

func checkOperatingHours(res *domain.ValidationResult, hours domain.OperatingHours, now time.Time, forced bool) {
	if WithinOperatingHours(hours, now) {
		res.Checks[CheckOperatingHours] = domain.CheckResult{Passed: true}
		return
	}
	if forced {
		res.Checks[CheckOperatingHours] = domain.CheckResult{Passed: true, Message: "outside operating hours, forced"}
		return
	}
	block(res, CheckOperatingHours, ReasonOutsideHours)
}

func checkAutoUpdate(res *domain.ValidationResult, p domain.Product, forced bool) {
	if p.Pricing.AutoUpdateEnabled {
		res.Checks[CheckAutoUpdate] = domain.CheckResult{Passed: true}
		return
	}
	if forced {
		res.Checks[CheckAutoUpdate] = domain.CheckResult{Passed: true, Message: "auto update disabled, forced"}
		return
	}
	block(res, CheckAutoUpdate, ReasonAutoUpdateOff)
}

// checkSignificance blocks moves smaller than the configured minimum price
// difference, never less than one cent.
func checkSignificance(res *domain.ValidationResult, d domain.Decision, minDifference float64) {
	minDifference = math.Max(minDifference, minSignificantPriceMove)
	if math.Abs(d.FinalPrice-d.CurrentPrice) >= minDifference-1e-9 {
		res.Checks[CheckSignificance] = domain.CheckResult{Passed: true}
		return
	}
	block(res, CheckSignificance, ReasonNotSignificant)
}

// block keeps the first blocking reason; later blocks are still recorded per check.
func block(res *domain.ValidationResult, check string, reason string) {
	if !res.Blocked {
		res.Blocked = true
		res.BlockingReason = reason
	}
	res.Checks[check] = domain.CheckResult{Passed: false, Message: reason}
}

// WithinOperatingHours reports whether now falls in [Start, End). A window
// with Start > End wraps past midnight; Start == End means always open.
func WithinOperatingHours(hours domain.OperatingHours, now time.Time) bool {
	if hours.Start == hours.End {
		return true
	}
	h := now.Hour()
	if hours.Start < hours.End {
		return h >= hours.Start && h < hours.End
	}
	return h >= hours.Start || h < hours.End
}
